package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"ReserveBank/internal/core"
	"ReserveBank/internal/observability"
)

// JetStreamPublisher is the part of jetstream.JetStream the publisher uses.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// BreakerSettings tunes the circuit breaker in front of the sink.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Publisher hands notifications to the external sink, one message per
// applied operation on reservebank.events.<kind>. The sink is best effort:
// while it is failing the breaker opens and notifications are dropped
// rather than stalling the ledger. The event log stays authoritative.
type Publisher struct {
	js        JetStreamPublisher
	inputChan <-chan core.Output
	breaker   *gobreaker.CircuitBreaker
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewPublisher(js JetStreamPublisher, inputChan <-chan core.Output, settings BreakerSettings, metrics *observability.Metrics) *Publisher {
	p := &Publisher{
		js:        js,
		inputChan: inputChan,
		timeout:   5 * time.Second,
		metrics:   metrics,
		logger:    observability.NewLogger("publisher"),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-sink",
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			p.setBreakerGauge(to)
		},
	})
	p.setBreakerGauge(gobreaker.StateClosed)
	return p
}

// Run publishes until the input closes or ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, out); err != nil {
				p.logger.Warn().Err(err).Int64("seq", out.Envelope.Sequence).Msg("notification not published")
			}
		}
	}
}

// Publish sends one notification. The event id doubles as the JetStream
// message id so a retried publish is deduplicated by the stream.
func (p *Publisher) Publish(ctx context.Context, out core.Output) error {
	n := out.Notification
	kind := n.Kind.String()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return p.js.Publish(pubCtx, n.Subject(), out.Envelope.Payload, jetstream.WithMsgID(n.EventID.String()))
	})

	outcome := "published"
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "breaker_open"
		err = fmt.Errorf("sink unavailable: %w", err)
	default:
		outcome = "failed"
	}
	if p.metrics != nil {
		p.metrics.PublishTotal.WithLabelValues(kind, outcome).Inc()
	}
	return err
}

// State returns the breaker state, for health reporting.
func (p *Publisher) State() gobreaker.State {
	return p.breaker.State()
}

func (p *Publisher) setBreakerGauge(s gobreaker.State) {
	if p.metrics == nil {
		return
	}
	var v float64
	switch s {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	p.metrics.BreakerState.WithLabelValues("notification-sink").Set(v)
}
