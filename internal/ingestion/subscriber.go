package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ReserveBank/internal/core"
	"ReserveBank/internal/event"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/observability"
)

// Executor applies a parsed command. *core.Engine implements it.
type Executor interface {
	Execute(evt event.Event) (*core.Result, error)
}

// CommandSubscriber consumes reservebank.commands.> and applies each
// command to the engine. Messages are acknowledged only after the engine
// has answered, so a crash before that leads to redelivery, which the
// request id turns into a no-op.
type CommandSubscriber struct {
	js        jetstream.JetStream
	exec      Executor
	rawChan   chan RawCommand
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewCommandSubscriber(js jetstream.JetStream, exec Executor, buffer int, metrics *observability.Metrics) *CommandSubscriber {
	if buffer <= 0 {
		buffer = 1024
	}
	return &CommandSubscriber{
		js:      js,
		exec:    exec,
		rawChan: make(chan RawCommand, buffer),
		metrics: metrics,
		logger:  observability.NewLogger("ingestion"),
	}
}

// Subscribe creates the durable consumer. Consumers use explicit ack,
// max_deliver=5 and ack_wait=30s.
func (s *CommandSubscriber) Subscribe(ctx context.Context, durable string) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: CommandSubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			AckFunc:  func() { _ = msg.Ack() },
			NakFunc:  func() { _ = msg.Nak() },
			TermFunc: func() { _ = msg.Term() },
		}
		// Blocking send: a slow engine pushes back on the consumer.
		select {
		case s.rawChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", durable, err)
	}

	s.consumers = append(s.consumers, cc)
	s.logger.Info().Str("consumer", durable).Str("subject", CommandSubjectPrefix+".>").Msg("subscribed")
	return nil
}

// Run applies queued commands until ctx is cancelled.
func (s *CommandSubscriber) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-s.rawChan:
			s.Handle(raw)
		}
	}
}

// Handle parses and applies one command, then settles the message:
//
//	applied or duplicate      -> ack
//	malformed or rejected     -> term, redelivery cannot change the answer
//	engine not ready, unknown -> nak
func (s *CommandSubscriber) Handle(raw RawCommand) {
	command := "unknown"
	if kind, err := KindFromSubject(raw.Subject); err == nil {
		command = kind.String()
	}

	evt, err := ParseRawCommand(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		s.settle(raw.TermFunc, command, "malformed")
		return
	}

	res, err := s.exec.Execute(evt)
	switch {
	case err == nil && res.Duplicate:
		s.settle(raw.AckFunc, command, "duplicate")
	case err == nil:
		if s.metrics != nil {
			s.metrics.IngestToApply.WithLabelValues(command).Observe(time.Since(raw.Received).Seconds())
		}
		s.settle(raw.AckFunc, command, "applied")
	case isRejection(err):
		s.logger.Info().Err(err).Str("command", command).Str("request_id", evt.IdempotencyKey()).Msg("command rejected")
		s.settle(raw.TermFunc, command, "rejected")
	default:
		s.logger.Warn().Err(err).Str("command", command).Str("request_id", evt.IdempotencyKey()).Msg("command not applied, will retry")
		s.settle(raw.NakFunc, command, "retry")
	}
}

// Stop stops all consumers.
func (s *CommandSubscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.logger.Info().Msg("command subscribers stopped")
}

func (s *CommandSubscriber) settle(fn func(), command, outcome string) {
	if fn != nil {
		fn()
	}
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues(command, outcome).Inc()
	}
}

func isRejection(err error) bool {
	return errors.Is(err, ledger.ErrInsufficientBalance) ||
		errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, ledger.ErrInvalidAccount)
}
