package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"ReserveBank/internal/observability"
)

func TestHealth_NotReadyUntilSet(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
}

func TestHealth_FailingCheckDegrades(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)
	h.AddCheck("store", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck("nats", func(ctx context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status: got %q", body.Status)
	}
	if _, ok := body.Checks["store"]; !ok {
		t.Error("store failure missing from body")
	}
	if _, ok := body.Checks["nats"]; ok {
		t.Error("passing check reported as failure")
	}
}

func TestHealth_LivenessAlwaysOK(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
}

func TestMetrics_IsolatedRegistry(t *testing.T) {
	// Two instances on separate registries must not collide.
	m1 := observability.NewMetrics(prometheus.NewRegistry())
	m2 := observability.NewMetrics(prometheus.NewRegistry())

	m1.CoreEventsApplied.WithLabelValues("transfer").Inc()
	if got := promtest.ToFloat64(m1.CoreEventsApplied.WithLabelValues("transfer")); got != 1 {
		t.Errorf("m1: got %v, want 1", got)
	}
	if got := promtest.ToFloat64(m2.CoreEventsApplied.WithLabelValues("transfer")); got != 0 {
		t.Errorf("m2: got %v, want 0", got)
	}
}

func TestMetrics_ChannelUtilization(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	m.SetChannelMetrics("persist", 25, 100)
	if got := promtest.ToFloat64(m.ChannelUtilization.WithLabelValues("persist")); got != 0.25 {
		t.Errorf("got %v, want 0.25", got)
	}
}

func TestLogger_ComponentAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "engine", zerolog.WarnLevel)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "engine" {
		t.Errorf("component: got %v", line["component"])
	}
	if line["message"] != "shown" {
		t.Errorf("message: got %v", line["message"])
	}
}

func TestParseLogLevel(t *testing.T) {
	if observability.ParseLogLevel("debug") != zerolog.DebugLevel {
		t.Error("debug")
	}
	if observability.ParseLogLevel("bogus") != zerolog.InfoLevel {
		t.Error("unknown levels should default to info")
	}
}
