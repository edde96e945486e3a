package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quakenotify/pkg/bus"
	"quakenotify/pkg/config"
	"quakenotify/pkg/dispatch"
	"quakenotify/pkg/failure"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, b *bus.Bus, name string) *dispatch.Worker {
	t.Helper()

	worker, err := dispatch.NewWorker(&stubChannel{name: name, target: &recordingTarget{}}, b, nil, dispatch.Options{}, quietLogger())
	if err != nil {
		t.Fatalf("NewWorker error: %v", err)
	}
	return worker
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	b := bus.New()
	defer b.Close()

	svc := &Service{
		sourceStates: map[string]sourceState{"udp": {Running: false}},
		workers:      []*dispatch.Worker{newTestWorker(t, b, "line_notify")},
	}
	if svc.isReady() {
		t.Fatal("expected not ready while source is down")
	}

	svc.sourceStates["udp"] = sourceState{Running: true}
	if !svc.isReady() {
		t.Fatal("expected ready with running source and idle worker")
	}

	svc.workers = nil
	if svc.isReady() {
		t.Fatal("expected not ready without live workers")
	}
}

func TestStatusHandlers(t *testing.T) {
	t.Parallel()

	b := bus.New()
	defer b.Close()

	svc, err := NewService(&config.Config{}, b, nil, []*dispatch.Worker{newTestWorker(t, b, "pushover")}, quietLogger())
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	svc.lastDeliveryAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/readyz status = %d, want %d", rec.Code, http.StatusOK)
	}

	var payload statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.Status != "ready" {
		t.Fatalf("status = %q, want ready", payload.Status)
	}
	if payload.LastDeliveryAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("last_delivery_at = %q", payload.LastDeliveryAt)
	}
	stats, ok := payload.Workers["pushover"]
	if !ok {
		t.Fatalf("workers = %+v, want pushover entry", payload.Workers)
	}
	if stats.State != "idle" {
		t.Fatalf("worker state = %q, want idle", stats.State)
	}

	rec = httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	b := bus.New()
	defer b.Close()

	if _, err := NewService(nil, b, nil, []*dispatch.Worker{newTestWorker(t, b, "a")}, nil); !failure.Is(err, failure.ErrorConfiguration) {
		t.Fatalf("nil config error = %v, want configuration failure", err)
	}
	if _, err := NewService(&config.Config{}, nil, nil, []*dispatch.Worker{newTestWorker(t, b, "a")}, nil); !failure.Is(err, failure.ErrorConfiguration) {
		t.Fatalf("nil bus error = %v, want configuration failure", err)
	}
	if _, err := NewService(&config.Config{}, b, nil, nil, nil); !failure.Is(err, failure.ErrorConfiguration) {
		t.Fatalf("no workers error = %v, want configuration failure", err)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy(config.DispatchConfig{})
	if policy.MaxAttempts != 2 || policy.Backoff != 5*time.Second {
		t.Fatalf("default policy = %+v, want 2 attempts and 5s backoff", policy)
	}

	policy = RetryPolicy(config.DispatchConfig{MaxAttempts: 4, BackoffSeconds: 0.5})
	if policy.MaxAttempts != 4 {
		t.Fatalf("max attempts = %d, want 4", policy.MaxAttempts)
	}
	if policy.Backoff != 500*time.Millisecond {
		t.Fatalf("backoff = %s, want 500ms", policy.Backoff)
	}
}

func TestNewChannels(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := NewChannels(cfg, quietLogger()); !failure.Is(err, failure.ErrorConfiguration) {
		t.Fatalf("no channels error = %v, want configuration failure", err)
	}

	cfg.Channels.Pushover.Enabled = true
	cfg.Channels.Pushover.Token = "app"
	cfg.Channels.Pushover.User = "user"
	cfg.Channels.LineNotify.Enabled = true
	cfg.Channels.LineNotify.Token = "notify"

	channels, err := NewChannels(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewChannels error: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(channels))
	}
	if channels[0].Name() != "line_notify" || channels[1].Name() != "pushover" {
		t.Fatalf("channel order = %q, %q", channels[0].Name(), channels[1].Name())
	}

	cfg.Channels.LineNotify.Token = ""
	if _, err := NewChannels(cfg, quietLogger()); !failure.Is(err, failure.ErrorConfiguration) {
		t.Fatalf("missing token error = %v, want configuration failure", err)
	}
}

func TestNewSource(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Source.Type = config.SourceKafka
	cfg.Source.Kafka.Brokers = []string{"127.0.0.1:9092"}
	cfg.Source.Kafka.Topic = "alerts"

	src, err := NewSource(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewSource kafka error: %v", err)
	}
	if src.Name() != "kafka" {
		t.Fatalf("source name = %q, want kafka", src.Name())
	}

	cfg.Source.Type = "carrier-pigeon"
	if _, err := NewSource(cfg, quietLogger()); !failure.Is(err, failure.ErrorConfiguration) {
		t.Fatalf("unknown source error = %v, want configuration failure", err)
	}
}
