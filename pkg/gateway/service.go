package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"quakenotify/pkg/bus"
	"quakenotify/pkg/config"
	"quakenotify/pkg/dispatch"
	"quakenotify/pkg/envelope"
	"quakenotify/pkg/failure"
	"quakenotify/pkg/source"
)

const (
	defaultHealthHost    = "127.0.0.1"
	defaultHealthPort    = 18890
	defaultShutdownGrace = 30 * time.Second
)

// Service runs the envelope sources and one dispatch worker per channel, and
// serves health and readiness endpoints.
type Service struct {
	cfg     *config.Config
	log     *slog.Logger
	bus     *bus.Bus
	sources []source.Source
	workers []*dispatch.Worker
	grace   time.Duration

	mu             sync.RWMutex
	startedAt      time.Time
	lastDeliveryAt time.Time
	lastFailureAt  time.Time
	sourceStates   map[string]sourceState
}

type sourceState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status         string                    `json:"status"`
	UptimeSeconds  int64                     `json:"uptime_seconds"`
	LastDeliveryAt string                    `json:"last_delivery_at,omitempty"`
	LastFailureAt  string                    `json:"last_failure_at,omitempty"`
	Sources        map[string]sourceState    `json:"sources"`
	Workers        map[string]dispatch.Stats `json:"workers"`
}

// NewService assembles a service from already constructed parts. Workers must
// be subscribed to b before any source starts publishing.
func NewService(cfg *config.Config, b *bus.Bus, sources []source.Source, workers []*dispatch.Worker, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, failure.Configurationf("config is required")
	}
	if b == nil {
		return nil, failure.Configurationf("bus is required")
	}
	if len(workers) == 0 {
		return nil, failure.Configurationf("at least one dispatch worker is required")
	}
	if log == nil {
		log = slog.Default()
	}

	states := make(map[string]sourceState, len(sources))
	for _, src := range sources {
		states[src.Name()] = sourceState{}
	}

	return &Service{
		cfg:          cfg,
		log:          log.With("component", "gateway.service"),
		bus:          b,
		sources:      sources,
		workers:      workers,
		grace:        defaultShutdownGrace,
		sourceStates: states,
	}, nil
}

// Run blocks until ctx ends, a source or the status server fails, or every
// worker has stopped on its own. On the way out it publishes one TERM so each
// worker exits through its normal path, then closes the bus.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runHealthServer(runCtx, serverErrors)
	go s.watchEvents(runCtx)

	// Workers outlive ctx so in-flight deliveries finish; TERM stops them.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	var wg sync.WaitGroup
	for _, worker := range s.workers {
		wg.Add(1)
		go func(w *dispatch.Worker) {
			defer wg.Done()
			if err := w.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("Worker stopped with error", "channel", w.Name(), "error", err)
			}
		}(worker)
	}
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	sourceErrors := make(chan error, len(s.sources))
	for _, src := range s.sources {
		s.setSourceState(src.Name(), sourceState{Running: true})

		go func(src source.Source) {
			err := src.Run(runCtx, s.bus)
			s.setSourceState(src.Name(), sourceState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				sourceErrors <- fmt.Errorf("run %s source: %w", src.Name(), err)
			}
		}(src)
	}

	s.log.Info("Dispatcher started", "workers", len(s.workers), "sources", len(s.sources))

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown requested")
	case <-workersDone:
		s.log.Info("All workers stopped")
		cancelRun()
		s.bus.Close()
		return nil
	case err := <-serverErrors:
		runErr = err
	case err := <-sourceErrors:
		runErr = err
	}

	cancelRun()
	s.shutdown(workersDone, cancelWorkers)

	return runErr
}

func (s *Service) shutdown(workersDone <-chan struct{}, cancelWorkers context.CancelFunc) {
	publishCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()

	if !s.bus.Publish(publishCtx, envelope.Terminate()) {
		s.log.Warn("Could not publish TERM to every worker")
	}

	select {
	case <-workersDone:
	case <-publishCtx.Done():
		s.log.Warn("Workers did not stop in time, canceling", "grace", s.grace)
		cancelWorkers()
		<-workersDone
	}

	s.bus.Close()
	s.log.Info("Dispatcher stopped")
}

// watchEvents records delivery timestamps for the status endpoints.
func (s *Service) watchEvents(ctx context.Context) {
	events, unsubscribe := s.bus.SubscribeEvents(ctx, 0)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			s.mu.Lock()
			switch event.Type {
			case bus.EventAlertDelivered:
				s.lastDeliveryAt = event.At
			case bus.EventAlertFailed:
				s.lastFailureAt = event.At
			}
			s.mu.Unlock()
		}
	}
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

// Handler serves /healthz and /readyz.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	sources := make(map[string]sourceState, len(s.sourceStates))
	for name, state := range s.sourceStates {
		sources[name] = state
	}

	workers := make(map[string]dispatch.Stats, len(s.workers))
	for _, worker := range s.workers {
		workers[worker.Name()] = worker.Stats()
	}

	return statusResponse{
		Status:         status,
		UptimeSeconds:  uptime,
		LastDeliveryAt: formatTime(s.lastDeliveryAt),
		LastFailureAt:  formatTime(s.lastFailureAt),
		Sources:        sources,
		Workers:        workers,
	}
}

// isReady requires every source to be running and at least one worker alive.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.sourceStates {
		if !state.Running {
			return false
		}
	}

	for _, worker := range s.workers {
		if worker.State() != dispatch.StateStopped {
			return true
		}
	}

	return false
}

func (s *Service) setSourceState(name string, state sourceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceStates[name] = state
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Format(time.RFC3339)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
