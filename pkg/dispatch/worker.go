// Package dispatch runs one delivery worker per configured channel.
package dispatch

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/time/rate"

	"quakenotify/pkg/bus"
	"quakenotify/pkg/channel"
	"quakenotify/pkg/config"
	"quakenotify/pkg/envelope"
	"quakenotify/pkg/failure"
	"quakenotify/pkg/retry"
	"quakenotify/pkg/severity"
)

// State is the worker lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateAwaitingMessage
	StateProcessing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingMessage:
		return "awaiting"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Estimator produces a severity estimate. It must not fail.
type Estimator interface {
	Estimate(ctx context.Context) severity.Estimate
}

// Options configure a Worker.
type Options struct {
	Station     config.StationConfig
	Retry       retry.Policy
	QueueBuffer int
}

// Stats is a point-in-time view of a worker.
type Stats struct {
	State      string `json:"state"`
	Delivered  int64  `json:"delivered"`
	Suppressed int64  `json:"suppressed"`
	Failed     int64  `json:"failed"`
	Dropped    int64  `json:"dropped"`
}

// Worker consumes envelopes from its own bus subscription and delivers them
// through one channel. Envelopes are handled strictly in arrival order.
type Worker struct {
	channel   channel.Channel
	bus       *bus.Bus
	sub       *bus.Subscription
	estimator Estimator
	station   config.StationConfig
	retry     retry.Policy
	limiter   *rate.Limiter
	log       *slog.Logger

	// lastHeader is only touched by the Run goroutine.
	lastHeader string

	state      atomic.Int32
	delivered  atomic.Int64
	suppressed atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
}

// NewWorker subscribes to b immediately so no envelope published after this
// call is missed.
func NewWorker(ch channel.Channel, b *bus.Bus, estimator Estimator, opts Options, log *slog.Logger) (*Worker, error) {
	if ch == nil {
		return nil, failure.Configurationf("channel is required")
	}
	if b == nil {
		return nil, failure.Configurationf("bus is required")
	}
	if log == nil {
		log = slog.Default()
	}

	policy := opts.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond := ch.Policy().RatePerSecond; perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	w := &Worker{
		channel:   ch,
		bus:       b,
		sub:       b.Subscribe(opts.QueueBuffer),
		estimator: estimator,
		station:   opts.Station,
		retry:     policy,
		limiter:   limiter,
		log:       log.With("component", "dispatch.worker", "channel", ch.Name()),
	}
	w.state.Store(int32(StateIdle))

	return w, nil
}

// Name returns the channel name.
func (w *Worker) Name() string {
	return w.channel.Name()
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Stats returns the current state and counters.
func (w *Worker) Stats() Stats {
	return Stats{
		State:      w.State().String(),
		Delivered:  w.delivered.Load(),
		Suppressed: w.suppressed.Load(),
		Failed:     w.failed.Load(),
		Dropped:    w.dropped.Load(),
	}
}

// Run processes envelopes until a Terminate envelope arrives, the bus closes
// or ctx ends. It never returns delivery errors.
func (w *Worker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	defer w.publish(ctx, bus.Event{Type: bus.EventWorkerStopped})
	defer w.state.Store(int32(StateStopped))
	defer w.sub.Unsubscribe()

	w.log.Info("Worker started", "capabilities", w.channel.Capabilities(), "targets", len(w.channel.Targets()))

	for {
		w.state.Store(int32(StateAwaitingMessage))
		env, ok := w.sub.Receive(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				w.log.Info("Worker canceled")
				return err
			}
			w.log.Info("Bus closed, worker exiting")
			return nil
		}

		w.state.Store(int32(StateProcessing))
		switch env.Kind {
		case envelope.KindTerminate:
			w.log.Info("Exiting", "envelope_id", env.ID)
			return nil
		case envelope.KindAlarm:
			w.handleAlarm(ctx, env)
		case envelope.KindImage:
			w.handleImage(ctx, env)
		default:
			w.log.Debug("Ignoring unrecognized envelope", "envelope_id", env.ID, "raw", channel.PreviewText(env.Raw))
		}
		w.state.Store(int32(StateIdle))
	}
}

func (w *Worker) handleAlarm(ctx context.Context, env envelope.Envelope) {
	est := w.estimate(ctx)

	eventTime := env.EventTime
	if eventTime.IsZero() {
		eventTime = env.ReceivedAt
	}
	w.lastHeader = AlarmHeader(w.channel.Policy().MessageStyle, w.station, eventTime)

	msg := messageFor(AlarmText(w.lastHeader, est), est)
	w.log.Info("Alarm received", "envelope_id", env.ID, "event_time", eventTime, "resolved", est.Resolved, "intensity", msg.Intensity)

	w.deliver(ctx, env, msg, channel.AlarmTargets(w.channel), func(ctx context.Context, target channel.Target) (channel.Outcome, error) {
		return target.SendText(ctx, msg)
	})
}

func (w *Worker) handleImage(ctx context.Context, env envelope.Envelope) {
	if !w.channel.Policy().SendImages {
		w.log.Debug("Image delivery disabled", "envelope_id", env.ID)
		return
	}

	if _, err := os.Stat(env.Path); err != nil {
		err = failure.NormalizeIOError(err, "stat image "+env.Path)
		w.log.Warn("Could not find image, dropping", "envelope_id", env.ID, "path", env.Path, "category", failure.CategoryFromError(err), "error", err)
		w.dropped.Add(1)
		w.publish(ctx, bus.Event{Type: bus.EventAlertDropped, EnvelopeID: env.ID, Kind: env.Kind.String(), Error: err.Error()})
		return
	}

	header := w.lastHeader
	if header == "" {
		eventTime := env.EventTime
		if eventTime.IsZero() {
			eventTime = env.ReceivedAt
		}
		header = AlarmHeader(w.channel.Policy().MessageStyle, w.station, eventTime)
	}

	est, fromLabel := w.imageSeverity(ctx, env)
	label := env.Label
	if label == "" && est.Resolved {
		label = est.Message
	}

	msg := messageFor(ImageCaption(header, label), est)
	w.log.Info("Image received", "envelope_id", env.ID, "path", env.Path, "label", env.Label, "from_label", fromLabel, "intensity", msg.Intensity)

	w.deliver(ctx, env, msg, w.channel.Targets(), func(ctx context.Context, target channel.Target) (channel.Outcome, error) {
		return target.SendTextWithImage(ctx, env.Path, msg)
	})
}

// imageSeverity follows the channel's severity source. A label that names no
// shindo level falls back to the estimator.
func (w *Worker) imageSeverity(ctx context.Context, env envelope.Envelope) (severity.Estimate, bool) {
	if w.channel.Policy().SeveritySource == channel.SeverityFromLabel {
		if shindo, ok := severity.ParseShindo(env.Label); ok {
			return severity.Estimate{
				Message:   shindo.Label(),
				Intensity: shindo.LowerBound(),
				Shindo:    shindo,
				Resolved:  true,
			}, true
		}
		w.log.Info("Image label has no shindo level, estimating instead", "envelope_id", env.ID, "label", env.Label)
	}

	return w.estimate(ctx), false
}

func (w *Worker) estimate(ctx context.Context) severity.Estimate {
	if w.estimator == nil {
		return severity.Unresolved()
	}

	est := w.estimator.Estimate(ctx)
	if !est.Resolved {
		w.log.Info("Severity unresolved", "category", failure.ErrorSeverityDegraded)
		return severity.Unresolved()
	}

	return est
}

func messageFor(text string, est severity.Estimate) channel.Message {
	return channel.Message{
		Text:      text,
		Intensity: est.Intensity,
		Shindo:    est.Shindo,
		Resolved:  est.Resolved,
	}
}

type sendFunc func(ctx context.Context, target channel.Target) (channel.Outcome, error)

// deliver evaluates every target's gate independently and sends with the
// retry policy. Failures are logged and counted, never returned.
func (w *Worker) deliver(ctx context.Context, env envelope.Envelope, msg channel.Message, targets []channel.Target, send sendFunc) {
	for _, target := range targets {
		log := w.log.With("target", target.ID(), "envelope_id", env.ID, "kind", env.Kind.String())
		event := bus.Event{
			Target:     target.ID(),
			EnvelopeID: env.ID,
			Kind:       env.Kind.String(),
			Intensity:  msg.Intensity,
			Shindo:     msg.Shindo.String(),
		}

		gate := target.Gate()
		if !gate.Allows(msg.Intensity) {
			log.Info("Delivery suppressed by severity gate", "intensity", msg.Intensity, "gate", gate.String())
			w.suppressed.Add(1)
			event.Type = bus.EventAlertSuppressed
			w.publish(ctx, event)
			continue
		}

		attempts, err := w.retry.Do(ctx, log, func(attempt int) error {
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}

			log.Info("Sending", "attempt", attempt)
			outcome, err := send(ctx, target)
			if err != nil {
				return err
			}
			if !outcome.Success {
				return failure.Transientf("provider rejected delivery: %s", channel.PreviewText(outcome.Body))
			}
			return nil
		})
		event.Attempts = attempts

		if err != nil {
			log.Warn("Delivery failed, dropping", "attempts", attempts, "category", failure.CategoryFromError(err), "error", err)
			w.failed.Add(1)
			event.Type = bus.EventAlertFailed
			event.Error = err.Error()
			w.publish(ctx, event)
			continue
		}

		log.Info("Delivered", "attempts", attempts)
		w.delivered.Add(1)
		event.Type = bus.EventAlertDelivered
		w.publish(ctx, event)
	}
}

func (w *Worker) publish(ctx context.Context, event bus.Event) {
	event.Channel = w.channel.Name()
	_ = w.bus.PublishEvent(context.WithoutCancel(ctx), event)
}
