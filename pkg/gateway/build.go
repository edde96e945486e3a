package gateway

import (
	"log/slog"
	"time"

	"quakenotify/pkg/bus"
	"quakenotify/pkg/channel"
	"quakenotify/pkg/channel/lineapi"
	"quakenotify/pkg/channel/linenotify"
	"quakenotify/pkg/channel/pushover"
	"quakenotify/pkg/channel/telegram"
	"quakenotify/pkg/config"
	"quakenotify/pkg/dispatch"
	"quakenotify/pkg/failure"
	"quakenotify/pkg/retry"
	"quakenotify/pkg/severity"
	"quakenotify/pkg/source"
)

// Build wires a complete dispatcher from configuration. Any returned error is
// a configuration failure.
func Build(cfg *config.Config, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, failure.Configurationf("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channels, err := NewChannels(cfg, log)
	if err != nil {
		return nil, err
	}

	b := bus.New()
	estimator := NewEstimator(cfg, log)
	opts := dispatch.Options{
		Station:     cfg.Station,
		Retry:       RetryPolicy(cfg.Dispatch),
		QueueBuffer: cfg.Dispatch.QueueBuffer,
	}

	workers := make([]*dispatch.Worker, 0, len(channels))
	for _, ch := range channels {
		worker, err := dispatch.NewWorker(ch, b, estimator, opts, log)
		if err != nil {
			b.Close()
			return nil, err
		}
		workers = append(workers, worker)
	}

	src, err := NewSource(cfg, log)
	if err != nil {
		b.Close()
		return nil, err
	}

	return NewService(cfg, b, []source.Source{src}, workers, log)
}

// NewChannels constructs every enabled channel in a stable order.
func NewChannels(cfg *config.Config, log *slog.Logger) ([]channel.Channel, error) {
	channels := []channel.Channel{}

	if c := cfg.Channels.LineNotify; c.Enabled {
		ch, err := linenotify.New(c, log)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if c := cfg.Channels.LineAPI; c.Enabled {
		ch, err := lineapi.New(c, log)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if c := cfg.Channels.Pushover; c.Enabled {
		ch, err := pushover.New(c, log)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if c := cfg.Channels.Telegram; c.Enabled {
		ch, err := telegram.New(c, log)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	if len(channels) == 0 {
		return nil, failure.Configurationf("no delivery channel is enabled")
	}

	return channels, nil
}

// NewEstimator builds the severity estimator for the configured observer.
// Extra options are applied after the configured ones.
func NewEstimator(cfg *config.Config, log *slog.Logger, extra ...severity.Option) *severity.Estimator {
	timeout := time.Duration(cfg.Severity.RequestTimeoutSeconds) * time.Second
	feed := severity.NewFeed(cfg.Severity.Endpoint, timeout, log)

	opts := []severity.Option{severity.WithLogger(log)}
	if len(cfg.Severity.LookbackOffsetsSeconds) > 0 {
		offsets := make([]time.Duration, 0, len(cfg.Severity.LookbackOffsetsSeconds))
		for _, seconds := range cfg.Severity.LookbackOffsetsSeconds {
			offsets = append(offsets, time.Duration(seconds)*time.Second)
		}
		opts = append(opts, severity.WithLookbackOffsets(offsets))
	}

	opts = append(opts, extra...)

	observer := severity.Observer{
		Name: cfg.Observer.Name,
		Location: severity.Location{
			Latitude:  cfg.Observer.Latitude,
			Longitude: cfg.Observer.Longitude,
		},
	}

	return severity.NewEstimator(feed, observer, opts...)
}

// NewSource builds the configured envelope source.
func NewSource(cfg *config.Config, log *slog.Logger) (source.Source, error) {
	switch cfg.Source.Type {
	case config.SourceKafka:
		return source.NewKafka(cfg.Source.Kafka, log)
	case config.SourceUDP, "":
		return source.ListenUDP(cfg.Source.Address, log)
	default:
		return nil, failure.Configurationf("source.type %q unknown: want udp|kafka", cfg.Source.Type)
	}
}

// RetryPolicy converts dispatch settings into a retry policy.
func RetryPolicy(cfg config.DispatchConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffSeconds > 0 {
		policy.Backoff = time.Duration(cfg.BackoffSeconds * float64(time.Second))
	}

	return policy
}
