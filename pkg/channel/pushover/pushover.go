// Package pushover delivers alerts through a priority-aware push service.
package pushover

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"quakenotify/pkg/channel"
	"quakenotify/pkg/config"
	"quakenotify/pkg/failure"
)

const (
	channelName     = "pushover"
	DefaultEndpoint = "https://api.pushover.net/1/messages.json"

	// DefaultHighIntensity is the lower bound of shindo 3.
	DefaultHighIntensity  = 2.5
	DefaultEmergencySound = "siren"

	emergencyRetrySeconds  = 30
	emergencyExpireSeconds = 1800
	attachmentField        = "attachment"
)

// Priority levels understood by the provider.
const (
	PriorityNormal    = 0
	PriorityHigh      = 1
	PriorityEmergency = 2
)

// Channel posts form-encoded messages with a priority derived from the
// message intensity. It is its own single target.
type Channel struct {
	token              string
	user               string
	endpoint           string
	title              string
	highIntensity      float64
	emergencyIntensity *float64
	emergencySound     string
	policy             channel.Policy
	gate               channel.Gate
	client             *http.Client
	log                *slog.Logger
}

func New(cfg config.PushoverConfig, log *slog.Logger) (*Channel, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, failure.Configurationf("channels.pushover.token is required")
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		return nil, failure.Configurationf("channels.pushover.user is required")
	}

	// Image priority follows the rendered label unless configured otherwise;
	// a fresh estimate at image time usually finds no active warning.
	delivery := cfg.DeliveryConfig
	if strings.TrimSpace(delivery.SeveritySource) == "" {
		delivery.SeveritySource = string(channel.SeverityFromLabel)
	}

	policy, err := channel.PolicyFromConfig(channelName, delivery)
	if err != nil {
		return nil, err
	}
	gate, err := channel.NewGate(cfg.MinIntensity, cfg.MinShindo)
	if err != nil {
		return nil, err
	}

	highIntensity := DefaultHighIntensity
	if cfg.HighIntensity != nil {
		highIntensity = *cfg.HighIntensity
	}

	var emergencyIntensity *float64
	if cfg.EmergencyIntensity != nil {
		value := *cfg.EmergencyIntensity
		if value < highIntensity {
			return nil, failure.Configurationf("channels.pushover.emergency_intensity %.2f is below high_intensity %.2f", value, highIntensity)
		}
		emergencyIntensity = &value
	}

	emergencySound := strings.TrimSpace(cfg.EmergencySound)
	if emergencySound == "" {
		emergencySound = DefaultEmergencySound
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	if log == nil {
		log = slog.Default()
	}

	return &Channel{
		token:              token,
		user:               user,
		endpoint:           endpoint,
		title:              strings.TrimSpace(cfg.Title),
		highIntensity:      highIntensity,
		emergencyIntensity: emergencyIntensity,
		emergencySound:     emergencySound,
		policy:             policy,
		gate:               gate,
		client:             channel.NewHTTPClient(cfg.RequestTimeoutSeconds),
		log:                log.With("component", "channel.pushover"),
	}, nil
}

func (c *Channel) Name() string { return channelName }

func (c *Channel) Capabilities() channel.Capabilities {
	return channel.Capabilities{SupportsPriority: true}
}

func (c *Channel) Policy() channel.Policy { return c.policy }

func (c *Channel) Targets() []channel.Target { return []channel.Target{c} }

func (c *Channel) ID() string { return "default" }

func (c *Channel) Gate() channel.Gate { return c.gate }

// Priority maps a message to the provider priority. Unresolved messages are
// always normal priority.
func (c *Channel) Priority(msg channel.Message) int {
	if !msg.Resolved {
		return PriorityNormal
	}
	if c.emergencyIntensity != nil && msg.Intensity >= *c.emergencyIntensity {
		return PriorityEmergency
	}
	if msg.Intensity >= c.highIntensity {
		return PriorityHigh
	}

	return PriorityNormal
}

func (c *Channel) fields(msg channel.Message) url.Values {
	priority := c.Priority(msg)

	fields := url.Values{
		"token":    {c.token},
		"user":     {c.user},
		"message":  {msg.Text},
		"priority": {strconv.Itoa(priority)},
	}
	if c.title != "" {
		fields.Set("title", c.title)
	}
	if priority == PriorityEmergency {
		fields.Set("retry", strconv.Itoa(emergencyRetrySeconds))
		fields.Set("expire", strconv.Itoa(emergencyExpireSeconds))
		fields.Set("sound", c.emergencySound)
	}

	return fields
}

func (c *Channel) SendText(ctx context.Context, msg channel.Message) (channel.Outcome, error) {
	fields := c.fields(msg)
	req, err := channel.NewFormRequest(ctx, c.endpoint, fields)
	if err != nil {
		return channel.Outcome{}, err
	}

	return channel.Post(c.client, c.log.With("priority", fields.Get("priority")), req)
}

func (c *Channel) SendTextWithImage(ctx context.Context, path string, msg channel.Message) (channel.Outcome, error) {
	fields := c.fields(msg)
	req, err := channel.NewMultipartRequest(ctx, c.endpoint, fields, attachmentField, path)
	if err != nil {
		return channel.Outcome{}, err
	}

	return channel.Post(c.client, c.log.With("priority", fields.Get("priority")), req)
}
