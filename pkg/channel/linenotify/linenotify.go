// Package linenotify delivers alerts through a single-token push service.
package linenotify

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"quakenotify/pkg/channel"
	"quakenotify/pkg/config"
	"quakenotify/pkg/failure"
)

const (
	channelName     = "line_notify"
	DefaultEndpoint = "https://notify-api.line.me/api/notify"
	imageFileField  = "imageFile"
)

// Channel posts form-encoded text and multipart images with a bearer token.
// It is its own single target.
type Channel struct {
	token         string
	endpoint      string
	imageEndpoint string
	policy        channel.Policy
	gate          channel.Gate
	client        *http.Client
	log           *slog.Logger
}

// New validates the configuration and constructs the channel.
func New(cfg config.LineNotifyConfig, log *slog.Logger) (*Channel, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, failure.Configurationf("channels.line_notify.token is required")
	}

	policy, err := channel.PolicyFromConfig(channelName, cfg.DeliveryConfig)
	if err != nil {
		return nil, err
	}
	gate, err := channel.NewGate(cfg.MinIntensity, cfg.MinShindo)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	imageEndpoint := strings.TrimSpace(cfg.ImageEndpoint)
	if imageEndpoint == "" {
		imageEndpoint = endpoint
	}

	return &Channel{
		token:         token,
		endpoint:      endpoint,
		imageEndpoint: imageEndpoint,
		policy:        policy,
		gate:          gate,
		client:        channel.NewHTTPClient(cfg.RequestTimeoutSeconds),
		log:           log.With("component", "channel.line_notify"),
	}, nil
}

func (c *Channel) Name() string { return channelName }

func (c *Channel) Capabilities() channel.Capabilities { return channel.Capabilities{} }

func (c *Channel) Policy() channel.Policy { return c.policy }

func (c *Channel) Targets() []channel.Target { return []channel.Target{c} }

func (c *Channel) ID() string { return "default" }

func (c *Channel) Gate() channel.Gate { return c.gate }

func (c *Channel) SendText(ctx context.Context, msg channel.Message) (channel.Outcome, error) {
	req, err := channel.NewFormRequest(ctx, c.endpoint, url.Values{"message": {msg.Text}})
	if err != nil {
		return channel.Outcome{}, err
	}
	c.authorize(req)

	return channel.Post(c.client, c.log, req)
}

func (c *Channel) SendTextWithImage(ctx context.Context, path string, msg channel.Message) (channel.Outcome, error) {
	req, err := channel.NewMultipartRequest(ctx, c.imageEndpoint, url.Values{"message": {msg.Text}}, imageFileField, path)
	if err != nil {
		return channel.Outcome{}, err
	}
	c.authorize(req)

	return channel.Post(c.client, c.log, req)
}

func (c *Channel) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}
