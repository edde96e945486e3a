// Package lineapi delivers alerts through a push-message API that addresses
// up to two independently gated recipients and references images by URL.
package lineapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"quakenotify/pkg/channel"
	"quakenotify/pkg/config"
	"quakenotify/pkg/failure"
)

const (
	channelName     = "line_api"
	DefaultEndpoint = "https://api.line.me/v2/bot/message/push"

	// DefaultSecondaryMinShindo keeps the secondary audience quiet below
	// shindo 3 unless configured otherwise.
	DefaultSecondaryMinShindo = "3"
)

type pushRequest struct {
	To       string        `json:"to"`
	Messages []pushMessage `json:"messages"`
}

type pushMessage struct {
	Type               string `json:"type"`
	Text               string `json:"text,omitempty"`
	OriginalContentURL string `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string `json:"previewImageUrl,omitempty"`
}

// Channel owns the shared endpoint, HTTP client and image host.
type Channel struct {
	endpoint string
	imageDir string
	imageURL string
	policy   channel.Policy
	targets  []channel.Target
	primary  channel.Target
	client   *http.Client
	log      *slog.Logger
}

// recipient is one (token, to) pair with its own gate.
type recipient struct {
	id    string
	token string
	to    string
	gate  channel.Gate
	ch    *Channel
}

// New validates the configuration. The primary recipient is required; the
// secondary is optional and is attempted first when present.
func New(cfg config.LineAPIConfig, log *slog.Logger) (*Channel, error) {
	policy, err := channel.PolicyFromConfig(channelName, cfg.DeliveryConfig)
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

	c := &Channel{
		endpoint: endpoint,
		imageDir: strings.TrimSpace(cfg.ImageDir),
		imageURL: strings.TrimRight(strings.TrimSpace(cfg.ImageURLPrefix), "/"),
		policy:   policy,
		client:   channel.NewHTTPClient(cfg.RequestTimeoutSeconds),
		log:      log.With("component", "channel.line_api"),
	}

	if policy.SendImages && (c.imageDir == "" || c.imageURL == "") {
		return nil, failure.Configurationf("channels.line_api.image_dir and image_url_prefix are required when send_images is set")
	}

	if secondary := cfg.Secondary; strings.TrimSpace(secondary.Token) != "" || strings.TrimSpace(secondary.To) != "" {
		if secondary.MinIntensity == nil && strings.TrimSpace(secondary.MinShindo) == "" {
			secondary.MinShindo = DefaultSecondaryMinShindo
		}
		target, err := c.newRecipient("secondary", secondary, cfg.DeliveryConfig)
		if err != nil {
			return nil, err
		}
		c.targets = append(c.targets, target)
	}

	primary, err := c.newRecipient("primary", cfg.Primary, cfg.DeliveryConfig)
	if err != nil {
		return nil, err
	}
	c.targets = append(c.targets, primary)
	c.primary = primary

	return c, nil
}

// newRecipient falls back to the channel-level gate when the recipient has
// none of its own.
func (c *Channel) newRecipient(id string, cfg config.LineRecipientConfig, shared config.DeliveryConfig) (*recipient, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, failure.Configurationf("channels.line_api.%s.token is required", id)
	}
	to := strings.TrimSpace(cfg.To)
	if to == "" {
		return nil, failure.Configurationf("channels.line_api.%s.to is required", id)
	}

	minIntensity, minShindo := cfg.MinIntensity, cfg.MinShindo
	if minIntensity == nil && strings.TrimSpace(minShindo) == "" {
		minIntensity, minShindo = shared.MinIntensity, shared.MinShindo
	}
	gate, err := channel.NewGate(minIntensity, minShindo)
	if err != nil {
		return nil, err
	}

	return &recipient{id: id, token: token, to: to, gate: gate, ch: c}, nil
}

func (c *Channel) Name() string { return channelName }

func (c *Channel) Capabilities() channel.Capabilities {
	return channel.Capabilities{SupportsTwoRecipients: true, HostsImagesByURL: true}
}

func (c *Channel) Policy() channel.Policy { return c.policy }

// Targets lists image recipients, secondary first.
func (c *Channel) Targets() []channel.Target {
	return append([]channel.Target(nil), c.targets...)
}

// AlarmTargets limits alarm text to the primary recipient; the secondary
// audience only receives images.
func (c *Channel) AlarmTargets() []channel.Target {
	return []channel.Target{c.primary}
}

// HostImage copies path into the public image directory under a name derived
// from the path and returns its public URL.
func (c *Channel) HostImage(path string) (string, error) {
	if c.imageDir == "" || c.imageURL == "" {
		return "", failure.Configurationf("image hosting is not configured")
	}

	sum := sha256.Sum256([]byte(path))
	name := hex.EncodeToString(sum[:]) + filepath.Ext(path)

	if err := copyFile(path, filepath.Join(c.imageDir, name)); err != nil {
		return "", err
	}

	return c.imageURL + "/" + name, nil
}

// copyFile streams src into a temp file beside dst and renames it into place,
// so the web server never serves a partial image.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return failure.NormalizeIOError(err, "open image")
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failure.NormalizeIOError(err, "create image dir")
	}

	tmp, err := os.CreateTemp(dir, ".quakenotify-tmp-*")
	if err != nil {
		return failure.NormalizeIOError(err, "create hosted image")
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		_ = tmp.Close()
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return failure.NormalizeIOError(err, "copy image")
	}
	if err := tmp.Chmod(0o644); err != nil {
		return failure.NormalizeIOError(err, "chmod hosted image")
	}
	if err := tmp.Close(); err != nil {
		return failure.NormalizeIOError(err, "close hosted image")
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return failure.NormalizeIOError(err, "publish hosted image")
	}

	cleanup = false
	return nil
}

func (c *Channel) push(ctx context.Context, r *recipient, messages []pushMessage) (channel.Outcome, error) {
	body, err := json.Marshal(pushRequest{To: r.to, Messages: messages})
	if err != nil {
		return channel.Outcome{}, fmt.Errorf("encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return channel.Outcome{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)

	return channel.Post(c.client, c.log.With("recipient", r.id), req)
}

func (r *recipient) ID() string { return r.id }

func (r *recipient) Gate() channel.Gate { return r.gate }

func (r *recipient) SendText(ctx context.Context, msg channel.Message) (channel.Outcome, error) {
	return r.ch.push(ctx, r, []pushMessage{{Type: "text", Text: msg.Text}})
}

// SendTextWithImage degrades to text only when the image cannot be hosted.
func (r *recipient) SendTextWithImage(ctx context.Context, path string, msg channel.Message) (channel.Outcome, error) {
	imageURL, err := r.ch.HostImage(path)
	if err != nil {
		r.ch.log.Warn("Image hosting failed, sending text only", "recipient", r.id, "path", path, "error", err)
		return r.SendText(ctx, msg)
	}

	return r.ch.push(ctx, r, []pushMessage{
		{Type: "text", Text: msg.Text},
		{Type: "image", OriginalContentURL: imageURL, PreviewImageURL: imageURL},
	})
}
