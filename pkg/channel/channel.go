// Package channel defines the delivery surface shared by every notification
// provider.
package channel

import (
	"context"
	"fmt"
	"strings"

	"quakenotify/pkg/config"
	"quakenotify/pkg/failure"
	"quakenotify/pkg/severity"
)

// SeveritySource selects where a channel takes image severity from.
type SeveritySource string

const (
	// SeverityFromEstimate recomputes severity through the estimator.
	SeverityFromEstimate SeveritySource = "estimate"
	// SeverityFromLabel trusts the label carried by the image envelope.
	SeverityFromLabel SeveritySource = "label"
)

// MessageStyle selects the alarm header wording.
type MessageStyle string

const (
	StyleStation MessageStyle = "station"
	StyleCompact MessageStyle = "compact"
)

// Capabilities describe what a provider can do.
type Capabilities struct {
	SupportsTwoRecipients bool
	SupportsPriority      bool
	HostsImagesByURL      bool
}

// Policy is the per-channel dispatch behavior taken from configuration.
type Policy struct {
	SendImages     bool
	SeveritySource SeveritySource
	MessageStyle   MessageStyle
	RatePerSecond  float64
}

// Message is the formatted text plus the severity it was gated on.
type Message struct {
	Text      string
	Intensity float64
	Shindo    severity.Shindo
	Resolved  bool
}

// Outcome is the provider's answer to one send.
type Outcome struct {
	Success    bool
	StatusCode int
	Body       string
}

// Target is one gated recipient of a channel.
type Target interface {
	ID() string
	Gate() Gate
	SendText(ctx context.Context, msg Message) (Outcome, error)
	SendTextWithImage(ctx context.Context, path string, msg Message) (Outcome, error)
}

// Channel is one configured notification provider. Targets are returned in
// the order they must be attempted.
type Channel interface {
	Name() string
	Capabilities() Capabilities
	Policy() Policy
	Targets() []Target
}

// AlarmRouter is implemented by channels that deliver alarm text to fewer
// targets than images.
type AlarmRouter interface {
	AlarmTargets() []Target
}

// AlarmTargets returns the targets an alarm goes to, in attempt order.
func AlarmTargets(ch Channel) []Target {
	if router, ok := ch.(AlarmRouter); ok {
		return router.AlarmTargets()
	}

	return ch.Targets()
}

// PolicyFromConfig validates the shared delivery settings.
func PolicyFromConfig(name string, cfg config.DeliveryConfig) (Policy, error) {
	policy := Policy{
		SendImages:     cfg.SendImages,
		SeveritySource: SeverityFromEstimate,
		MessageStyle:   StyleStation,
		RatePerSecond:  cfg.RatePerSecond,
	}

	switch source := SeveritySource(strings.TrimSpace(cfg.SeveritySource)); source {
	case "":
	case SeverityFromEstimate, SeverityFromLabel:
		policy.SeveritySource = source
	default:
		return Policy{}, failure.Configurationf("channels.%s.severity_source %q unknown: want estimate|label", name, cfg.SeveritySource)
	}

	switch style := MessageStyle(strings.TrimSpace(cfg.MessageStyle)); style {
	case "":
	case StyleStation, StyleCompact:
		policy.MessageStyle = style
	default:
		return Policy{}, failure.Configurationf("channels.%s.message_style %q unknown: want station|compact", name, cfg.MessageStyle)
	}

	if cfg.RatePerSecond < 0 {
		return Policy{}, failure.Configurationf("channels.%s.rate_per_second must not be negative", name)
	}

	return policy, nil
}

// Gate suppresses deliveries below a minimum intensity. The zero Gate lets
// everything through.
type Gate struct {
	MinIntensity *float64
}

// NewGate builds a gate from an explicit intensity or a shindo cutoff. When
// both are set the intensity wins.
func NewGate(minIntensity *float64, minShindo string) (Gate, error) {
	if minIntensity != nil {
		value := *minIntensity
		return Gate{MinIntensity: &value}, nil
	}

	if strings.TrimSpace(minShindo) == "" {
		return Gate{}, nil
	}

	shindo, ok := severity.ParseShindo(minShindo)
	if !ok {
		return Gate{}, failure.Configurationf("min_shindo %q is not a shindo level", minShindo)
	}

	bound := shindo.LowerBound()
	return Gate{MinIntensity: &bound}, nil
}

// Allows reports whether intensity clears the gate.
func (g Gate) Allows(intensity float64) bool {
	if g.MinIntensity == nil {
		return true
	}

	return intensity >= *g.MinIntensity
}

func (g Gate) String() string {
	if g.MinIntensity == nil {
		return "open"
	}

	return fmt.Sprintf(">= %.2f", *g.MinIntensity)
}
