package severity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// UnconfirmedMessage is reported when no lookup yields a confirmed event.
const UnconfirmedMessage = "緊急地震速報を確認できませんでした"

// DefaultLookbackOffsets query the feed at now, now-1s and now-2s in that order.
var DefaultLookbackOffsets = []time.Duration{0, time.Second, 2 * time.Second}

// Estimate is the outcome of one severity lookup. When Resolved is false,
// Intensity is 0 and Message is the unconfirmed notice.
type Estimate struct {
	Message   string
	Intensity float64
	Shindo    Shindo
	Resolved  bool
	Report    *Report
}

// Unresolved returns the degraded estimate.
func Unresolved() Estimate {
	return Estimate{Message: UnconfirmedMessage, Shindo: Shindo0}
}

// Fetcher loads the feed document for a given second.
type Fetcher interface {
	Fetch(ctx context.Context, at time.Time) (Report, error)
}

// Observer is the fixed site the intensity is estimated for.
type Observer struct {
	Name     string
	Location Location
}

// Estimator turns the early-warning feed into an intensity at the observer.
type Estimator struct {
	feed     Fetcher
	observer Observer
	offsets  []time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// Option customizes an Estimator.
type Option func(*Estimator)

// WithLookbackOffsets replaces the default lookback offsets.
func WithLookbackOffsets(offsets []time.Duration) Option {
	return func(e *Estimator) {
		if len(offsets) > 0 {
			e.offsets = append([]time.Duration(nil), offsets...)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Estimator) {
		if log != nil {
			e.log = log
		}
	}
}

func NewEstimator(feed Fetcher, observer Observer, opts ...Option) *Estimator {
	e := &Estimator{
		feed:     feed,
		observer: observer,
		offsets:  DefaultLookbackOffsets,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "severity.estimator")

	return e
}

// Estimate queries the feed and computes the observer-local intensity. It
// never fails: every error degrades to Unresolved.
func (e *Estimator) Estimate(ctx context.Context) (est Estimate) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Severity estimation panicked", "panic", r)
			est = Unresolved()
		}
	}()

	if e.feed == nil {
		return Unresolved()
	}

	now := e.now()
	var lastErr error
	for _, offset := range e.offsets {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		at := now.Add(-offset)
		report, err := e.feed.Fetch(ctx, at)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrUnconfirmed) {
				e.log.Debug("Feed has no confirmed event", "at", at.In(JST).Format(feedTimestampLayout))
			} else {
				e.log.Warn("Feed lookup failed", "at", at.In(JST).Format(feedTimestampLayout), "error", err)
			}
			continue
		}

		resolved, err := e.fromReport(report)
		if err != nil {
			e.log.Warn("Severity estimate degraded", "error", err)
			return Unresolved()
		}

		e.log.Info("Severity estimated", "region", report.RegionName, "magnitude", report.Magnitude, "depth_km", report.DepthKm, "intensity", resolved.Intensity, "shindo", resolved.Shindo.String())
		return resolved
	}

	e.log.Info("Severity unresolved", "attempts", len(e.offsets), "error", lastErr)
	return Unresolved()
}

func (e *Estimator) fromReport(report Report) (Estimate, error) {
	distance := Distance(e.observer.Location, report.Epicenter)
	intensity := EstimateIntensity(report.Magnitude, report.DepthKm, distance)
	if math.IsNaN(intensity) || math.IsInf(intensity, 0) {
		return Estimate{}, fmt.Errorf("intensity not finite for M%.1f depth %.0fkm distance %.1fkm", report.Magnitude, report.DepthKm, distance)
	}

	shindo := ShindoFromIntensity(intensity)
	r := report

	return Estimate{
		Message:   e.summary(report, intensity, shindo),
		Intensity: intensity,
		Shindo:    shindo,
		Resolved:  true,
		Report:    &r,
	}, nil
}

func (e *Estimator) summary(report Report, intensity float64, shindo Shindo) string {
	observerName := strings.TrimSpace(e.observer.Name)
	if observerName == "" {
		observerName = "観測点"
	}

	region := report.RegionName
	if region == "" {
		region = "不明"
	}

	sequence := fmt.Sprintf("第%s報", report.ReportNum)
	if report.IsFinal {
		sequence += "（最終報）"
	}

	lines := []string{"震源: " + region}
	if report.AlertFlag != "" {
		lines = append(lines, "種別: "+report.AlertFlag)
	}
	lines = append(lines,
		fmt.Sprintf("規模: M%.1f 深さ: %.0fkm", report.Magnitude, report.DepthKm),
		"最大予測震度: "+report.CalcIntensity,
		sequence,
		fmt.Sprintf("%sの推定震度: %s（%.1f）", observerName, shindo.Label(), intensity),
	)

	return strings.Join(lines, "\n")
}
