package severity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultFeedEndpoint  = "http://www.kmoni.bosai.go.jp/webservice/hypo/eew"
	defaultFeedTimeout   = 10 * time.Second
	feedTimestampLayout  = "20060102150405"
	maxFeedResponseBytes = 1 << 20
	feedResponseLogLimit = 240
)

// JST is the zone the feed keys its documents by.
var JST = time.FixedZone("JST", 9*60*60)

// ErrUnconfirmed is returned when the feed has no confirmed hypocenter for the
// requested second.
var ErrUnconfirmed = errors.New("no confirmed event in feed")

var numberPattern = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// Report is one confirmed early-warning document.
type Report struct {
	RegionName    string
	Magnitude     float64
	DepthKm       float64
	CalcIntensity string
	ReportNum     string
	IsFinal       bool
	AlertFlag     string
	Epicenter     Location
}

type feedPayload struct {
	Result struct {
		Message string `json:"message"`
	} `json:"result"`
	RegionName    flexString `json:"region_name"`
	Magnitude     flexString `json:"magunitude"`
	Depth         flexString `json:"depth"`
	CalcIntensity flexString `json:"calcintensity"`
	ReportNum     flexString `json:"report_num"`
	IsFinal       flexString `json:"is_final"`
	AlertFlag     flexString `json:"alertflg"`
	Latitude      flexString `json:"latitude"`
	Longitude     flexString `json:"longitude"`
}

// flexString accepts JSON strings, numbers and booleans; the feed is not
// consistent about quoting.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	*f = flexString(trimmed)
	return nil
}

// Feed queries the Kyoshin monitor early-warning endpoint.
type Feed struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewFeed builds a feed client. A zero timeout falls back to 10 seconds so a
// stalled endpoint cannot hold a worker indefinitely.
func NewFeed(baseURL string, timeout time.Duration, log *slog.Logger) *Feed {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultFeedEndpoint
	}
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Feed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With("component", "severity.feed"),
	}
}

// URL returns the document URL for the second containing at.
func (f *Feed) URL(at time.Time) string {
	return f.baseURL + "/" + at.In(JST).Format(feedTimestampLayout) + ".json"
}

// Fetch loads and decodes the document for at. It returns ErrUnconfirmed when
// the feed answers with a "no data" sentinel.
func (f *Feed) Fetch(ctx context.Context, at time.Time) (Report, error) {
	url := f.URL(at)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Report{}, fmt.Errorf("build feed request: %w", err)
	}

	startedAt := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedResponseBytes))
	if err != nil {
		return Report{}, fmt.Errorf("read feed response: %w", err)
	}
	f.log.Debug("Feed response", "url", url, "status", resp.StatusCode, "duration_ms", time.Since(startedAt).Milliseconds(), "body", truncate(string(body), feedResponseLogLimit))

	if resp.StatusCode >= http.StatusBadRequest {
		return Report{}, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	return decodeReport(body)
}

func decodeReport(body []byte) (Report, error) {
	var payload feedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Report{}, fmt.Errorf("decode feed response: %w", err)
	}

	if msg := strings.TrimSpace(payload.Result.Message); msg != "" {
		return Report{}, fmt.Errorf("%w: %s", ErrUnconfirmed, msg)
	}

	magnitude, err := parseNumber("magnitude", string(payload.Magnitude))
	if err != nil {
		return Report{}, err
	}
	depth, err := parseNumber("depth", string(payload.Depth))
	if err != nil {
		return Report{}, err
	}
	latitude, err := parseNumber("latitude", string(payload.Latitude))
	if err != nil {
		return Report{}, err
	}
	longitude, err := parseNumber("longitude", string(payload.Longitude))
	if err != nil {
		return Report{}, err
	}

	return Report{
		RegionName:    strings.TrimSpace(string(payload.RegionName)),
		Magnitude:     magnitude,
		DepthKm:       depth,
		CalcIntensity: strings.TrimSpace(string(payload.CalcIntensity)),
		ReportNum:     strings.TrimSpace(string(payload.ReportNum)),
		IsFinal:       parseFlag(string(payload.IsFinal)),
		AlertFlag:     strings.TrimSpace(string(payload.AlertFlag)),
		Epicenter:     Location{Latitude: latitude, Longitude: longitude},
	}, nil
}

// parseNumber extracts the first decimal number, tolerating unit suffixes
// such as "10km".
func parseNumber(field string, raw string) (float64, error) {
	match := numberPattern.FindString(raw)
	if match == "" {
		return 0, fmt.Errorf("feed field %s missing or not numeric: %q", field, raw)
	}

	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("parse feed field %s: %w", field, err)
	}

	return value, nil
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}

	return text[:limit] + "..."
}
