// Package envelope parses the control messages the seismograph pipeline puts
// on the shared queue.
package envelope

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TagAlarm     = "ALARM"
	TagImage     = "IMGPATH"
	TagTerminate = "TERM"
)

// Kind tags the envelope variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlarm
	KindImage
	KindTerminate
)

func (k Kind) String() string {
	switch k {
	case KindAlarm:
		return "alarm"
	case KindImage:
		return "image"
	case KindTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Envelope is one parsed queue message. Only the fields of its Kind are set.
type Envelope struct {
	ID         string
	Kind       Kind
	EventTime  time.Time
	Path       string
	Label      string
	Raw        string
	ReceivedAt time.Time
}

const quoteChars = `'"`

// Event times outside this window are treated as garbage, not as 1970 or the
// far future.
var (
	minEventTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	maxEventTime = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

// Alarm builds an alarm envelope for an event detected at eventTime.
func Alarm(eventTime time.Time) Envelope {
	return stamp(Envelope{Kind: KindAlarm, EventTime: eventTime})
}

// Image builds an image envelope referring to a rendered plot.
func Image(path, label string) Envelope {
	return stamp(Envelope{Kind: KindImage, Path: path, Label: label})
}

// Terminate builds the shutdown envelope.
func Terminate() Envelope {
	return stamp(Envelope{Kind: KindTerminate})
}

func stamp(env Envelope) Envelope {
	env.ID = uuid.NewString()
	env.ReceivedAt = time.Now().UTC()
	env.Raw = string(env.Encode())
	return env
}

// Encode renders the wire form accepted by Parse.
func (e Envelope) Encode() []byte {
	switch e.Kind {
	case KindAlarm:
		seconds := float64(e.EventTime.UnixNano()) / float64(time.Second)
		return []byte(TagAlarm + " " + strconv.FormatFloat(seconds, 'f', 6, 64))
	case KindImage:
		text := TagImage + " " + e.Path
		if e.Label != "" {
			text += "|" + e.Label
		}
		return []byte(text)
	case KindTerminate:
		return []byte(TagTerminate)
	default:
		return []byte(e.Raw)
	}
}

// Parse classifies a raw queue payload. A payload that starts with a tag is
// classified by that tag; otherwise tags are matched by containment, TERM
// first. Unrecognized payloads yield KindUnknown.
func Parse(payload []byte) Envelope {
	raw := strings.TrimSpace(string(payload))
	env := Envelope{
		ID:         uuid.NewString(),
		Raw:        raw,
		ReceivedAt: time.Now().UTC(),
	}

	switch kindOf(raw) {
	case KindTerminate:
		env.Kind = KindTerminate
	case KindAlarm:
		env.Kind = KindAlarm
		env.EventTime = parseEventTime(afterTag(raw, TagAlarm))
	case KindImage:
		env.Kind = KindImage
		env.EventTime, env.Path, env.Label = parseImage(afterTag(raw, TagImage))
	}

	return env
}

func kindOf(raw string) Kind {
	switch {
	case strings.HasPrefix(raw, TagImage):
		return KindImage
	case strings.HasPrefix(raw, TagAlarm):
		return KindAlarm
	case strings.HasPrefix(raw, TagTerminate):
		return KindTerminate
	case strings.Contains(raw, TagTerminate):
		return KindTerminate
	case strings.Contains(raw, TagAlarm):
		return KindAlarm
	case strings.Contains(raw, TagImage):
		return KindImage
	default:
		return KindUnknown
	}
}

func afterTag(raw, tag string) string {
	_, rest, _ := strings.Cut(raw, tag)
	return strings.TrimSpace(rest)
}

// parseEventTime returns the first token that reads as epoch seconds or an
// ISO-8601 time, so "ALARM <NET.STN.LOC.CHN> <time>" and quoted byte reprs
// both work. The zero time is returned when nothing parses.
func parseEventTime(meta string) time.Time {
	fields := strings.Fields(meta)
	for i := range fields {
		fields[i] = strings.Trim(fields[i], quoteChars)
	}

	for i, field := range fields {
		if t, ok := parseTimestamp(field); ok {
			return t
		}
		if i+1 < len(fields) {
			if t, ok := parseTimestamp(field + " " + fields[i+1]); ok {
				return t
			}
		}
	}

	return time.Time{}
}

// parseTimestamp rejects non-finite numbers and anything outside
// [minEventTime, maxEventTime].
func parseTimestamp(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	if seconds, err := strconv.ParseFloat(token, 64); err == nil {
		if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return time.Time{}, false
		}
		if seconds < float64(minEventTime.Unix()) || seconds > float64(maxEventTime.Unix()) {
			return time.Time{}, false
		}
		whole := int64(seconds)
		frac := int64((seconds - float64(whole)) * float64(time.Second))
		return time.Unix(whole, frac).UTC(), true
	}

	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			if t.Before(minEventTime) || t.After(maxEventTime) {
				return time.Time{}, false
			}
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

// parseImage splits "[<time> ]<path>|<label>".
func parseImage(meta string) (time.Time, string, string) {
	pathPart, label, _ := strings.Cut(meta, "|")
	pathPart = strings.TrimSpace(pathPart)
	label = strings.TrimSpace(label)

	if head, rest, ok := strings.Cut(pathPart, " "); ok {
		if t, parsed := parseTimestamp(head); parsed {
			return t, strings.TrimSpace(rest), label
		}
	}

	return time.Time{}, pathPart, label
}
