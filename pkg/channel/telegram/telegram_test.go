package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"quakenotify/pkg/config"
	"quakenotify/pkg/failure"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelegramConfig
	}{
		{name: "missing token", cfg: config.TelegramConfig{ChatID: 42}},
		{name: "missing chat", cfg: config.TelegramConfig{Token: "123:abc"}},
		{name: "bad severity source", cfg: config.TelegramConfig{Token: "123:abc", ChatID: 42, DeliveryConfig: config.DeliveryConfig{SeveritySource: "vibes"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, nil); !failure.Is(err, failure.ErrorConfiguration) {
				t.Fatalf("New() error = %v, want configuration failure", err)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	short := "震度３"
	if got := truncate(short, captionLimit); got != short {
		t.Fatalf("truncate short = %q", got)
	}

	for _, limit := range []int{captionLimit, messageLimit} {
		long := strings.Repeat("震", limit+20)
		got := truncate(long, limit)
		if utf8.RuneCountInString(got) != limit {
			t.Fatalf("limit %d: runes = %d", limit, utf8.RuneCountInString(got))
		}
		if !strings.HasSuffix(got, "...") {
			t.Fatalf("limit %d: want ellipsis suffix", limit)
		}
	}

	exact := strings.Repeat("a", messageLimit)
	if got := truncate(exact, messageLimit); got != exact {
		t.Fatal("text at the limit must not be truncated")
	}
}
