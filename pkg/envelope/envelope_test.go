package envelope

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	eventTime := time.Date(2024, 1, 1, 0, 0, 5, 250000000, time.UTC)

	tests := []struct {
		name      string
		payload   string
		wantKind  Kind
		wantTime  time.Time
		wantPath  string
		wantLabel string
	}{
		{name: "alarm epoch", payload: "ALARM 1704067205.25", wantKind: KindAlarm, wantTime: eventTime},
		{name: "alarm iso", payload: "ALARM 2024-01-01T00:00:05.250000Z", wantKind: KindAlarm, wantTime: eventTime},
		{name: "alarm without time", payload: "ALARM", wantKind: KindAlarm},
		{name: "alarm channel then epoch", payload: "ALARM AM.R6E51.00.EHZ 1704067205.25", wantKind: KindAlarm, wantTime: eventTime},
		{name: "alarm channel then iso", payload: "ALARM AM.R6E51.00.EHZ 2024-01-01T00:00:05.250000Z", wantKind: KindAlarm, wantTime: eventTime},
		{name: "alarm bytes repr", payload: "b'ALARM 1704067205.25'", wantKind: KindAlarm, wantTime: eventTime},
		{name: "alarm space separated time", payload: "ALARM AM.R6E51.00.EHZ 2024-01-01 00:00:05.25", wantKind: KindAlarm, wantTime: eventTime},
		{name: "alarm nan", payload: "ALARM NaN", wantKind: KindAlarm},
		{name: "alarm inf", payload: "ALARM +Inf", wantKind: KindAlarm},
		{name: "alarm small number is not a time", payload: "ALARM 00 EHZ", wantKind: KindAlarm},
		{name: "alarm far future", payload: "ALARM 99999999999", wantKind: KindAlarm},
		{name: "image with label", payload: "IMGPATH /var/plots/AM.R1234-event.png|震度３", wantKind: KindImage, wantPath: "/var/plots/AM.R1234-event.png", wantLabel: "震度３"},
		{name: "image with time", payload: "IMGPATH 1704067205.25 /var/plots/a.png|震度１", wantKind: KindImage, wantTime: eventTime, wantPath: "/var/plots/a.png", wantLabel: "震度１"},
		{name: "image without label", payload: "IMGPATH/var/plots/a.png", wantKind: KindImage, wantPath: "/var/plots/a.png"},
		{name: "image path containing term", payload: "IMGPATH /srv/TERMINAL/a.png|震度２", wantKind: KindImage, wantPath: "/srv/TERMINAL/a.png", wantLabel: "震度２"},
		{name: "terminate", payload: "TERM", wantKind: KindTerminate},
		{name: "terminate embedded", payload: "b'TERM'", wantKind: KindTerminate},
		{name: "unknown", payload: "RESET", wantKind: KindUnknown},
		{name: "empty", payload: "", wantKind: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Parse([]byte(tt.payload))
			if env.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", env.Kind, tt.wantKind)
			}
			if !env.EventTime.Equal(tt.wantTime) {
				t.Fatalf("event time = %v, want %v", env.EventTime, tt.wantTime)
			}
			if env.Path != tt.wantPath {
				t.Fatalf("path = %q, want %q", env.Path, tt.wantPath)
			}
			if env.Label != tt.wantLabel {
				t.Fatalf("label = %q, want %q", env.Label, tt.wantLabel)
			}
			if env.ID == "" {
				t.Fatal("expected envelope id")
			}
		})
	}
}

func TestEncodeParsesBack(t *testing.T) {
	eventTime := time.Date(2024, 3, 11, 5, 46, 18, 0, time.UTC)

	alarm := Parse(Alarm(eventTime).Encode())
	if alarm.Kind != KindAlarm || !alarm.EventTime.Equal(eventTime) {
		t.Fatalf("alarm = %+v", alarm)
	}

	image := Parse(Image("/tmp/plot.png", "震度４").Encode())
	if image.Kind != KindImage || image.Path != "/tmp/plot.png" || image.Label != "震度４" {
		t.Fatalf("image = %+v", image)
	}

	if term := Parse(Terminate().Encode()); term.Kind != KindTerminate {
		t.Fatalf("terminate kind = %s", term.Kind)
	}
}
