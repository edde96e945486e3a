package dispatch

import (
	"fmt"
	"strings"
	"time"

	"quakenotify/pkg/channel"
	"quakenotify/pkg/config"
	"quakenotify/pkg/severity"
)

const (
	eventTimeLayout = "2006-01-02 15:04:05.00"
	kmoniURL        = "http://www.kmoni.bosai.go.jp/"
	liveFeedURL     = "https://raspberryshake.net/stationview/#?net=%s&sta=%s"
)

// AlarmHeader renders the first lines of an alert for the given style. The
// event time is shown in JST.
func AlarmHeader(style channel.MessageStyle, station config.StationConfig, eventTime time.Time) string {
	stationID := station.Network + "." + station.Code
	shown := eventTime.In(severity.JST).Format(eventTimeLayout)

	if style == channel.StyleCompact {
		return fmt.Sprintf("地震発生 %s\n%s JST\n%s", stationID, shown, kmoniURL)
	}

	region := ""
	if r := strings.TrimSpace(station.Region); r != "" {
		region = " - region: " + r
	}
	live := fmt.Sprintf(liveFeedURL, station.Network, station.Code)

	return fmt.Sprintf("(Raspberry Shake station %s%s) Event detected at %s JST - live feed %s\n%s", stationID, region, shown, live, kmoniURL)
}

// AlarmText appends the severity summary to the header.
func AlarmText(header string, est severity.Estimate) string {
	return joinLines(header, est.Message)
}

// ImageCaption combines the most recent alarm header with the image label.
func ImageCaption(header, label string) string {
	return joinLines(header, label)
}

func joinLines(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}

	return strings.Join(kept, "\n")
}
