// Package source feeds raw pipeline payloads onto the envelope bus.
package source

import (
	"context"

	"quakenotify/pkg/bus"
)

// Source reads payloads from one transport and publishes them until ctx ends.
type Source interface {
	Name() string
	Run(ctx context.Context, b *bus.Bus) error
}
