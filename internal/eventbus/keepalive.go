package eventbus

import (
	"context"
	"time"

	"github.com/wodeewa/fleetd/core/model"
)

// Keepalive publishes a synthetic event at a fixed interval so idle push
// connections keep moving bytes. Proxies and browsers tear down chunked
// responses that stay silent for too long.
type Keepalive struct {
	bus      *Bus
	interval time.Duration
}

// NewKeepalive creates a Keepalive ticker for the bus. A non-positive
// interval falls back to one minute.
func NewKeepalive(bus *Bus, interval time.Duration) *Keepalive {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Keepalive{bus: bus, interval: interval}
}

// Run ticks until the context is cancelled.
func (k *Keepalive) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			k.bus.Publish(model.Event{Kind: model.EventKeepalive})
		case <-ctx.Done():
			return
		}
	}
}
