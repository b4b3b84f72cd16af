// Package stream serves the long-lived server-push event stream.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wodeewa/fleetd/auth"
	"github.com/wodeewa/fleetd/core/logger"
	"github.com/wodeewa/fleetd/core/metrics"
	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/core/unitcache"
	"github.com/wodeewa/fleetd/core/visibility"
	"github.com/wodeewa/fleetd/internal/eventbus"
)

// Handler dispatches filtered bus events to one SSE connection per request.
// Clients receive the current visible state immediately, then updates as
// they happen.
type Handler struct {
	bus   *eventbus.Bus
	cache *unitcache.Cache
	sink  metrics.Sink
	log   logger.Logger
}

// New creates a stream Handler. sink may be nil.
func New(bus *eventbus.Bus, cache *unitcache.Cache, sink metrics.Sink, log logger.Logger) *Handler {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Handler{bus: bus, cache: cache, sink: sink, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	p, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication needed", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	id, ch := h.bus.Subscribe()
	defer func() {
		h.bus.Unsubscribe(id)
		h.sink.SetSubscribers(h.bus.Subscribers())
	}()
	h.sink.SetSubscribers(h.bus.Subscribers())
	h.log.Debugf("stream opened; subscriber='%s', user='%s'", id, p.Email)

	// Current state first, so the client starts from a consistent view
	// instead of waiting for the next change.
	for _, state := range h.cache.States() {
		state := state
		ev := model.Event{Kind: model.EventUnitChanged, Unit: &state}
		if !visibility.Visible(p.Email, p.Role, ev) {
			continue
		}
		if err := writeFrame(w, flusher, ev); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !visibility.Visible(p.Email, p.Role, ev) {
				continue
			}
			if err := writeFrame(w, flusher, ev); err != nil {
				h.log.Debugf("stream write failed; subscriber='%s': %v", id, err)
				return
			}
			if ev.Kind == model.EventStreamEnd {
				return
			}
		case <-r.Context().Done():
			h.log.Debugf("stream closed; subscriber='%s'", id)
			return
		}
	}
}

// writeFrame encodes one event in SSE framing and flushes it. The stream-end
// kind goes on the wire as the literal "end" tag.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, ev model.Event) error {
	kind := string(ev.Kind)
	if ev.Kind == model.EventStreamEnd {
		kind = "end"
	}
	data, err := json.Marshal(ev.Unit)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
