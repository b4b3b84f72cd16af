package model

// EventKind tags an event on the bus.
type EventKind string

const (
	EventUnitChanged EventKind = "unit_changed"
	EventKeepalive   EventKind = "keepalive"
	EventStreamEnd   EventKind = "stream_end"
)

// Event is what flows from the cache to stream subscribers. For
// EventUnitChanged, Unit holds the full current snapshot of the affected
// unit, not a delta. Keepalive and stream-end events carry no payload.
type Event struct {
	Kind EventKind  `json:"kind"`
	Unit *UnitState `json:"unit,omitempty"`
}
