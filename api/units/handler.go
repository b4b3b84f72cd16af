// Package units serves the customer-facing unit queries and the take/return
// operations.
package units

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wodeewa/fleetd/auth"
	"github.com/wodeewa/fleetd/core/logger"
	"github.com/wodeewa/fleetd/core/metrics"
	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/core/rental"
	"github.com/wodeewa/fleetd/core/store"
	"github.com/wodeewa/fleetd/core/unitcache"
)

// Handler serves unit queries from the cache and delegates take/return to
// the coordinator.
type Handler struct {
	cache *unitcache.Cache
	coord *rental.Coordinator
	sink  metrics.Sink
	log   logger.Logger
}

// New creates a units Handler. sink may be nil.
func New(cache *unitcache.Cache, coord *rental.Coordinator, sink metrics.Sink, log logger.Logger) *Handler {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Handler{cache: cache, coord: coord, sink: sink, log: log}
}

// List handles GET /unit. Without a filter it returns available units plus
// the caller's own in-use units; `?status=available` and `?status=in_use`
// narrow to one of the two.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication needed", http.StatusUnauthorized)
		return
	}
	filter := r.URL.Query().Get("status")
	if filter != "" && filter != string(model.StatusAvailable) && filter != string(model.StatusInUse) {
		http.Error(w, "invalid status filter", http.StatusBadRequest)
		return
	}
	out := make([]model.UnitState, 0)
	for _, state := range h.cache.States() {
		switch {
		case state.CurrentStatus() == model.StatusAvailable && filter != string(model.StatusInUse):
			out = append(out, state)
		case state.AssignedUser() == p.Email && filter != string(model.StatusAvailable):
			out = append(out, state)
		}
	}
	writeJSON(w, out)
}

// Get handles GET /unit/{unit}. A unit held by another principal is hidden.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication needed", http.StatusUnauthorized)
		return
	}
	unit := chi.URLParam(r, "unit")
	state, ok := h.cache.State(unit)
	if !ok {
		http.Error(w, "no such unit", http.StatusNotFound)
		return
	}
	if user := state.AssignedUser(); user != "" && user != p.Email {
		http.Error(w, "no such unit", http.StatusNotFound)
		return
	}
	writeJSON(w, state)
}

// Take handles POST /unit/{unit}/take?nonce=...
func (h *Handler) Take(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication needed", http.StatusUnauthorized)
		return
	}
	unit := chi.URLParam(r, "unit")
	nonce := r.URL.Query().Get("nonce")
	if unit == "" || nonce == "" {
		http.Error(w, "unit and nonce are mandatory", http.StatusBadRequest)
		return
	}
	err := h.coord.Take(r.Context(), unit, p.Email, nonce)
	h.sink.RecordRental("take", err == nil)
	if err != nil {
		h.rentalError(w, unit, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Return handles POST /unit/{unit}/return.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication needed", http.StatusUnauthorized)
		return
	}
	unit := chi.URLParam(r, "unit")
	if unit == "" {
		http.Error(w, "unit is mandatory", http.StatusBadRequest)
		return
	}
	err := h.coord.Return(r.Context(), unit, p.Email)
	h.sink.RecordRental("return", err == nil)
	if err != nil {
		h.rentalError(w, unit, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rentalError maps coordinator failures to machine-checkable conflict
// responses. No state was mutated and no event published in any of these
// cases; the caller may retry with corrected input.
func (h *Handler) rentalError(w http.ResponseWriter, unit string, err error) {
	switch {
	case errors.Is(err, store.ErrNotAvailable):
		writeError(w, http.StatusConflict, "not_available")
	case errors.Is(err, rental.ErrNotOnline):
		writeError(w, http.StatusConflict, "not_online")
	case errors.Is(err, rental.ErrBadNonce):
		writeError(w, http.StatusForbidden, "bad_nonce")
	case errors.Is(err, store.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner")
	default:
		h.log.Errorf("rental op failed; unit='%s': %v", unit, err)
		writeError(w, http.StatusInternalServerError, "persistence_failure")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
