// Package admin serves the technician history queries.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wodeewa/fleetd/core/logger"
	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/core/store"
)

// Handler exposes time-filtered record queries against the store. Role
// enforcement happens in the router middleware.
type Handler struct {
	store store.Store
	log   logger.Logger
	now   func() int64
}

// New creates an admin Handler.
func New(st store.Store, log logger.Logger) *Handler {
	return &Handler{store: st, log: log, now: func() int64 { return time.Now().Unix() }}
}

// parseQuery builds a store.Query from the request. Duration parameters
// (days/hours/minutes/seconds) anchor on until, from, or now, in that
// order. When both bounds and a duration are given, the duration loses.
func (h *Handler) parseQuery(r *http.Request) store.Query {
	q := store.Query{Unit: chi.URLParam(r, "name")}
	vals := r.URL.Query()
	if v := vals.Get("from"); v != "" {
		q.From, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := vals.Get("until"); v != "" {
		q.Until, _ = strconv.ParseInt(v, 10, 64)
	}
	var duration int64
	for param, scale := range map[string]int64{"seconds": 1, "minutes": 60, "hours": 3600, "days": 86400} {
		if v := vals.Get(param); v != "" {
			n, _ := strconv.ParseInt(v, 10, 64)
			duration += n * scale
		}
	}
	if duration > 0 && (q.From == 0 || q.Until == 0) {
		switch {
		case q.Until != 0:
			q.From = q.Until - duration
		case q.From != 0:
			q.Until = q.From + duration
		default:
			q.From = h.now() - duration
		}
	}
	if v := vals.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if st := model.UnitStatus(s); st.Valid() {
				q.Statuses = append(q.Statuses, st)
			}
		}
	}
	if v := vals.Get("num"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	return q
}

// Trace handles GET /unit/trace[/{name}].
func (h *Handler) Trace(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.LocationHistory(r.Context(), h.parseQuery(r))
	h.respond(w, recs, err)
}

// Status handles GET /unit/status[/{name}].
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.StatusHistory(r.Context(), h.parseQuery(r))
	h.respond(w, recs, err)
}

// Battery handles GET /unit/battery[/{name}].
func (h *Handler) Battery(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.BatteryHistory(r.Context(), h.parseQuery(r))
	h.respond(w, recs, err)
}

func (h *Handler) respond(w http.ResponseWriter, recs any, err error) {
	if err != nil {
		h.log.Errorf("history query failed: %v", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(recs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
