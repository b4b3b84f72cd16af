// Package report is the HTTP ingest adapter for unit reports.
package report

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wodeewa/fleetd/auth"
	"github.com/wodeewa/fleetd/core/ingest"
	"github.com/wodeewa/fleetd/core/logger"
)

// Handler exposes the report and startup endpoints. The unit's identity is
// derived from the forwarded TLS client certificate, never from the body.
type Handler struct {
	ingest *ingest.Handler
	log    logger.Logger
}

// New creates a report Handler.
func New(in *ingest.Handler, log logger.Logger) *Handler {
	return &Handler{ingest: in, log: log}
}

// Report handles POST /report. Empty body response on success.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	unit, err := auth.UnitFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var rep ingest.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if err := h.ingest.Report(r.Context(), unit, rep); err != nil {
		h.fail(w, unit, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startupBody struct {
	Nonce string `json:"nonce"`
}

// Startup handles POST /startup, the boot handshake registering the unit's
// take nonce.
func (h *Handler) Startup(w http.ResponseWriter, r *http.Request) {
	unit, err := auth.UnitFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var body startupBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if err := h.ingest.Startup(r.Context(), unit, body.Nonce); err != nil {
		h.fail(w, unit, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, unit string, err error) {
	if errors.Is(err, ingest.ErrBadReport) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.log.Errorf("ingest failed; unit='%s': %v", unit, err)
	http.Error(w, "persistence failure", http.StatusInternalServerError)
}
