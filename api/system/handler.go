// Package system serves the health and identity endpoints.
package system

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/wodeewa/fleetd/auth"
)

// Healthz is the load-balancer health check.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// Hostname reports which instance answered, for debugging behind a
// balancer.
func Hostname(w http.ResponseWriter, _ *http.Request) {
	name, err := os.Hostname()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(name))
}

// Whoami echoes the resolved principal, mostly for testing auth wiring.
func Whoami(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "authentication needed", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"email": p.Email,
		"role":  string(p.Role),
	})
}
