package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := CORS([]string{"https://app.example.com"})(next)

	run := func(method, origin string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, "/client/v0/unit", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	// no Origin header passes straight through
	w := run(http.MethodGet, "")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = run(http.MethodGet, "https://app.example.com")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	w = run(http.MethodOptions, "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = run(http.MethodGet, "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
