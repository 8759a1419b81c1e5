// Package web serves the session over HTTP: a JSON API for status and
// commands, and a WebSocket that pushes every new snapshot.
package web

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewRouter builds the API routes. readings may be nil when history is
// disabled.
func NewRouter(ctl Controller, readings ReadingStore, hub *Hub) *mux.Router {
	h := &handlers{ctl: ctl, readings: readings}

	r := mux.NewRouter()
	r.Use(Logging)
	r.Use(Recover)

	// Routes live on the root router so a method mismatch reaches
	// MethodNotAllowedHandler instead of falling through to a 404.
	r.HandleFunc("/api/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/api/scan-results", h.scanResults).Methods(http.MethodGet)
	r.HandleFunc("/api/log", h.dataLog).Methods(http.MethodGet)
	r.HandleFunc("/api/log", h.clearLog).Methods(http.MethodDelete)
	r.HandleFunc("/api/scan", h.scan).Methods(http.MethodPost)
	r.HandleFunc("/api/connect", h.connect).Methods(http.MethodPost)
	r.HandleFunc("/api/disconnect", h.disconnect).Methods(http.MethodPost)
	r.HandleFunc("/api/readings", h.recentReadings).Methods(http.MethodGet)
	if hub != nil {
		r.HandleFunc("/api/ws", hub.ServeWS).Methods(http.MethodGet)
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
