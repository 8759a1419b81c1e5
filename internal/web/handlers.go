package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/robplow/ebike-monitor/internal/session"
	"github.com/robplow/ebike-monitor/internal/storage"
)

const (
	defaultReadingsLimit = 50
	maxReadingsLimit     = 1000
	maxBodyBytes         = 4 << 10
)

// Controller is the part of *session.Session the HTTP API drives.
type Controller interface {
	StartScan() error
	ConnectToConfiguredBike() error
	ConnectToDevice(address string) error
	Disconnect() error
	ClearDataLog() error
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
	ConfiguredAddress() string
	ConfiguredName() string
}

// ReadingStore serves stored readings. *storage.History satisfies it.
type ReadingStore interface {
	RecentReadings(ctx context.Context, limit int) ([]storage.Reading, error)
}

type handlers struct {
	ctl      Controller
	readings ReadingStore
}

type errorResponse struct {
	Error string `json:"error"`
}

type connectRequest struct {
	Address string `json:"address"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[HTTP] encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// commandStatus maps a session command error to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoDeviceAddress),
		errors.Is(err, session.ErrInvalidAddress),
		errors.Is(err, session.ErrInvalidUUID):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrAdapterUnavailable), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// command runs fn and replies with the resulting status, or the mapped error.
func (h *handlers) command(w http.ResponseWriter, name string, fn func() error) {
	if err := fn(); err != nil {
		slog.Info("[HTTP] command rejected", "command", name, "error", err)
		writeError(w, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, newStatusView(h.ctl.Snapshot(), h.ctl))
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusView(h.ctl.Snapshot(), h.ctl))
}

func (h *handlers) scanResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusView(h.ctl.Snapshot(), h.ctl).ScanResults)
}

func (h *handlers) dataLog(w http.ResponseWriter, r *http.Request) {
	entries := h.ctl.Snapshot().DataLog
	if entries == nil {
		entries = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"entries": entries})
}

func (h *handlers) clearLog(w http.ResponseWriter, r *http.Request) {
	h.command(w, "clear-log", h.ctl.ClearDataLog)
}

func (h *handlers) scan(w http.ResponseWriter, r *http.Request) {
	h.command(w, "scan", h.ctl.StartScan)
}

func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Address == "" {
		h.command(w, "connect", h.ctl.ConnectToConfiguredBike)
		return
	}
	h.command(w, "connect", func() error { return h.ctl.ConnectToDevice(req.Address) })
}

func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	h.command(w, "disconnect", h.ctl.Disconnect)
}

func (h *handlers) recentReadings(w http.ResponseWriter, r *http.Request) {
	if h.readings == nil {
		writeError(w, http.StatusNotFound, "reading history is disabled")
		return
	}

	limit := defaultReadingsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxReadingsLimit)
	}

	readings, err := h.readings.RecentReadings(r.Context(), limit)
	if err != nil {
		slog.Error("[HTTP] load readings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	writeJSON(w, http.StatusOK, newReadingViews(readings))
}
