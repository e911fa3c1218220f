package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ElZetto/espisy/internal/history"
	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/scanner"
)

// startScan handles POST /api/scan. The scan runs synchronously; a /24 with
// default concurrency completes within a few probe timeouts.
func (h *Handler) startScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Network     string `json:"network"`
		TimeoutMs   int    `json:"timeout_ms"`
		Concurrency int    `json:"concurrency"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	network := req.Network
	if network == "" && h.settings != nil {
		network = h.settings.Network()
	}
	if network == "" {
		h.writeError(w, http.StatusBadRequest, "network is required (no default configured)")
		return
	}

	eng := h.scanner
	if req.TimeoutMs > 0 || req.Concurrency > 0 {
		// A nil *history.Store must stay a nil interface inside the engine.
		var hist scanner.History
		if h.history != nil {
			hist = h.history
		}
		eng = scanner.New(h.registry, h.transport, h.settings, hist)
		eng.SetMaxConcurrent(req.Concurrency)
		eng.SetProbeTimeout(time.Duration(req.TimeoutMs) * time.Millisecond)
	}

	log.Info("scan requested", "network", network)
	report, err := eng.ScanNetwork(r.Context(), network)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// listScans handles GET /api/scans
func (h *Handler) listScans(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scan history disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	scans, err := h.history.ListScans(r.Context(), limit)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, scans)
}

// getScan handles GET /api/scans/{id}
func (h *Handler) getScan(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scan history disabled")
		return
	}

	report, err := h.history.GetScan(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, history.ErrScanNotFound) {
			h.writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// mqttMessages handles GET /api/mqtt/messages. Without a topic parameter it
// lists the topics with retained messages.
func (h *Handler) mqttMessages(w http.ResponseWriter, r *http.Request) {
	if h.imports == nil {
		h.writeError(w, http.StatusServiceUnavailable, "mqtt listener disabled")
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		h.writeJSON(w, http.StatusOK, map[string]any{"topics": h.imports.Topics()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"topic":    topic,
		"messages": h.imports.Messages(topic),
	})
}
