package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ElZetto/espisy/internal/history"
	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/mqtt"
	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/scanner"
	"github.com/ElZetto/espisy/internal/settings"
	"github.com/ElZetto/espisy/internal/transport"
)

// Deps carries the handler's collaborators. Settings, History and Imports
// are optional; the routes depending on them answer 503 when absent.
type Deps struct {
	Registry  *registry.Registry
	Transport *transport.Client
	Scanner   *scanner.Engine
	Settings  *settings.Store
	History   *history.Store
	Imports   *mqtt.Buffer
}

// Handler handles HTTP requests.
type Handler struct {
	registry  *registry.Registry
	transport *transport.Client
	scanner   *scanner.Engine
	settings  *settings.Store
	history   *history.Store
	imports   *mqtt.Buffer
	startedAt time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		registry:  deps.Registry,
		transport: deps.Transport,
		scanner:   deps.Scanner,
		settings:  deps.Settings,
		history:   deps.History,
		imports:   deps.Imports,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Device registry
	mux.HandleFunc("GET /api/devices", h.listDevices)
	mux.HandleFunc("POST /api/devices", h.addDevice)
	mux.HandleFunc("GET /api/devices/{key}", h.getDevice)
	mux.HandleFunc("DELETE /api/devices/{key}", h.removeDevice)
	mux.HandleFunc("POST /api/devices/{key}/refresh", h.refreshDevice)
	mux.HandleFunc("GET /api/devices/{key}/sensors", h.deviceSensors)

	// Switch control
	mux.HandleFunc("GET /api/devices/{key}/switches/{name}", h.switchState)
	mux.HandleFunc("PUT /api/devices/{key}/switches/{name}", h.mapSwitch)
	mux.HandleFunc("DELETE /api/devices/{key}/switches/{name}", h.deleteSwitch)
	mux.HandleFunc("POST /api/devices/{key}/switches/{name}/on", h.switchAction(actionOn))
	mux.HandleFunc("POST /api/devices/{key}/switches/{name}/off", h.switchAction(actionOff))
	mux.HandleFunc("POST /api/devices/{key}/switches/{name}/toggle", h.switchAction(actionToggle))

	// Direct device control
	mux.HandleFunc("POST /api/devices/{key}/event/{name}", h.fireEvent)
	mux.HandleFunc("POST /api/devices/{key}/command", h.rawCommand)
	mux.HandleFunc("POST /api/devices/{key}/display", h.display)

	// Discovery
	mux.HandleFunc("POST /api/scan", h.startScan)
	mux.HandleFunc("GET /api/scans", h.listScans)
	mux.HandleFunc("GET /api/scans/{id}", h.getScan)

	// MQTT import buffer
	mux.HandleFunc("GET /api/mqtt/messages", h.mqttMessages)

	mux.HandleFunc("GET /api/health", h.health)
}

// health handles GET /api/health
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": h.registry.Len(),
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// internalError logs the error and writes a generic 500 response
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("internal server error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// persistSettings saves the current mapping of a record into the settings
// file. Failures are logged, not surfaced; the in-memory state is already
// updated and the next save retries.
func (h *Handler) persistSettings(key string) {
	if h.settings == nil {
		return
	}
	rec, err := h.registry.Get(key)
	if err != nil {
		return
	}
	h.settings.Update(rec)
	if err := h.settings.Save(); err != nil {
		log.Error("failed to save settings", "address", rec.Address, "error", err)
	}
}
