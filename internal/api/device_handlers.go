package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/transport"
)

// listDevices handles GET /api/devices
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.registry.List()
	log.Debug("listed devices", "count", len(devices))
	h.writeJSON(w, http.StatusOK, devices)
}

// getDevice handles GET /api/devices/{key}
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	device, err := h.registry.Get(key)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, device)
}

// addDevice handles POST /api/devices
func (h *Handler) addDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Address == "" {
		h.writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	state, err := h.transport.FetchState(r.Context(), req.Address)
	if err != nil {
		log.Warn("device did not answer state fetch", "address", req.Address, "error", err)
		h.writeError(w, http.StatusBadGateway, "device unreachable: "+err.Error())
		return
	}

	device, err := h.registry.Add(req.Address, state)
	if err != nil {
		if errors.Is(err, registry.ErrNameCollision) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.internalError(w, err)
		return
	}

	if h.settings != nil {
		if err := h.settings.Reconcile(h.registry, req.Address); err != nil {
			log.Warn("settings reconciliation failed", "address", req.Address, "error", err)
		} else if rec, err := h.registry.Get(req.Address); err == nil {
			device = rec
		}
	}

	log.Info("device added", "address", device.Address, "name", device.Name)
	h.writeJSON(w, http.StatusCreated, device)
}

// removeDevice handles DELETE /api/devices/{key}. The key must be the exact
// address; registered names are not accepted here. With ?purge=true the
// persisted settings entry goes too.
func (h *Handler) removeDevice(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("key")

	device, err := h.registry.Remove(address)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	if r.URL.Query().Get("purge") == "true" && h.settings != nil {
		if h.settings.Forget(address) {
			if err := h.settings.Save(); err != nil {
				log.Error("failed to save settings", "address", address, "error", err)
			}
		}
	}

	log.Info("device removed", "address", address, "name", device.Name)
	w.WriteHeader(http.StatusNoContent)
}

// refreshDevice handles POST /api/devices/{key}/refresh
func (h *Handler) refreshDevice(w http.ResponseWriter, r *http.Request) {
	device := h.refreshRecord(w, r)
	if device == nil {
		return
	}
	log.Info("device refreshed", "address", device.Address, "name", device.Name)
	h.writeJSON(w, http.StatusOK, device)
}

// deviceSensors handles GET /api/devices/{key}/sensors. The state snapshot
// is refetched first so readings are live, not registry leftovers.
func (h *Handler) deviceSensors(w http.ResponseWriter, r *http.Request) {
	device := h.refreshRecord(w, r)
	if device == nil {
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"address":  device.Address,
		"name":     device.Name,
		"readings": device.Readings(),
	})
}

// refreshRecord refetches the state of the device behind {key} and applies
// refresh semantics in the registry. On failure the response has already
// been written and nil comes back.
func (h *Handler) refreshRecord(w http.ResponseWriter, r *http.Request) *model.DeviceRecord {
	key := r.PathValue("key")

	device, err := h.registry.Get(key)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return nil
		}
		h.internalError(w, err)
		return nil
	}

	state, err := h.transport.FetchState(r.Context(), device.Address)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "device unreachable: "+err.Error())
		return nil
	}

	device, err = h.registry.Add(device.Address, state)
	if err != nil {
		if errors.Is(err, registry.ErrNameCollision) {
			h.writeError(w, http.StatusConflict, err.Error())
			return nil
		}
		h.internalError(w, err)
		return nil
	}
	return device
}

// badGateway maps a transport failure onto the response.
func (h *Handler) badGateway(w http.ResponseWriter, err error) {
	var te *transport.TransportError
	if errors.As(err, &te) {
		h.writeError(w, http.StatusBadGateway, te.Error())
		return
	}
	h.internalError(w, err)
}
