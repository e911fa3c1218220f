package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/registry"
)

const (
	actionOn     = "on"
	actionOff    = "off"
	actionToggle = "toggle"
)

type switchStateResponse struct {
	Address string `json:"address"`
	Switch  string `json:"switch"`
	Gpio    int    `json:"gpio"`
	State   int    `json:"state"`
}

// switchAction builds the handler for POST .../switches/{name}/on|off|toggle
func (h *Handler) switchAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, name := r.PathValue("key"), r.PathValue("name")

		device, pin, ok := h.resolveSwitch(w, key, name)
		if !ok {
			return
		}

		var state int
		var err error
		switch action {
		case actionOn:
			state, err = h.transport.SwitchGpio(r.Context(), device.Address, pin, true)
		case actionOff:
			state, err = h.transport.SwitchGpio(r.Context(), device.Address, pin, false)
		case actionToggle:
			state, err = h.transport.ToggleGpio(r.Context(), device.Address, pin)
		}
		if err != nil {
			h.badGateway(w, err)
			return
		}

		log.Info("switch actuated", "address", device.Address, "switch", name, "action", action, "state", state)
		h.writeJSON(w, http.StatusOK, switchStateResponse{
			Address: device.Address,
			Switch:  name,
			Gpio:    pin,
			State:   state,
		})
	}
}

// switchState handles GET /api/devices/{key}/switches/{name}
func (h *Handler) switchState(w http.ResponseWriter, r *http.Request) {
	key, name := r.PathValue("key"), r.PathValue("name")

	device, pin, ok := h.resolveSwitch(w, key, name)
	if !ok {
		return
	}

	state, err := h.transport.GpioState(r.Context(), device.Address, pin)
	if err != nil {
		h.badGateway(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, switchStateResponse{
		Address: device.Address,
		Switch:  name,
		Gpio:    pin,
		State:   state,
	})
}

// mapSwitch handles PUT /api/devices/{key}/switches/{name}
func (h *Handler) mapSwitch(w http.ResponseWriter, r *http.Request) {
	key, name := r.PathValue("key"), r.PathValue("name")

	var req struct {
		Gpio *int `json:"gpio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Gpio == nil || *req.Gpio < 0 {
		h.writeError(w, http.StatusBadRequest, "gpio must be a non-negative pin number")
		return
	}

	device, err := h.registry.MapSwitchGpio(key, name, *req.Gpio)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrDeviceNotFound):
			h.writeError(w, http.StatusNotFound, "device not found")
		case errors.Is(err, model.ErrUnknownSwitch):
			h.writeError(w, http.StatusNotFound, "switch not found")
		default:
			h.internalError(w, err)
		}
		return
	}

	h.persistSettings(device.Address)
	log.Info("switch mapped", "address", device.Address, "switch", name, "gpio", *req.Gpio)
	h.writeJSON(w, http.StatusOK, device)
}

// deleteSwitch handles DELETE /api/devices/{key}/switches/{name}
func (h *Handler) deleteSwitch(w http.ResponseWriter, r *http.Request) {
	key, name := r.PathValue("key"), r.PathValue("name")

	if err := h.registry.DeleteSwitch(key, name); err != nil {
		switch {
		case errors.Is(err, registry.ErrDeviceNotFound):
			h.writeError(w, http.StatusNotFound, "device not found")
		case errors.Is(err, model.ErrUnknownSwitch):
			h.writeError(w, http.StatusNotFound, "switch not found")
		default:
			h.internalError(w, err)
		}
		return
	}

	h.persistSettings(key)
	log.Info("switch deleted", "key", key, "switch", name)
	w.WriteHeader(http.StatusNoContent)
}

// fireEvent handles POST /api/devices/{key}/event/{name}
func (h *Handler) fireEvent(w http.ResponseWriter, r *http.Request) {
	key, name := r.PathValue("key"), r.PathValue("name")

	device, err := h.registry.Get(key)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	if err := h.transport.Event(r.Context(), device.Address, name); err != nil {
		h.badGateway(w, err)
		return
	}

	log.Info("event fired", "address", device.Address, "event", name)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"address": device.Address,
		"event":   name,
		"status":  "sent",
	})
}

// rawCommand handles POST /api/devices/{key}/command. The firmware answers
// some commands with broken JSON or bare text; both come back in "raw".
func (h *Handler) rawCommand(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req struct {
		Cmd string `json:"cmd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cmd == "" {
		h.writeError(w, http.StatusBadRequest, "cmd is required")
		return
	}

	device, err := h.registry.Get(key)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	result, err := h.transport.Command(r.Context(), device.Address, req.Cmd)
	if err != nil {
		h.badGateway(w, err)
		return
	}

	log.Info("raw command sent", "address", device.Address, "cmd", req.Cmd)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"address": device.Address,
		"cmd":     req.Cmd,
		"raw":     result.Raw,
		"parsed":  result.Parsed,
	})
}

// display handles POST /api/devices/{key}/display. The body either writes a
// line ({row, col, text}) or runs a display command ({cmd: clear|on|off}).
func (h *Handler) display(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req struct {
		Row  int    `json:"row"`
		Col  int    `json:"col"`
		Text string `json:"text"`
		Cmd  string `json:"cmd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cmd == "" && req.Text == "" {
		h.writeError(w, http.StatusBadRequest, "either cmd or text is required")
		return
	}

	device, err := h.registry.Get(key)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}
	if !device.HasCapability(model.CapDisplay) {
		h.writeError(w, http.StatusConflict, "device has no display")
		return
	}

	if req.Cmd != "" {
		err = h.transport.DisplayCmd(r.Context(), device.Address, req.Cmd)
	} else {
		err = h.transport.DisplayWrite(r.Context(), device.Address, req.Row, req.Col, req.Text)
	}
	if err != nil {
		h.badGateway(w, err)
		return
	}

	log.Info("display updated", "address", device.Address, "cmd", req.Cmd)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"address": device.Address,
		"status":  "ok",
	})
}

// resolveSwitch looks up the device behind key and the GPIO pin mapped to
// its switch. On failure the response has already been written.
func (h *Handler) resolveSwitch(w http.ResponseWriter, key, name string) (*model.DeviceRecord, int, bool) {
	device, err := h.registry.Get(key)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return nil, 0, false
		}
		h.internalError(w, err)
		return nil, 0, false
	}

	pin, err := device.SwitchGpio(name)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUnknownSwitch):
			h.writeError(w, http.StatusNotFound, "switch not found")
		case errors.Is(err, model.ErrNoGpioMapped):
			h.writeError(w, http.StatusConflict, "switch has no gpio mapped")
		default:
			h.internalError(w, err)
		}
		return nil, 0, false
	}

	return device, pin, true
}
