package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the status document an ESPEasy node serves at /json. Only the
// fields the registry works with are typed; the full document is preserved
// in Raw for callers that need the rest (WiFi block, build info, TTL).
type State struct {
	System  System          `json:"System"`
	Sensors []Task          `json:"Sensors"`
	Raw     json.RawMessage `json:"-"`
}

// System is the subset of the firmware's System block used for identity.
type System struct {
	Name       string `json:"Unit Name"`
	UnitNumber int    `json:"Unit Number,omitempty"`
	Build      int    `json:"Build,omitempty"`
	Uptime     int    `json:"Uptime,omitempty"`
}

// Task is one configured sensor or actuator slot on the device.
type Task struct {
	TaskName   string      `json:"TaskName"`
	Type       string      `json:"Type"`
	TaskValues []TaskValue `json:"TaskValues"`
}

// TaskValue is a single named reading reported by a task.
type TaskValue struct {
	Name       string  `json:"Name"`
	Value      float64 `json:"Value"`
	NrDecimals int     `json:"NrDecimals"`
}

// Switch is the registry-side view of a switch task. Gpio stays nil until an
// operator maps the physical pin; the wire protocol never reveals it.
type Switch struct {
	Gpio *int `json:"gpio"`
}

// SensorReading is one flattened task value, annotated with its task.
type SensorReading struct {
	Task     string  `json:"task"`
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Decimals int     `json:"decimals"`
}

// DeviceRecord is the in-memory representation of one discovered device.
// Address is the immutable identity key; Name is the unit name the device
// reported on its last fetch and is not guaranteed unique across the network.
type DeviceRecord struct {
	Address      string             `json:"address"`
	Name         string             `json:"name"`
	Capabilities CapabilitySet      `json:"capabilities"`
	Switches     map[string]*Switch `json:"switches"`
	State        *State             `json:"-"`
	AddedAt      time.Time          `json:"added_at"`
	RefreshedAt  time.Time          `json:"refreshed_at"`
}

// HasCapability reports whether the record carries the capability tag.
func (r *DeviceRecord) HasCapability(c Capability) bool {
	return r.Capabilities.Has(c)
}

// SwitchGpio resolves a switch name to its mapped GPIO pin.
func (r *DeviceRecord) SwitchGpio(name string) (int, error) {
	sw, ok := r.Switches[name]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownSwitch)
	}
	if sw.Gpio == nil {
		return 0, fmt.Errorf("%q: %w", name, ErrNoGpioMapped)
	}
	return *sw.Gpio, nil
}

// Reading returns the first task value matching the capability's value name
// from the last state snapshot.
func (r *DeviceRecord) Reading(c Capability) (float64, error) {
	if !r.HasCapability(c) {
		return 0, fmt.Errorf("%s: %w", c, ErrCapabilityMissing)
	}
	want := c.ValueName()
	if want == "" {
		return 0, fmt.Errorf("%s: %w", c, ErrValueNotReported)
	}
	if r.State != nil {
		for _, task := range r.State.Sensors {
			for _, tv := range task.TaskValues {
				if tv.Name == want {
					return tv.Value, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("%s (%s): %w", c, want, ErrValueNotReported)
}

// Readings flattens all task values from the last state snapshot.
func (r *DeviceRecord) Readings() []SensorReading {
	if r.State == nil {
		return nil
	}
	var out []SensorReading
	for _, task := range r.State.Sensors {
		for _, tv := range task.TaskValues {
			out = append(out, SensorReading{
				Task:     task.TaskName,
				Type:     task.Type,
				Name:     tv.Name,
				Value:    tv.Value,
				Decimals: tv.NrDecimals,
			})
		}
	}
	return out
}

// Clone returns a deep copy so callers never alias registry-owned memory.
func (r *DeviceRecord) Clone() *DeviceRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Capabilities = r.Capabilities.Clone()
	clone.Switches = make(map[string]*Switch, len(r.Switches))
	for name, sw := range r.Switches {
		c := &Switch{}
		if sw.Gpio != nil {
			pin := *sw.Gpio
			c.Gpio = &pin
		}
		clone.Switches[name] = c
	}
	if r.State != nil {
		state := *r.State
		state.Sensors = make([]Task, len(r.State.Sensors))
		for i, task := range r.State.Sensors {
			t := task
			t.TaskValues = append([]TaskValue(nil), task.TaskValues...)
			state.Sensors[i] = t
		}
		state.Raw = append(json.RawMessage(nil), r.State.Raw...)
		clone.State = &state
	}
	return &clone
}
