package model

import (
	"encoding/json"
	"sort"
)

// Capability tags one role a device task can play. A single unit usually
// carries several tags at once (a DHT22 is a thermometer and a hygrometer).
type Capability string

const (
	CapThermometer Capability = "thermometer"
	CapHygrometer  Capability = "hygrometer"
	CapBarometer   Capability = "barometer"
	CapSwitch      Capability = "switch"
	CapRotary      Capability = "rotary"
	CapDisplay     Capability = "display"
	CapGpio        Capability = "gpio"
	CapMqtt        Capability = "mqtt"
)

// valueNames maps a measuring capability to the task value name the firmware
// reports for it.
var valueNames = map[Capability]string{
	CapThermometer: "Temperature",
	CapHygrometer:  "Humidity",
	CapBarometer:   "Pressure",
	CapRotary:      "Counter",
	CapSwitch:      "State",
}

// ValueName returns the task value name a capability reads, or "" if the
// capability does not report a value.
func (c Capability) ValueName() string {
	return valueNames[c]
}

// CapabilitySet is an unordered set of capability tags.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given tags.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains the tag.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Add inserts a tag into the set.
func (s CapabilitySet) Add(c Capability) {
	s[c] = struct{}{}
}

// Union inserts all tags from other into the set.
func (s CapabilitySet) Union(other CapabilitySet) {
	for c := range other {
		s[c] = struct{}{}
	}
}

// List returns the tags in sorted order.
func (s CapabilitySet) List() []Capability {
	caps := make([]Capability, 0, len(s))
	for c := range s {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Equal reports whether both sets contain the same tags.
func (s CapabilitySet) Equal(other CapabilitySet) bool {
	if len(s) != len(other) {
		return false
	}
	for c := range s {
		if !other.Has(c) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted array of tags.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes an array of tags into the set.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var caps []Capability
	if err := json.Unmarshal(data, &caps); err != nil {
		return err
	}
	*s = NewCapabilitySet(caps...)
	return nil
}
