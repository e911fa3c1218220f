// Package registry owns the process-wide table of discovered devices. It
// keeps two indices: byAddress is the identity map, byName a secondary index
// from reported unit names to addresses. All mutation happens under one lock
// and involves no I/O; reads hand out deep copies.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/resolver"
)

var (
	// ErrDeviceNotFound is returned when neither index matches a key.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNameCollision is returned when a different address already owns
	// the unit name. First-seen wins; the caller decides whether this is a
	// warning (discovery) or an error (direct add).
	ErrNameCollision = errors.New("unit name already registered")
)

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byAddress map[string]*model.DeviceRecord
	byName    map[string]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byAddress: make(map[string]*model.DeviceRecord),
		byName:    make(map[string]string),
	}
}

// Add builds a record from a fetched state document and stores it. Adding an
// address that is already registered replaces its record (refresh semantics):
// the state snapshot is swapped, switches are re-derived and existing GPIO
// mappings carry over. A unit name owned by a different address fails with
// ErrNameCollision and leaves the registry untouched.
func (r *Registry) Add(address string, state *model.State) (*model.DeviceRecord, error) {
	if address == "" {
		return nil, fmt.Errorf("add device: address is empty")
	}
	if state == nil {
		return nil, fmt.Errorf("add device %s: state is nil", address)
	}
	name := state.System.Name

	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		if owner, ok := r.byName[name]; ok && owner != address {
			return nil, fmt.Errorf("%q reported by %s, owned by %s: %w", name, address, owner, ErrNameCollision)
		}
	}

	rec := buildRecord(address, name, state)

	if prev, ok := r.byAddress[address]; ok {
		rec.AddedAt = prev.AddedAt
		carrySwitchMappings(rec, prev)
		if prev.Name != "" && prev.Name != name {
			if owner, ok := r.byName[prev.Name]; ok && owner == address {
				delete(r.byName, prev.Name)
			}
		}
	}

	r.byAddress[address] = rec
	if name != "" {
		r.byName[name] = address
	}
	return rec.Clone(), nil
}

// Get resolves a key that may be an address or a registered unit name. The
// name index is consulted first.
func (r *Registry) Get(key string) (*model.DeviceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrDeviceNotFound)
	}
	return rec.Clone(), nil
}

// Remove deletes the record for an address from both indices. Removing an
// unknown address fails with ErrDeviceNotFound rather than silently
// succeeding, to catch double-remove bugs in calling code.
func (r *Registry) Remove(address string) (*model.DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byAddress[address]
	if !ok {
		return nil, fmt.Errorf("%q: %w", address, ErrDeviceNotFound)
	}
	delete(r.byAddress, address)
	if rec.Name != "" {
		if owner, ok := r.byName[rec.Name]; ok && owner == address {
			delete(r.byName, rec.Name)
		}
	}
	return rec, nil
}

// List returns all records ordered by address.
func (r *Registry) List() []*model.DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.DeviceRecord, 0, len(r.byAddress))
	for _, rec := range r.byAddress {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}

// HasName reports whether a unit name is present in the name index.
func (r *Registry) HasName(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// MapSwitchGpio assigns a GPIO pin to a named switch on the device resolved
// by key and returns the updated record.
func (r *Registry) MapSwitchGpio(key, name string, pin int) (*model.DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrDeviceNotFound)
	}
	sw, ok := rec.Switches[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, model.ErrUnknownSwitch)
	}
	p := pin
	sw.Gpio = &p
	return rec.Clone(), nil
}

// DeleteSwitch drops a switch entry from the device resolved by key. Switch
// entries survive refreshes once mapped, so this is the only way to retire
// one whose task no longer exists on the firmware side.
func (r *Registry) DeleteSwitch(key, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.lookup(key)
	if !ok {
		return fmt.Errorf("%q: %w", key, ErrDeviceNotFound)
	}
	if _, ok := rec.Switches[name]; !ok {
		return fmt.Errorf("%q: %w", name, model.ErrUnknownSwitch)
	}
	delete(rec.Switches, name)
	return nil
}

// lookup must be called with at least a read lock held.
func (r *Registry) lookup(key string) (*model.DeviceRecord, bool) {
	if addr, ok := r.byName[key]; ok {
		rec, ok := r.byAddress[addr]
		return rec, ok
	}
	rec, ok := r.byAddress[key]
	return rec, ok
}

func buildRecord(address, name string, state *model.State) *model.DeviceRecord {
	now := time.Now()
	rec := &model.DeviceRecord{
		Address:      address,
		Name:         name,
		Capabilities: model.NewCapabilitySet(),
		Switches:     make(map[string]*model.Switch),
		State:        state,
		AddedAt:      now,
		RefreshedAt:  now,
	}
	for _, task := range state.Sensors {
		caps := resolver.Resolve(task.Type)
		if len(caps) == 0 {
			log.Debug("unmapped sensor type", "address", address, "task", task.TaskName, "type", task.Type)
			continue
		}
		rec.Capabilities.Union(caps)
		if caps.Has(model.CapSwitch) {
			rec.Switches[task.TaskName] = &model.Switch{}
		}
	}
	return rec
}

// carrySwitchMappings keeps operator-supplied GPIO assignments across a
// refresh. Mapped switches whose task disappeared from the snapshot are
// retained until explicitly deleted; unmapped stale entries drop out.
func carrySwitchMappings(rec, prev *model.DeviceRecord) {
	for name, old := range prev.Switches {
		if old.Gpio == nil {
			continue
		}
		pin := *old.Gpio
		if sw, ok := rec.Switches[name]; ok {
			sw.Gpio = &pin
		} else {
			rec.Switches[name] = &model.Switch{Gpio: &pin}
		}
	}
}
