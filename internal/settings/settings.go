// Package settings persists per-device configuration that cannot be read
// back from the firmware, most importantly switch-to-GPIO assignments, plus
// the default scan network. The file is a small YAML document, by default at
// ~/.config/espisy/esp.yaml.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/model"
	"github.com/ElZetto/espisy/internal/registry"
)

// SwitchSettings is the persisted shape of one switch entry.
type SwitchSettings struct {
	Gpio int `yaml:"gpio"`
}

// DeviceSettings is the persisted shape of one device entry.
type DeviceSettings struct {
	Address  string                    `yaml:"address"`
	Name     string                    `yaml:"name,omitempty"`
	Switches map[string]SwitchSettings `yaml:"switches,omitempty"`
}

// document is the on-disk layout.
type document struct {
	Network string           `yaml:"ipv4network,omitempty"`
	Devices []DeviceSettings `yaml:"esps,omitempty"`
}

// Store reads and writes the settings file. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// DefaultPath returns the settings location under the user's home directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "espisy", "esp.yaml"), nil
}

// Open loads the settings file at path, falling back to DefaultPath when
// path is empty. A missing file yields an empty store, a malformed one an
// error.
func Open(path string) (*Store, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Path returns the file the store was opened on.
func (s *Store) Path() string {
	return s.path
}

// Network returns the persisted default scan range, or "".
func (s *Store) Network() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Network
}

// SetNetwork records cidr as the default scan range.
func (s *Store) SetNetwork(cidr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Network = cidr
}

// Lookup returns a copy of the persisted entry for an address.
func (s *Store) Lookup(address string) (DeviceSettings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.doc.Devices {
		if d.Address == address {
			return cloneEntry(d), true
		}
	}
	return DeviceSettings{}, false
}

// Devices returns a copy of all persisted entries in file order.
func (s *Store) Devices() []DeviceSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeviceSettings, 0, len(s.doc.Devices))
	for _, d := range s.doc.Devices {
		out = append(out, cloneEntry(d))
	}
	return out
}

// Update records the name and mapped switches of rec, replacing any earlier
// entry for the same address. Switches without a GPIO assignment are not
// persisted; they carry no information the next discovery cannot re-derive.
func (s *Store) Update(rec *model.DeviceRecord) {
	entry := DeviceSettings{Address: rec.Address, Name: rec.Name}
	for name, sw := range rec.Switches {
		if sw.Gpio == nil {
			continue
		}
		if entry.Switches == nil {
			entry.Switches = make(map[string]SwitchSettings)
		}
		entry.Switches[name] = SwitchSettings{Gpio: *sw.Gpio}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Devices {
		if s.doc.Devices[i].Address == rec.Address {
			s.doc.Devices[i] = entry
			return
		}
	}
	s.doc.Devices = append(s.doc.Devices, entry)
}

// Forget drops the entry for address and reports whether one existed.
func (s *Store) Forget(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range s.doc.Devices {
		if d.Address == address {
			s.doc.Devices = append(s.doc.Devices[:i], s.doc.Devices[i+1:]...)
			return true
		}
	}
	return false
}

// Save writes the document to disk. The write goes to a temp file beside the
// target and is moved into place with a rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Reconcile applies the persisted GPIO mappings for address to the device
// registered under it. Persisted switch names the device no longer reports
// are logged and skipped; they stay in the file untouched.
func (s *Store) Reconcile(reg *registry.Registry, address string) error {
	entry, ok := s.Lookup(address)
	if !ok {
		return nil
	}

	for name, sw := range entry.Switches {
		if _, err := reg.MapSwitchGpio(address, name, sw.Gpio); err != nil {
			if errors.Is(err, model.ErrUnknownSwitch) {
				log.Warn("persisted switch no longer reported by device",
					"address", address, "switch", name, "gpio", sw.Gpio)
				continue
			}
			return fmt.Errorf("reconcile %s: %w", address, err)
		}
	}
	return nil
}

func cloneEntry(d DeviceSettings) DeviceSettings {
	out := d
	if d.Switches != nil {
		out.Switches = make(map[string]SwitchSettings, len(d.Switches))
		for k, v := range d.Switches {
			out.Switches[k] = v
		}
	}
	return out
}
