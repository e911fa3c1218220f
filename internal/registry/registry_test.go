package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/ElZetto/espisy/internal/model"
)

func stateDoc(name string, tasks ...model.Task) *model.State {
	return &model.State{
		System:  model.System{Name: name, UnitNumber: 2, Build: 20103},
		Sensors: tasks,
	}
}

func switchTask(taskName string) model.Task {
	return model.Task{
		TaskName:   taskName,
		Type:       "Switch",
		TaskValues: []model.TaskValue{{Name: "State", Value: 0}},
	}
}

func climateTask(taskName string) model.Task {
	return model.Task{
		TaskName: taskName,
		Type:     "Environment - DHT11/12/22  SONOFF2301/7021",
		TaskValues: []model.TaskValue{
			{Name: "Temperature", Value: 20.6, NrDecimals: 2},
			{Name: "Humidity", Value: 62.1, NrDecimals: 2},
		},
	}
}

func TestAddAndGet(t *testing.T) {
	reg := New()

	rec, err := reg.Add("10.0.0.5", stateDoc("Room_1", switchTask("door"), climateTask("dht")))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if rec.Name != "Room_1" {
		t.Errorf("record name = %q, want %q", rec.Name, "Room_1")
	}
	if !rec.HasCapability(model.CapSwitch) || !rec.HasCapability(model.CapThermometer) {
		t.Errorf("capabilities = %v, want switch and thermometer", rec.Capabilities.List())
	}
	if _, ok := rec.Switches["door"]; !ok {
		t.Errorf("switch %q not derived from snapshot", "door")
	}

	byAddr, err := reg.Get("10.0.0.5")
	if err != nil {
		t.Fatalf("Get(address) error = %v", err)
	}
	byName, err := reg.Get("Room_1")
	if err != nil {
		t.Fatalf("Get(name) error = %v", err)
	}
	if byAddr.Address != byName.Address {
		t.Errorf("address lookup %q and name lookup %q disagree", byAddr.Address, byName.Address)
	}
}

func TestGetUnknown(t *testing.T) {
	reg := New()
	if _, err := reg.Get("10.9.9.9"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestAddEmptyName(t *testing.T) {
	reg := New()
	if _, err := reg.Add("10.0.0.7", stateDoc("")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := reg.Get("10.0.0.7"); err != nil {
		t.Errorf("Get(address) error = %v", err)
	}
	if reg.HasName("") {
		t.Error("empty name must not enter the name index")
	}
}

func TestAddValidation(t *testing.T) {
	reg := New()
	if _, err := reg.Add("", stateDoc("x")); err == nil {
		t.Error("Add() with empty address should fail")
	}
	if _, err := reg.Add("10.0.0.1", nil); err == nil {
		t.Error("Add() with nil state should fail")
	}
}

func TestNameCollision(t *testing.T) {
	reg := New()
	if _, err := reg.Add("10.0.0.5", stateDoc("Room_1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	_, err := reg.Add("10.0.0.6", stateDoc("Room_1"))
	if !errors.Is(err, ErrNameCollision) {
		t.Fatalf("Add() error = %v, want ErrNameCollision", err)
	}

	// First seen wins and the loser leaves no trace.
	rec, err := reg.Get("Room_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Address != "10.0.0.5" {
		t.Errorf("name owner = %s, want 10.0.0.5", rec.Address)
	}
	if got := reg.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestRefresh(t *testing.T) {
	reg := New()

	first, err := reg.Add("10.0.0.5", stateDoc("Room_1", switchTask("door")))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := reg.MapSwitchGpio("Room_1", "door", 12); err != nil {
		t.Fatalf("MapSwitchGpio() error = %v", err)
	}

	// Same address reports again, renamed and with the switch task gone.
	second, err := reg.Add("10.0.0.5", stateDoc("Hallway", climateTask("dht")))
	if err != nil {
		t.Fatalf("refresh Add() error = %v", err)
	}

	if !second.AddedAt.Equal(first.AddedAt) {
		t.Errorf("AddedAt changed on refresh: %v -> %v", first.AddedAt, second.AddedAt)
	}
	if second.RefreshedAt.Before(first.RefreshedAt) {
		t.Errorf("RefreshedAt went backwards: %v -> %v", first.RefreshedAt, second.RefreshedAt)
	}

	sw, ok := second.Switches["door"]
	if !ok {
		t.Fatal("mapped switch dropped by refresh")
	}
	if sw.Gpio == nil || *sw.Gpio != 12 {
		t.Errorf("switch gpio = %v, want 12", sw.Gpio)
	}

	if reg.HasName("Room_1") {
		t.Error("stale name still resolves after rename")
	}
	rec, err := reg.Get("Hallway")
	if err != nil {
		t.Fatalf("Get(new name) error = %v", err)
	}
	if rec.Address != "10.0.0.5" {
		t.Errorf("renamed lookup address = %s, want 10.0.0.5", rec.Address)
	}
}

func TestRefreshDropsUnmappedSwitches(t *testing.T) {
	reg := New()
	if _, err := reg.Add("10.0.0.5", stateDoc("Room_1", switchTask("door"), switchTask("window"))); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := reg.MapSwitchGpio("Room_1", "door", 12); err != nil {
		t.Fatalf("MapSwitchGpio() error = %v", err)
	}

	rec, err := reg.Add("10.0.0.5", stateDoc("Room_1"))
	if err != nil {
		t.Fatalf("refresh Add() error = %v", err)
	}
	if _, ok := rec.Switches["door"]; !ok {
		t.Error("mapped switch should survive the refresh")
	}
	if _, ok := rec.Switches["window"]; ok {
		t.Error("unmapped stale switch should drop out on refresh")
	}
}

func TestRemove(t *testing.T) {
	reg := New()
	if _, err := reg.Add("10.0.0.5", stateDoc("Room_1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := reg.Remove("10.0.0.5"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := reg.Get("10.0.0.5"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(address) after remove error = %v, want ErrDeviceNotFound", err)
	}
	if reg.HasName("Room_1") {
		t.Error("name index should be cleared by remove")
	}

	if _, err := reg.Remove("10.0.0.5"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Remove() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRemoveByNameNotSupported(t *testing.T) {
	reg := New()
	if _, err := reg.Add("10.0.0.5", stateDoc("Room_1")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := reg.Remove("Room_1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Remove(name) error = %v, want ErrDeviceNotFound", err)
	}
	if got := reg.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestMapSwitchGpio(t *testing.T) {
	reg := New()
	if _, err := reg.Add("10.0.0.5", stateDoc("Room_1", switchTask("door"))); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	rec, err := reg.MapSwitchGpio("10.0.0.5", "door", 4)
	if err != nil {
		t.Fatalf("MapSwitchGpio() error = %v", err)
	}
	pin, err := rec.SwitchGpio("door")
	if err != nil {
		t.Fatalf("SwitchGpio() error = %v", err)
	}
	if pin != 4 {
		t.Errorf("gpio = %d, want 4", pin)
	}

	if _, err := reg.MapSwitchGpio("10.0.0.5", "garage", 4); !errors.Is(err, model.ErrUnknownSwitch) {
		t.Errorf("unknown switch error = %v, want ErrUnknownSwitch", err)
	}
	if _, err := reg.MapSwitchGpio("10.9.9.9", "door", 4); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDeleteSwitch(t *testing.T) {
	reg := New()
	if _, err := reg.Add("10.0.0.5", stateDoc("Room_1", switchTask("door"))); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := reg.DeleteSwitch("Room_1", "door"); err != nil {
		t.Fatalf("DeleteSwitch() error = %v", err)
	}
	rec, err := reg.Get("Room_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := rec.Switches["door"]; ok {
		t.Error("switch still present after delete")
	}

	if err := reg.DeleteSwitch("Room_1", "door"); !errors.Is(err, model.ErrUnknownSwitch) {
		t.Errorf("second DeleteSwitch() error = %v, want ErrUnknownSwitch", err)
	}
}

func TestListSorted(t *testing.T) {
	reg := New()
	for _, addr := range []string{"10.0.0.9", "10.0.0.2", "10.0.0.30"} {
		if _, err := reg.Add(addr, stateDoc("")); err != nil {
			t.Fatalf("Add(%s) error = %v", addr, err)
		}
	}

	list := reg.List()
	want := []string{"10.0.0.2", "10.0.0.30", "10.0.0.9"}
	if len(list) != len(want) {
		t.Fatalf("List() returned %d records, want %d", len(list), len(want))
	}
	for i, rec := range list {
		if rec.Address != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, rec.Address, want[i])
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	reg := New()
	if _, err := reg.Add("10.0.0.5", stateDoc("Room_1", switchTask("door"))); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	rec, err := reg.Get("Room_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	pin := 99
	rec.Switches["door"].Gpio = &pin
	rec.Capabilities.Add(model.CapDisplay)

	fresh, err := reg.Get("Room_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if fresh.Switches["door"].Gpio != nil {
		t.Error("mutating a returned record leaked into the registry")
	}
	if fresh.HasCapability(model.CapDisplay) {
		t.Error("mutating returned capabilities leaked into the registry")
	}
}

func TestConcurrentAccess(t *testing.T) {
	reg := New()
	const n = 64

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("10.0.%d.%d", i/250, i%250+1)
			if _, err := reg.Add(addr, stateDoc(fmt.Sprintf("unit_%d", i), switchTask("door"))); err != nil {
				errCh <- err
				return
			}
			if _, err := reg.Get(addr); err != nil {
				errCh <- err
				return
			}
			reg.List()
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent op error = %v", err)
	}

	if got := reg.Len(); got != n {
		t.Errorf("Len() = %d, want %d", got, n)
	}
}

// TestIndexConsistency drives random add/remove sequences against a
// reference map and checks that both indices stay in agreement.
func TestIndexConsistency(t *testing.T) {
	addresses := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}
	names := []string{"alpha", "beta", "gamma", ""}

	rapid.Check(t, func(rt *rapid.T) {
		reg := New()
		nameOf := make(map[string]string)  // address -> reported name
		ownerOf := make(map[string]string) // name -> owning address

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			addr := rapid.SampledFrom(addresses).Draw(rt, "addr")

			if rapid.Bool().Draw(rt, "remove") {
				_, err := reg.Remove(addr)
				name, present := nameOf[addr]
				if !present {
					if !errors.Is(err, ErrDeviceNotFound) {
						rt.Fatalf("Remove(%s) error = %v, want ErrDeviceNotFound", addr, err)
					}
					continue
				}
				if err != nil {
					rt.Fatalf("Remove(%s) error = %v", addr, err)
				}
				delete(nameOf, addr)
				if name != "" && ownerOf[name] == addr {
					delete(ownerOf, name)
				}
				continue
			}

			name := rapid.SampledFrom(names).Draw(rt, "name")
			_, err := reg.Add(addr, stateDoc(name))
			if owner, taken := ownerOf[name]; name != "" && taken && owner != addr {
				if !errors.Is(err, ErrNameCollision) {
					rt.Fatalf("Add(%s, %q) error = %v, want ErrNameCollision", addr, name, err)
				}
				continue
			}
			if err != nil {
				rt.Fatalf("Add(%s, %q) error = %v", addr, name, err)
			}
			if old, present := nameOf[addr]; present && old != "" && old != name && ownerOf[old] == addr {
				delete(ownerOf, old)
			}
			nameOf[addr] = name
			if name != "" {
				ownerOf[name] = addr
			}
		}

		if got := reg.Len(); got != len(nameOf) {
			rt.Fatalf("Len() = %d, want %d", got, len(nameOf))
		}
		for addr, name := range nameOf {
			rec, err := reg.Get(addr)
			if err != nil {
				rt.Fatalf("Get(%s) error = %v", addr, err)
			}
			if rec.Name != name {
				rt.Fatalf("record name = %q, want %q", rec.Name, name)
			}
		}
		for name, addr := range ownerOf {
			rec, err := reg.Get(name)
			if err != nil {
				rt.Fatalf("Get(%q) error = %v", name, err)
			}
			if rec.Address != addr {
				rt.Fatalf("Get(%q).Address = %s, want %s", name, rec.Address, addr)
			}
		}
	})
}
