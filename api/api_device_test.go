package api_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/ElZetto/espisy/internal/model"
)

// addUnit registers a fake unit through the API and returns its record.
func addUnit(t *testing.T, ts *testServer, address string) *model.DeviceRecord {
	t.Helper()

	resp := ts.do(t, "POST", "/api/devices", fmt.Sprintf(`{"address": %q}`, address))
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("POST /api/devices status = %d, want 201", resp.StatusCode)
	}

	var rec model.DeviceRecord
	decodeBody(t, resp, &rec)
	return &rec
}

func TestDeviceLifecycle(t *testing.T) {
	ts := newTestServer(t)
	unit := newFakeUnit("Greenhouse")
	addr := unit.start(t)

	rec := addUnit(t, ts, addr)
	if rec.Name != "Greenhouse" {
		t.Errorf("name = %q, want Greenhouse", rec.Name)
	}
	if !rec.Capabilities.Has(model.CapSwitch) || !rec.Capabilities.Has(model.CapThermometer) {
		t.Errorf("capabilities = %v, want switch and thermometer", rec.Capabilities.List())
	}

	resp := ts.do(t, "GET", "/api/devices", "")
	var devices []model.DeviceRecord
	decodeBody(t, resp, &devices)
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}

	// Lookup works by name and by address.
	for _, key := range []string{addr, "Greenhouse"} {
		resp := ts.do(t, "GET", "/api/devices/"+key, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET by %q status = %d, want 200", key, resp.StatusCode)
		}
	}

	resp = ts.do(t, "GET", "/api/devices/Greenhouse/sensors", "")
	var sensors struct {
		Readings []model.SensorReading `json:"readings"`
	}
	decodeBody(t, resp, &sensors)
	var temperature bool
	for _, r := range sensors.Readings {
		if r.Name == "Temperature" && r.Value == 23.40 {
			temperature = true
		}
	}
	if !temperature {
		t.Errorf("readings = %+v, want Temperature 23.40", sensors.Readings)
	}

	resp = ts.do(t, "DELETE", "/api/devices/"+addr, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp = ts.do(t, "GET", "/api/devices/Greenhouse", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestDeviceMappingPersistsToSettings(t *testing.T) {
	ts := newTestServer(t)
	unit := newFakeUnit("Pump_Station")
	addr := unit.start(t)
	addUnit(t, ts, addr)

	resp := ts.do(t, "PUT", "/api/devices/Pump_Station/switches/task_0", `{"gpio": 12}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT switches status = %d, want 200", resp.StatusCode)
	}

	entry, ok := ts.settings.Lookup(addr)
	if !ok {
		t.Fatal("no settings entry after mapping")
	}
	sw, ok := entry.Switches["task_0"]
	if !ok {
		t.Fatalf("switch task_0 missing from settings entry: %+v", entry)
	}
	if sw.Gpio != 12 {
		t.Errorf("persisted gpio = %d, want 12", sw.Gpio)
	}
}
