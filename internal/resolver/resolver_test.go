package resolver

import (
	"testing"

	"github.com/ElZetto/espisy/internal/model"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		rawType string
		want    model.CapabilitySet
	}{
		{
			"DHT short name",
			"DHT",
			model.NewCapabilitySet(model.CapThermometer, model.CapHygrometer),
		},
		{
			"DHT verbose firmware name",
			"Environment - DHT11/12/22  SONOFF2301/7021",
			model.NewCapabilitySet(model.CapThermometer, model.CapHygrometer),
		},
		{
			"BMx280 composite",
			"Environment - BMx280",
			model.NewCapabilitySet(model.CapThermometer, model.CapBarometer, model.CapHygrometer),
		},
		{
			"Switch",
			"Switch",
			model.NewCapabilitySet(model.CapSwitch),
		},
		{
			"lowercase switch variant",
			"switch",
			model.NewCapabilitySet(model.CapSwitch),
		},
		{
			"Rotary encoder",
			"Switch Input - Rotary Encoder",
			model.NewCapabilitySet(model.CapRotary),
		},
		{
			"MQTT import",
			"Generic - MQTT Import",
			model.NewCapabilitySet(model.CapMqtt),
		},
		{
			"unknown type yields empty set",
			"Frobnicator",
			model.NewCapabilitySet(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.rawType)
			if !got.Equal(tt.want) {
				t.Errorf("Resolve(%q) = %v, want %v", tt.rawType, got.List(), tt.want.List())
			}
		})
	}
}

func TestResolveIsCaseSensitive(t *testing.T) {
	if got := Resolve("dht"); len(got) != 0 {
		t.Errorf("Resolve(\"dht\") = %v, want empty set", got.List())
	}
	if got := Resolve("SWITCH"); len(got) != 0 {
		t.Errorf("Resolve(\"SWITCH\") = %v, want empty set", got.List())
	}
}

func TestResolveReturnsCopy(t *testing.T) {
	first := Resolve("DHT")
	first.Add(model.CapDisplay)

	second := Resolve("DHT")
	if second.Has(model.CapDisplay) {
		t.Error("mutating a resolved set leaked into the table")
	}
}

func TestKnown(t *testing.T) {
	if !Known("Switch") {
		t.Error("Known(\"Switch\") = false, want true")
	}
	if Known("Frobnicator") {
		t.Error("Known(\"Frobnicator\") = true, want false")
	}
}
