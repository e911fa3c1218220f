// Package resolver maps the sensor type strings ESPEasy firmware reports to
// capability sets. Matching is exact and case-sensitive: the firmware emits
// verbose, versioned type names ("Environment - DHT11/12/22  SONOFF2301/7021")
// and a looser match would misclassify unrelated plugins.
package resolver

import "github.com/ElZetto/espisy/internal/model"

var typeTable = map[string]model.CapabilitySet{
	"DHT":                                      model.NewCapabilitySet(model.CapThermometer, model.CapHygrometer),
	"Environment - DHT11/12/22  SONOFF2301/7021": model.NewCapabilitySet(model.CapThermometer, model.CapHygrometer),
	"Environment - DHT12 (I2C)":                model.NewCapabilitySet(model.CapThermometer, model.CapHygrometer),
	"environment":                              model.NewCapabilitySet(model.CapThermometer, model.CapHygrometer),
	"BMx280":                                   model.NewCapabilitySet(model.CapThermometer, model.CapBarometer, model.CapHygrometer),
	"Environment - BMx280":                     model.NewCapabilitySet(model.CapThermometer, model.CapBarometer, model.CapHygrometer),
	"Environment - BMP085/180":                 model.NewCapabilitySet(model.CapThermometer, model.CapBarometer),
	"Environment - MS5611 (GY-63)":             model.NewCapabilitySet(model.CapThermometer, model.CapBarometer),
	"Environment - DS18b20":                    model.NewCapabilitySet(model.CapThermometer),
	"Environment - MLX90614":                   model.NewCapabilitySet(model.CapThermometer),
	"Switch":                                   model.NewCapabilitySet(model.CapSwitch),
	"Switch input - Switch":                    model.NewCapabilitySet(model.CapSwitch),
	"switch":                                   model.NewCapabilitySet(model.CapSwitch),
	"Display":                                  model.NewCapabilitySet(model.CapDisplay),
	"Display - LCD2004":                        model.NewCapabilitySet(model.CapDisplay),
	"Display - OLED SSD1306":                   model.NewCapabilitySet(model.CapDisplay),
	"Display - OLED SSD1306/SH1106 Framed":     model.NewCapabilitySet(model.CapDisplay),
	"GPIO":                                     model.NewCapabilitySet(model.CapGpio),
	"Rotary":                                   model.NewCapabilitySet(model.CapRotary),
	"Switch Input - Rotary Encoder":            model.NewCapabilitySet(model.CapRotary),
	"MQTT":                                     model.NewCapabilitySet(model.CapMqtt),
	"Generic - MQTT Import":                    model.NewCapabilitySet(model.CapMqtt),
}

// Resolve returns the capability set for a raw type string. Unknown strings
// resolve to an empty set; the caller decides whether that is worth logging.
func Resolve(rawType string) model.CapabilitySet {
	if caps, ok := typeTable[rawType]; ok {
		return caps.Clone()
	}
	return model.NewCapabilitySet()
}

// Known reports whether the type string has a table entry.
func Known(rawType string) bool {
	_, ok := typeTable[rawType]
	return ok
}
