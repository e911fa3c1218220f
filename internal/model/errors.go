package model

import "errors"

var (
	// ErrUnknownSwitch is returned when a switch name is not present on the
	// device record.
	ErrUnknownSwitch = errors.New("switch not found on device")

	// ErrNoGpioMapped is returned when a switch exists but has no GPIO pin
	// assigned. The firmware never reports which pin backs a task, so the
	// mapping must be supplied by the operator before the switch can be
	// actuated.
	ErrNoGpioMapped = errors.New("switch has no gpio mapped")

	// ErrCapabilityMissing is returned when a reading is requested for a
	// capability the device does not expose.
	ErrCapabilityMissing = errors.New("device lacks capability")

	// ErrValueNotReported is returned when the capability exists but the
	// last state snapshot carries no matching task value.
	ErrValueNotReported = errors.New("value not present in state snapshot")
)
