package respsvc

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned when a lookup names a device the
	// registry has never seen.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrBackendConflict is returned when a caller asks an
	// already-bound device to switch backends. The bound backend keeps
	// running; switching mid-session would mix timestamp epochs.
	ErrBackendConflict = errors.New("device already bound to a backend")
)

// ConfigurationError reports malformed or unsupported construction
// parameters. Construction fails before any device state is allocated.
type ConfigurationError struct {
	Class  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s configuration: %s", e.Class, e.Reason)
}

// DeviceUnavailableError reports that a backend could not be probed or
// started: missing driver, missing permission, or absent hardware. The
// device remains unconstructed and the caller may retry, possibly with a
// different backend.
type DeviceUnavailableError struct {
	Backend string
	Err     error
}

func (e *DeviceUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *DeviceUnavailableError) Unwrap() error {
	return e.Err
}
