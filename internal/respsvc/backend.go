package respsvc

import (
	"go.uber.org/zap"

	"github.com/neurotask/reflex/pkg/respclock"
)

// RawEvent is a single edge as emitted by a backend: a backend-native
// code, the press/release flag, and a timestamp already normalized to
// the device clock epoch by the source.
type RawEvent struct {
	Code uint16
	Down bool
	Time float64
}

// Source is one opened event stream. It is owned exclusively by the
// EventBuffer that started it; nothing else touches the native handle.
type Source interface {
	// Start begins capture. An error here means driver, permission or
	// hardware trouble and surfaces as *DeviceUnavailableError.
	Start() error
	// PollRaw drains whatever the backend has pending and returns it in
	// emission order. It may block only inside the backend's native
	// read primitives, and returns an empty batch when nothing is
	// pending.
	PollRaw() ([]RawEvent, error)
	// Stop ends capture and releases the native handle.
	Stop() error
}

// ReleasePolicy fixes what a backend does with an up-edge that has no
// tracked down-edge, e.g. a key already held when capture started. The
// choice is per backend and never varies at runtime.
type ReleasePolicy uint8

const (
	// ReleaseSynthesize records the orphan release as a Response with
	// no duration.
	ReleaseSynthesize ReleasePolicy = iota
	// ReleaseDrop discards the orphan release.
	ReleaseDrop
)

// OpenConfig carries the device-class parameters a backend needs to open
// a source.
type OpenConfig struct {
	// Device selects the physical device in backend-native terms: a HID
	// address for the native backend, a port path for polled button
	// boxes, a channel selector for the capture server.
	Device   string
	Channels int

	Clock *respclock.Clock
	Log   *zap.Logger
}

// Backend is a factory for sources of one kind: native HID polling, the
// remote capture server, or the low-resolution polling fallback. A
// device selects exactly one backend at construction and keeps it for
// its whole lifetime.
type Backend interface {
	Name() string
	// Probe reports whether the backend can be used at all right now.
	Probe() error
	Open(cfg OpenConfig) (Source, error)
	ReleasePolicy() ReleasePolicy
}
