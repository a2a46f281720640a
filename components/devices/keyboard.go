package devices

import (
	"encoding/json"
	"fmt"

	"github.com/neurotask/reflex/internal/respsvc"
	"github.com/neurotask/reflex/pkg/keymap"
)

// KeyboardConfig are the construction parameters of the keyboard class.
type KeyboardConfig struct {
	// Device optionally pins a physical keyboard by HID address
	// ("vvvv:pppp:i"); empty means the first keyboard found.
	Device string `json:"device"`
	// Backend optionally forces a backend instead of probing.
	Backend string `json:"backend"`
}

// Two keyboard requests describe the same physical device when they pin
// the same HID address; two unpinned requests share the default
// keyboard.
func keyboardClass() respsvc.DeviceClass {
	return respsvc.DeviceClass{
		Name:     "keyboard",
		Backends: []string{"hidusb", "remote"},
		Configure: func(config json.RawMessage) (respsvc.DeviceConfig, error) {
			var cfg KeyboardConfig
			if len(config) > 0 {
				if err := json.Unmarshal(config, &cfg); err != nil {
					return respsvc.DeviceConfig{}, &respsvc.ConfigurationError{
						Class:  "keyboard",
						Reason: fmt.Sprintf("malformed parameters: %v", err),
					}
				}
			}
			key := "keyboard/default"
			if cfg.Device != "" {
				key = "keyboard/" + cfg.Device
			}
			return respsvc.DeviceConfig{
				Key:     key,
				Name:    "Keyboard",
				Backend: cfg.Backend,
				Open: respsvc.OpenConfig{
					Device:   cfg.Device,
					Channels: 1,
				},
				Decode: DecodeKey,
			}, nil
		},
	}
}

// DecodeKey maps a raw keyboard edge onto its human-readable key name.
// Keyboards are single-channel; the name, not the channel, carries the
// semantics. Pairing still happens on the native code upstream, since
// two physical keys may share a name under some mappings.
func DecodeKey(ev respsvc.RawEvent) (any, int, bool) {
	return keymap.KeyName(ev.Code), 0, true
}
