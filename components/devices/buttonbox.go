package devices

import (
	"encoding/json"
	"fmt"

	"github.com/neurotask/reflex/internal/respsvc"
	"github.com/neurotask/reflex/internal/respsvc/polled"
)

// ButtonBoxConfig are the construction parameters of the buttonbox
// class.
type ButtonBoxConfig struct {
	// Port is the serial port the box is attached to.
	Port string `json:"port"`
	// Channels is how many buttons the box has, 1..8.
	Channels int `json:"channels"`
	Backend  string `json:"backend"`
}

// Button boxes are identified by their port: two requests naming the
// same port are the same box regardless of the declared channel count.
func buttonBoxClass() respsvc.DeviceClass {
	return respsvc.DeviceClass{
		Name:     "buttonbox",
		Backends: []string{"polled", "remote"},
		Configure: func(config json.RawMessage) (respsvc.DeviceConfig, error) {
			var cfg ButtonBoxConfig
			if len(config) > 0 {
				if err := json.Unmarshal(config, &cfg); err != nil {
					return respsvc.DeviceConfig{}, &respsvc.ConfigurationError{
						Class:  "buttonbox",
						Reason: fmt.Sprintf("malformed parameters: %v", err),
					}
				}
			}
			if cfg.Port == "" {
				return respsvc.DeviceConfig{}, &respsvc.ConfigurationError{
					Class:  "buttonbox",
					Reason: "port is required",
				}
			}
			if cfg.Channels < 1 || cfg.Channels > polled.BitmaskChannels {
				return respsvc.DeviceConfig{}, &respsvc.ConfigurationError{
					Class:  "buttonbox",
					Reason: fmt.Sprintf("channel count %d outside supported range 1..%d", cfg.Channels, polled.BitmaskChannels),
				}
			}
			channels := cfg.Channels
			return respsvc.DeviceConfig{
				Key:     "buttonbox/" + cfg.Port,
				Name:    fmt.Sprintf("Button box (%s)", cfg.Port),
				Backend: cfg.Backend,
				Open: respsvc.OpenConfig{
					Device:   cfg.Port,
					Channels: channels,
				},
				Decode: func(ev respsvc.RawEvent) (any, int, bool) {
					ch := int(ev.Code)
					if ch >= channels {
						return nil, 0, false
					}
					// Value is the 1-based button number scripts refer
					// to; channel stays the raw index.
					return ch + 1, ch, true
				},
			}, nil
		},
	}
}
