package devices

import (
	"encoding/json"
	"fmt"

	"github.com/neurotask/reflex/internal/respsvc"
)

// VoiceKeyConfig are the construction parameters of the voicekey class.
// The capture server does the audio thresholding; we receive the binary
// trigger edges it produces.
type VoiceKeyConfig struct {
	// Channel is the server-side input channel carrying the microphone.
	Channel int `json:"channel"`
	Backend string `json:"backend"`
}

func voiceKeyClass() respsvc.DeviceClass {
	return respsvc.DeviceClass{
		Name:     "voicekey",
		Backends: []string{"remote"},
		Configure: func(config json.RawMessage) (respsvc.DeviceConfig, error) {
			var cfg VoiceKeyConfig
			if len(config) > 0 {
				if err := json.Unmarshal(config, &cfg); err != nil {
					return respsvc.DeviceConfig{}, &respsvc.ConfigurationError{
						Class:  "voicekey",
						Reason: fmt.Sprintf("malformed parameters: %v", err),
					}
				}
			}
			if cfg.Channel < 0 {
				return respsvc.DeviceConfig{}, &respsvc.ConfigurationError{
					Class:  "voicekey",
					Reason: "channel must not be negative",
				}
			}
			channel := cfg.Channel
			return respsvc.DeviceConfig{
				Key:     fmt.Sprintf("voicekey/%d", channel),
				Name:    fmt.Sprintf("Voice key (channel %d)", channel),
				Backend: cfg.Backend,
				Open: respsvc.OpenConfig{
					Device:   fmt.Sprintf("voicekey:%d", channel),
					Channels: 1,
				},
				Decode: func(ev respsvc.RawEvent) (any, int, bool) {
					return "voice", channel, true
				},
				// Voice onsets drive real-time session logic (start a
				// recording, advance a trial). They go out on the bus;
				// the capture worker never calls session code itself.
				Watch: func(r *respsvc.Response) (respsvc.ThresholdEvent, bool) {
					if r.Duration != nil {
						return respsvc.ThresholdEvent{}, false
					}
					return respsvc.ThresholdEvent{
						Channel: r.Channel,
						Value:   r.Value,
						T:       r.T,
					}, true
				},
			}, nil
		},
	}
}
