// Package devices defines the response device classes an experiment
// session can construct: keyboards, button boxes and voice keys.
package devices

import (
	"github.com/neurotask/reflex/internal/respsvc"
)

// Register installs every device class into the registry service.
func Register(svc *respsvc.Service) {
	svc.MustRegisterClass(keyboardClass())
	svc.MustRegisterClass(buttonBoxClass())
	svc.MustRegisterClass(voiceKeyClass())
}
