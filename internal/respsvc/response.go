package respsvc

// Response is one consumer-visible input event. A press creates it; the
// matching release mutates it exactly once by filling Duration. RT is
// fixed at receipt time relative to the last clock reset and never
// recomputed, so repeated queries see identical values.
type Response struct {
	// T is the absolute timestamp of the down edge on the device clock.
	T float64 `json:"t"`
	// Value is the semantic payload: a key name, a button number, an
	// on/off flag.
	Value any `json:"value"`
	// Channel is the input channel index, 0 on single-channel devices.
	Channel int `json:"channel"`
	// Duration is nil until the matching release arrives.
	Duration *float64 `json:"duration"`
	// RT is the reaction time relative to the last clock reset.
	RT float64 `json:"rt"`

	// code is the backend-native identity used for press/release
	// pairing. Two keys may decode to the same name under some
	// mappings, but never to the same native code.
	code uint16
}

// NewResponse builds a response with the given pairing code. Callers
// injecting simulated input use this together with
// Device.ReceiveMessage.
func NewResponse(t float64, value any, channel int, code uint16) *Response {
	return &Response{
		T:       t,
		Value:   value,
		Channel: channel,
		code:    code,
	}
}

// Code exposes the backend-native code, mainly for logging and tests.
func (r *Response) Code() uint16 {
	return r.code
}

// Telemetry is the stable wire shape handed to the external broadcaster.
// The transport itself lives outside this package.
type Telemetry struct {
	Type  string        `json:"type"`
	Class string        `json:"class"`
	Data  TelemetryData `json:"data"`
}

type TelemetryData struct {
	T       float64 `json:"t"`
	Channel int     `json:"channel"`
	Value   any     `json:"value"`
}

// Telemetry serializes the response for the broadcaster under the given
// device class name.
func (r *Response) Telemetry(class string) Telemetry {
	return Telemetry{
		Type:  "response",
		Class: class,
		Data: TelemetryData{
			T:       r.T,
			Channel: r.Channel,
			Value:   r.Value,
		},
	}
}
