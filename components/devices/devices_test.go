package devices

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neurotask/reflex/internal/respsvc"
)

func configure(t *testing.T, class respsvc.DeviceClass, params string) (respsvc.DeviceConfig, error) {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	return class.Configure(raw)
}

func TestKeyboardDefaults(t *testing.T) {
	cfg, err := configure(t, keyboardClass(), "")
	require.NoError(t, err)
	require.Equal(t, "keyboard/default", cfg.Key)
	require.Empty(t, cfg.Backend)
}

func TestKeyboardPinnedDevice(t *testing.T) {
	cfg, err := configure(t, keyboardClass(), `{"device":"046d:c31c:0","backend":"hidusb"}`)
	require.NoError(t, err)
	require.Equal(t, "keyboard/046d:c31c:0", cfg.Key)
	require.Equal(t, "hidusb", cfg.Backend)
	require.Equal(t, "046d:c31c:0", cfg.Open.Device)
}

func TestDecodeKey(t *testing.T) {
	value, channel, ok := DecodeKey(respsvc.RawEvent{Code: 0x04, Down: true})
	require.True(t, ok)
	require.Equal(t, "a", value)
	require.Equal(t, 0, channel)

	value, _, ok = DecodeKey(respsvc.RawEvent{Code: 0x28, Down: true})
	require.True(t, ok)
	require.Equal(t, "return", value)
}

func TestButtonBoxRequiresPort(t *testing.T) {
	_, err := configure(t, buttonBoxClass(), `{"channels":4}`)
	var cerr *respsvc.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "buttonbox", cerr.Class)
}

func TestButtonBoxChannelRange(t *testing.T) {
	for _, params := range []string{
		`{"port":"/dev/ttyUSB0","channels":0}`,
		`{"port":"/dev/ttyUSB0","channels":9}`,
	} {
		_, err := configure(t, buttonBoxClass(), params)
		var cerr *respsvc.ConfigurationError
		require.ErrorAs(t, err, &cerr, params)
	}
}

func TestButtonBoxDecode(t *testing.T) {
	cfg, err := configure(t, buttonBoxClass(), `{"port":"/dev/ttyUSB0","channels":4}`)
	require.NoError(t, err)
	require.Equal(t, "buttonbox//dev/ttyUSB0", cfg.Key)

	value, channel, ok := cfg.Decode(respsvc.RawEvent{Code: 2, Down: true})
	require.True(t, ok)
	require.Equal(t, 3, value)
	require.Equal(t, 2, channel)

	// Edges on channels beyond the declared count are noise.
	_, _, ok = cfg.Decode(respsvc.RawEvent{Code: 4, Down: true})
	require.False(t, ok)
}

func TestVoiceKeyRejectsNegativeChannel(t *testing.T) {
	_, err := configure(t, voiceKeyClass(), `{"channel":-1}`)
	var cerr *respsvc.ConfigurationError
	require.ErrorAs(t, err, &cerr)
}

func TestVoiceKeyWatchFiresOnOnsetOnly(t *testing.T) {
	cfg, err := configure(t, voiceKeyClass(), `{"channel":1}`)
	require.NoError(t, err)
	require.Equal(t, "voicekey/1", cfg.Key)
	require.NotNil(t, cfg.Watch)

	onset := respsvc.NewResponse(1.25, "voice", 1, 0)
	ev, ok := cfg.Watch(onset)
	require.True(t, ok)
	require.Equal(t, 1, ev.Channel)
	require.Equal(t, "voice", ev.Value)
	require.Equal(t, 1.25, ev.T)

	dur := 0.4
	release := respsvc.NewResponse(1.25, "voice", 1, 0)
	release.Duration = &dur
	_, ok = cfg.Watch(release)
	require.False(t, ok)
}

func TestMalformedParams(t *testing.T) {
	for _, class := range []respsvc.DeviceClass{keyboardClass(), buttonBoxClass(), voiceKeyClass()} {
		_, err := configure(t, class, `{"backend":7}`)
		var cerr *respsvc.ConfigurationError
		require.ErrorAs(t, err, &cerr, class.Name)
	}
}
