package respsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neurotask/reflex/pkg/respclock"
)

func decodeCode(ev RawEvent) (any, int, bool) {
	return int(ev.Code), 0, true
}

func newTestDevice(t *testing.T, policy ReleasePolicy) *Device {
	t.Helper()
	return NewDevice(DeviceParams{
		Class:  "pad",
		Key:    "pad/test",
		Decode: decodeCode,
		Policy: policy,
		Clock:  respclock.New(),
		Log:    zap.NewNop(),
	})
}

func down(code uint16, t float64) RawEvent {
	return RawEvent{Code: code, Down: true, Time: t}
}

func up(code uint16, t float64) RawEvent {
	return RawEvent{Code: code, Down: false, Time: t}
}

func TestPressReleasePairing(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)

	pressed := dev.ParseMessage(down(65, 0.100))
	require.NotNil(t, pressed)
	require.Nil(t, pressed.Duration)
	require.Equal(t, 1, dev.Pressed())

	released := dev.ParseMessage(up(65, 0.150))
	require.Same(t, pressed, released, "release must mutate the original press record")
	require.NotNil(t, pressed.Duration)
	require.InDelta(t, 0.050, *pressed.Duration, 1e-9)
	require.InDelta(t, 0.100, pressed.T, 1e-9)
	require.Equal(t, 0, dev.Pressed())

	// A clean release appends nothing.
	got := dev.Get(WaitRelease(true))
	require.Len(t, got, 1)
	require.Empty(t, dev.Get(WaitRelease(false)))
}

func TestPairingIsPerCode(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)

	dev.ParseMessage(down(10, 0.1))
	dev.ParseMessage(down(20, 0.2))
	dev.ParseMessage(up(20, 0.3))

	released := dev.Get(WaitRelease(true), Clear(false))
	require.Len(t, released, 1)
	require.Equal(t, 20, released[0].Value)
	require.InDelta(t, 0.1, *released[0].Duration, 1e-9)

	still := dev.Get(WaitRelease(false), Clear(false))
	require.Len(t, still, 1)
	require.Equal(t, 10, still[0].Value)
}

func TestDurationSetAtMostOnce(t *testing.T) {
	dev := newTestDevice(t, ReleaseDrop)

	dev.ParseMessage(down(7, 0.1))
	dev.ParseMessage(up(7, 0.2))
	// A duplicate release has no tracked press anymore; under the drop
	// policy it vanishes and the recorded duration stays put.
	dev.ParseMessage(up(7, 0.9))

	got := dev.Get(WaitRelease(true))
	require.Len(t, got, 1)
	require.InDelta(t, 0.1, *got[0].Duration, 1e-9)
}

func TestUnmatchedReleaseSynthesize(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)

	r := dev.ParseMessage(up(5, 0.3))
	require.NotNil(t, r)
	require.Nil(t, r.Duration)

	got := dev.Get(WaitRelease(false))
	require.Len(t, got, 1)
	require.Equal(t, 5, got[0].Value)
}

func TestUnmatchedReleaseDrop(t *testing.T) {
	dev := newTestDevice(t, ReleaseDrop)

	require.Nil(t, dev.ParseMessage(up(5, 0.3)))
	require.Empty(t, dev.Get(WaitRelease(false)))
	require.Empty(t, dev.Get(WaitRelease(true)))
}

func TestUndecodableEventSkipped(t *testing.T) {
	dev := NewDevice(DeviceParams{
		Class: "pad",
		Key:   "pad/test",
		Decode: func(ev RawEvent) (any, int, bool) {
			return nil, 0, false
		},
		Clock: respclock.New(),
		Log:   zap.NewNop(),
	})
	require.Nil(t, dev.ParseMessage(down(1, 0.1)))
	require.Empty(t, dev.Get(WaitRelease(false)))
}

func TestReceiveMessage(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)

	r := NewResponse(0.25, "sim", 2, 99)
	dev.ReceiveMessage(r)
	require.Equal(t, 1, dev.Pressed())

	// The injected press pairs with a later raw release on the same
	// code.
	dev.ParseMessage(up(99, 0.45))
	require.NotNil(t, r.Duration)
	require.InDelta(t, 0.20, *r.Duration, 1e-9)
}

func TestRTFixedAtReceipt(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)
	dev.Clock().Reset()

	dev.ParseMessage(down(1, 5.0))
	first := dev.Get(WaitRelease(false), Clear(false))
	require.Len(t, first, 1)
	rt := first[0].RT

	// Resetting the clock afterwards must not change an already
	// recorded reaction time.
	dev.Clock().Reset()
	second := dev.Get(WaitRelease(false), Clear(false))
	require.Equal(t, rt, second[0].RT)
}

func TestQueryFilters(t *testing.T) {
	dev := NewDevice(DeviceParams{
		Class: "pad",
		Key:   "pad/test",
		Decode: func(ev RawEvent) (any, int, bool) {
			return int(ev.Code), int(ev.Code % 2), true
		},
		Policy: ReleaseSynthesize,
		Clock:  respclock.New(),
		Log:    zap.NewNop(),
	})

	dev.ParseMessage(down(1, 0.1))
	dev.ParseMessage(down(2, 0.2))
	dev.ParseMessage(down(3, 0.3))
	dev.ParseMessage(up(2, 0.4))

	byValue := dev.Get(WaitRelease(false), Clear(false), WithValues(1, 3))
	require.Len(t, byValue, 2)
	require.Equal(t, 1, byValue[0].Value)
	require.Equal(t, 3, byValue[1].Value)

	byChannel := dev.Get(WaitRelease(false), Clear(false), WithChannel(1))
	require.Len(t, byChannel, 2)

	released := dev.Get(WaitRelease(true), Clear(false))
	require.Len(t, released, 1)
	require.Equal(t, 2, released[0].Value)
}

func TestQueryClearSemantics(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)

	dev.ParseMessage(down(1, 0.1))
	dev.ParseMessage(down(2, 0.2))
	dev.ParseMessage(down(3, 0.3))

	peek1 := dev.Get(WaitRelease(false), Clear(false))
	peek2 := dev.Get(WaitRelease(false), Clear(false))
	require.Equal(t, peek1, peek2, "peek must be idempotent")
	require.Len(t, peek1, 3)

	drained := dev.Get(WaitRelease(false), Clear(true))
	require.Len(t, drained, 3)
	for i, r := range drained {
		require.Equal(t, i+1, r.Value, "arrival order must be preserved")
	}
	require.Empty(t, dev.Get(WaitRelease(false)))
}

func TestQueryClearRemovesOnlyMatches(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)

	dev.ParseMessage(down(1, 0.1))
	dev.ParseMessage(down(2, 0.2))
	dev.ParseMessage(up(1, 0.3))

	released := dev.Get(WaitRelease(true), Clear(true))
	require.Len(t, released, 1)
	require.Equal(t, 1, released[0].Value)

	remaining := dev.Get(WaitRelease(false), Clear(false))
	require.Len(t, remaining, 1)
	require.Equal(t, 2, remaining[0].Value)
}

func TestWaitReleaseBeforeAnyRelease(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)
	dev.ParseMessage(down(1, 0.1))
	require.Empty(t, dev.Get(WaitRelease(true), Clear(false)))
}

func TestWaitForDeadline(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)

	start := time.Now()
	got := dev.WaitFor(context.Background(), 20*time.Millisecond)
	require.Nil(t, got)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitForReturnsMatch(t *testing.T) {
	dev := newTestDevice(t, ReleaseSynthesize)

	go func() {
		time.Sleep(5 * time.Millisecond)
		dev.ParseMessage(down(1, 0.1))
		dev.ParseMessage(up(1, 0.2))
	}()
	got := dev.WaitFor(context.Background(), time.Second)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Duration)
}

func TestSetBackendRejected(t *testing.T) {
	dev := NewDevice(DeviceParams{
		Class:   "pad",
		Key:     "pad/test",
		Decode:  decodeCode,
		Clock:   respclock.New(),
		Log:     zap.NewNop(),
		Backend: "hidusb",
	})
	require.NoError(t, dev.SetBackend("hidusb"))
	require.ErrorIs(t, dev.SetBackend("remote"), ErrBackendConflict)
	require.Equal(t, "hidusb", dev.Backend())
}

func TestTelemetryShape(t *testing.T) {
	r := NewResponse(1.5, "a", 3, 4)
	tel := r.Telemetry("keyboard")
	require.Equal(t, "response", tel.Type)
	require.Equal(t, "keyboard", tel.Class)
	require.Equal(t, 1.5, tel.Data.T)
	require.Equal(t, 3, tel.Data.Channel)
	require.Equal(t, "a", tel.Data.Value)
}
