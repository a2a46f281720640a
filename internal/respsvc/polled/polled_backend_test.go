package polled

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neurotask/reflex/internal/respsvc"
	"github.com/neurotask/reflex/pkg/respclock"
)

type fakeSampler struct {
	states [][]bool
	idx    int
	closed bool
}

func (f *fakeSampler) Sample() ([]bool, error) {
	state := f.states[f.idx]
	if f.idx < len(f.states)-1 {
		f.idx++
	}
	return state, nil
}

func (f *fakeSampler) Close() error {
	f.closed = true
	return nil
}

func newTestSource(t *testing.T, channels int, sampler *fakeSampler) respsvc.Source {
	t.Helper()
	b := New(zap.NewNop(), func(device string, n int) (Sampler, error) {
		return sampler, nil
	}, WithInterval(time.Microsecond))
	src, err := b.Open(respsvc.OpenConfig{
		Device:   "port0",
		Channels: channels,
		Clock:    respclock.New(),
	})
	require.NoError(t, err)
	return src
}

func poll(t *testing.T, src respsvc.Source) []respsvc.RawEvent {
	t.Helper()
	events, err := src.PollRaw()
	require.NoError(t, err)
	return events
}

func TestFirstSampleIsBaselineOnly(t *testing.T) {
	// Channel 1 is already active when sampling starts; that must not
	// surface as a press.
	sampler := &fakeSampler{states: [][]bool{
		{false, true},
		{false, true},
	}}
	src := newTestSource(t, 2, sampler)
	require.Empty(t, poll(t, src))
	require.Empty(t, poll(t, src))
}

func TestEdgesFromSnapshots(t *testing.T) {
	sampler := &fakeSampler{states: [][]bool{
		{false, false},
		{true, false},
		{true, true},
		{false, true},
	}}
	src := newTestSource(t, 2, sampler)

	require.Empty(t, poll(t, src))

	events := poll(t, src)
	require.Len(t, events, 1)
	require.Equal(t, uint16(0), events[0].Code)
	require.True(t, events[0].Down)

	events = poll(t, src)
	require.Len(t, events, 1)
	require.Equal(t, uint16(1), events[0].Code)
	require.True(t, events[0].Down)

	events = poll(t, src)
	require.Len(t, events, 1)
	require.Equal(t, uint16(0), events[0].Code)
	require.False(t, events[0].Down)
}

func TestSimultaneousEdgesShareTimestamp(t *testing.T) {
	sampler := &fakeSampler{states: [][]bool{
		{false, false},
		{true, true},
	}}
	src := newTestSource(t, 2, sampler)
	require.Empty(t, poll(t, src))

	events := poll(t, src)
	require.Len(t, events, 2)
	require.Equal(t, events[0].Time, events[1].Time)
}

func TestOpenRejectsZeroChannels(t *testing.T) {
	b := New(zap.NewNop(), func(device string, n int) (Sampler, error) {
		t.Fatal("sampler opened despite invalid channel count")
		return nil, nil
	})
	_, err := b.Open(respsvc.OpenConfig{Device: "port0", Clock: respclock.New()})
	require.Error(t, err)
}

func TestStopClosesSampler(t *testing.T) {
	sampler := &fakeSampler{states: [][]bool{{false}}}
	src := newTestSource(t, 1, sampler)
	require.NoError(t, src.Stop())
	require.True(t, sampler.closed)
}
