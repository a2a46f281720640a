package respclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time {
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func TestNow(t *testing.T) {
	f := &fakeNow{t: time.Unix(1000, 0)}
	c := NewWithNow(f.now)
	require.Equal(t, 0.0, c.Now())

	f.advance(250 * time.Millisecond)
	require.InDelta(t, 0.25, c.Now(), 1e-9)
}

func TestResetMovesRTOrigin(t *testing.T) {
	f := &fakeNow{t: time.Unix(1000, 0)}
	c := NewWithNow(f.now)

	f.advance(1 * time.Second)
	c.Reset()
	f.advance(100 * time.Millisecond)

	now := c.Now()
	require.InDelta(t, 1.1, now, 1e-9)
	require.InDelta(t, 0.1, c.RT(now), 1e-9)

	// Timestamps taken before the reset stay comparable; their RT just
	// goes negative.
	require.InDelta(t, -0.5, c.RT(0.5), 1e-9)
}

func TestRTStableAcrossReads(t *testing.T) {
	f := &fakeNow{t: time.Unix(1000, 0)}
	c := NewWithNow(f.now)
	c.Reset()
	rt := c.RT(2.0)
	require.Equal(t, rt, c.RT(2.0))
}
