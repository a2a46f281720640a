package handoff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPopEmpty(t *testing.T) {
	q := New[int]()
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	for i := 0; i < 100; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.Pop()
	require.False(t, ok)
}

// A consumer that never drains must not lose anything: the slot holds
// one item and the rest spill to overflow, in order.
func TestStalledConsumer(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	require.Equal(t, 5, q.Len())

	got := q.Drain()
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
	require.Equal(t, 0, q.Len())
}

func TestInterleavedPushPop(t *testing.T) {
	q := New[int]()
	next := 0
	want := 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 3; i++ {
			q.Push(next)
			next++
		}
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, want, v)
		want++
	}
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		require.Equal(t, want, v)
		want++
	}
	require.Equal(t, next, want)
}

// No event may be lost when the producer runs concurrently with a slow
// consumer.
func TestNoLossConcurrent(t *testing.T) {
	const n = 10000
	q := New[int]()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			q.Push(i)
		}
	}()

	var got []int
	for len(got) < n {
		v, ok := q.Pop()
		if !ok {
			continue
		}
		got = append(got, v)
	}
	<-done
	for i, v := range got {
		require.Equal(t, i, v)
	}
}
