package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrzor/gatewayd/internal/handle"
	"github.com/mrzor/gatewayd/internal/poller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New(8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestWatch_DispatchesEvents(t *testing.T) {
	l := newLoop(t)
	r, w, err := handle.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var got []poller.Event
	tok, err := l.Watch(r, poller.Readable, func(ev poller.Event) { got = append(got, ev) })
	require.NoError(t, err)
	assert.Equal(t, 1, l.Watching())

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, l.RunOnce(time.Second))

	require.Len(t, got, 1)
	assert.Equal(t, tok, got[0].Token)

	require.NoError(t, l.Unwatch(tok))
	assert.Zero(t, l.Watching())
	require.NoError(t, l.RunOnce(10*time.Millisecond))
	assert.Len(t, got, 1, "unwatched handle must not dispatch")
}

func TestAfter_FiresInDeadlineOrder(t *testing.T) {
	l := newLoop(t)
	now := time.Now()

	var order []int
	l.After(now.Add(20*time.Millisecond), func() { order = append(order, 2) })
	l.After(now.Add(5*time.Millisecond), func() { order = append(order, 1) })
	stopped := l.After(now.Add(10*time.Millisecond), func() { order = append(order, 99) })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	deadline := time.Now().Add(time.Second)
	for len(order) < 2 && time.Now().Before(deadline) {
		require.NoError(t, l.RunOnce(-1))
	}
	assert.Equal(t, []int{1, 2}, order)
}

func TestRunOnce_WaitsForNearestTimer(t *testing.T) {
	l := newLoop(t)

	fired := false
	l.After(time.Now().Add(15*time.Millisecond), func() { fired = true })

	start := time.Now()
	cycles := 0
	for !fired && cycles < 10 {
		require.NoError(t, l.RunOnce(-1))
		cycles++
	}
	assert.True(t, fired)
	assert.LessOrEqual(t, cycles, 2, "the wait must be bounded by the timer, not spin")
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestPost_WakesRun(t *testing.T) {
	l := newLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var ran atomic.Int32
	result := make(chan struct{})
	require.NoError(t, l.Post(func() {
		ran.Add(1)
		close(result)
	}))

	select {
	case <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("posted function did not run")
	}
	assert.EqualValues(t, 1, ran.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.ErrorIs(t, l.Post(func() {}), ErrStopped)
}

func TestStop_EndsRunWithoutError(t *testing.T) {
	l := newLoop(t)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	l.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
