package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/mrzor/gatewayd/internal/loop"
	"github.com/mrzor/gatewayd/internal/procmeta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	resp *Response
	err  error
}

func newTestLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New(16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// drive runs loop cycles until every outcome slot is filled.
func drive(t *testing.T, l *loop.Loop, results []*outcome, limit time.Duration) {
	t.Helper()
	deadline := time.Now().Add(limit)
	for {
		pending := 0
		for _, r := range results {
			if r == nil || (r.resp == nil && r.err == nil) {
				pending++
			}
		}
		if pending == 0 {
			return
		}
		require.True(t, time.Now().Before(deadline), "%d invocations still pending", pending)
		require.NoError(t, l.RunOnce(100*time.Millisecond))
	}
}

func collectInto(o *outcome) func(*Response, error) {
	return func(resp *Response, err error) {
		o.resp, o.err = resp, err
	}
}

func TestStart_CompletesOnLoop(t *testing.T) {
	l := newTestLoop(t)
	script := shScript(t, "printf 'Status: 202\\r\\n\\r\\n'\ncat\n")

	var o outcome
	inv := Start(l, post("loop body"), script, Options{ID: "inv-1"}, collectInto(&o))
	assert.Equal(t, "inv-1", inv.ID())
	assert.NotZero(t, inv.Pid())

	drive(t, l, []*outcome{&o}, 5*time.Second)
	require.NoError(t, o.err)
	assert.Equal(t, 202, o.resp.Status)
	assert.Equal(t, "loop body", string(o.resp.Body))
	assert.Equal(t, StateCompleted, inv.State())
	assert.Zero(t, l.Watching(), "all registrations are dropped")
}

func TestStart_InvocationsOverlap(t *testing.T) {
	l := newTestLoop(t)
	children := procmeta.NewManager()

	results := make([]*outcome, 3)
	start := time.Now()
	for i := range results {
		results[i] = &outcome{}
		script := shScript(t, "sleep 0.3\nprintf '\\r\\n\\r\\ndone'\n")
		Start(l, post(""), script, Options{Children: children}, collectInto(results[i]))
	}
	assert.Equal(t, 3, children.Len())

	drive(t, l, results, 5*time.Second)
	assert.Less(t, time.Since(start), 800*time.Millisecond, "invocations must not run one after another")
	for _, r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, "done", string(r.resp.Body))
	}
	assert.Zero(t, children.Len())
}

func TestStart_TimesOutOnLoopTimer(t *testing.T) {
	l := newTestLoop(t)
	script, pid := pidScript(t, "sleep 5\n")
	script.Timeout = 150 * time.Millisecond

	var o outcome
	inv := Start(l, post(""), script, Options{}, collectInto(&o))
	drive(t, l, []*outcome{&o}, 3*time.Second)

	require.ErrorIs(t, o.err, ErrTimedOut)
	assert.Nil(t, o.resp)
	assert.Equal(t, StateTimedOut, inv.State())
	assertReaped(t, pid())
}

func TestStart_SpawnFailureReportsImmediately(t *testing.T) {
	l := newTestLoop(t)

	var o outcome
	inv := Start(l, post(""), &Script{Path: "/nonexistent/script", Timeout: time.Second}, Options{}, collectInto(&o))
	require.ErrorIs(t, o.err, ErrSpawnFailed, "done runs before Start returns")
	assert.Equal(t, StateFailed, inv.State())
	assert.Zero(t, l.Watching())

	// The deadline timer is gone with the invocation.
	require.NoError(t, l.RunOnce(0))
}

func TestStart_Abort(t *testing.T) {
	l := newTestLoop(t)
	children := procmeta.NewManager()
	script, pid := pidScript(t, "sleep 5\n")

	var o outcome
	inv := Start(l, post(""), script, Options{Children: children}, collectInto(&o))
	child := pid()
	require.NoError(t, l.RunOnce(10*time.Millisecond))

	calls := 0
	inv.done = func(*Response, error) { calls++ }
	inv.Abort(errors.New("shutting down"))
	inv.Abort(errors.New("again"))

	assert.Equal(t, 1, calls, "the outcome is reported once")
	assert.ErrorIs(t, inv.err, ErrInterrupted)
	assert.Equal(t, StateFailed, inv.State())
	assert.Zero(t, children.Len())
	assertReaped(t, child)
}

func TestStart_NoPidFDDoesNotStallLoop(t *testing.T) {
	withoutPidFD(t)
	l := newTestLoop(t)

	stuck, pid := pidScript(t, "exec >&-\nsleep 60\n")
	stuck.Timeout = 300 * time.Millisecond
	quick := shScript(t, "sleep 0.1\nprintf '\\r\\n\\r\\nquick'\n")

	var slow, fast outcome
	Start(l, post(""), stuck, Options{}, collectInto(&slow))
	child := pid()
	Start(l, post(""), quick, Options{}, collectInto(&fast))

	drive(t, l, []*outcome{&fast}, 3*time.Second)
	require.NoError(t, fast.err)
	assert.Equal(t, "quick", string(fast.resp.Body))
	assert.Nil(t, slow.err, "the stuck invocation is still waiting")

	drive(t, l, []*outcome{&slow}, 3*time.Second)
	require.ErrorIs(t, slow.err, ErrTimedOut)
	assertReaped(t, child)
	assert.Zero(t, l.Watching())
}
