package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrzor/gatewayd/internal/handle"
	"github.com/mrzor/gatewayd/internal/log"
	"github.com/mrzor/gatewayd/internal/loop"
	"github.com/mrzor/gatewayd/internal/poller"
)

// Run executes script for req and blocks until it completes, fails or
// times out. It waits on p, which may carry unrelated registrations; their
// events are ignored while the invocation runs, so a busy shared poller can
// delay the timeout check until the deadline is reached.
func Run(p *poller.Poller, req *Request, script *Script, opts Options) (*Response, error) {
	return run(p, p.Wait, req, script, opts)
}

func run(p *poller.Poller, wait func(time.Duration) (poller.Events, error), req *Request, script *Script, opts Options) (*Response, error) {
	mux := &pollMux{p: p, fns: make(map[poller.Token]func(poller.Event), 3)}
	inv := newInvocation(req, script, opts, mux)
	inv.start()

	for !inv.state.Terminal() {
		now := time.Now()
		remaining := inv.deadline.Sub(now)
		if remaining <= 0 {
			inv.expire()
			break
		}
		timeout, timed := remaining, false
		if mux.timerFn != nil {
			if d := mux.timerAt.Sub(now); d < timeout {
				timeout, timed = max(d, 0), true
			}
		}
		events, err := wait(timeout)
		if err != nil {
			if errors.Is(err, poller.ErrInterrupted) {
				inv.fail(fmt.Errorf("%w: %w", ErrInterrupted, err))
			} else {
				inv.fail(multiplexerError(err))
			}
			break
		}
		fired := 0
		for ev := range events {
			fired++
			if fn, ok := mux.fns[ev.Token]; ok {
				fn(ev)
			}
		}
		if mux.fire(time.Now()) {
			continue
		}
		if fired == 0 && !timed {
			inv.expire()
		}
	}
	return inv.resp, inv.err
}

// Start begins executing script for req on l and returns immediately. done
// is called on the loop goroutine exactly once with the outcome, possibly
// before Start returns. Start must be called on the loop goroutine.
func Start(l *loop.Loop, req *Request, script *Script, opts Options, done func(*Response, error)) *Invocation {
	inv := newInvocation(req, script, opts, loopMux{l: l})
	inv.done = done
	inv.timer = l.After(inv.deadline, inv.expire)
	inv.start()
	return inv
}

// Abort fails a running invocation with ErrInterrupted wrapping cause. The
// child is killed and reaped. It has no effect once the invocation has
// finished.
func (inv *Invocation) Abort(cause error) {
	inv.fail(fmt.Errorf("%w: %w", ErrInterrupted, cause))
}

type pollMux struct {
	p   *poller.Poller
	fns map[poller.Token]func(poller.Event)

	// One pending timer is enough: only the exit poll uses it.
	timerAt time.Time
	timerFn func()
}

func (m *pollMux) after(at time.Time, fn func()) func() bool {
	m.timerAt, m.timerFn = at, fn
	return func() bool {
		if m.timerFn == nil {
			return false
		}
		m.timerFn = nil
		return true
	}
}

// fire runs the pending timer if it is due.
func (m *pollMux) fire(now time.Time) bool {
	if m.timerFn == nil || now.Before(m.timerAt) {
		return false
	}
	fn := m.timerFn
	m.timerFn = nil
	fn()
	return true
}

func (m *pollMux) watch(h *handle.Handle, in poller.Interest, fn func(poller.Event)) (poller.Token, error) {
	tok, err := m.p.Register(h, in, 0)
	if err != nil {
		return poller.Token{}, err
	}
	m.fns[tok] = fn
	return tok, nil
}

func (m *pollMux) unwatch(tok poller.Token) {
	if !tok.Valid() {
		return
	}
	delete(m.fns, tok)
	if err := m.p.Unregister(tok); err != nil {
		log.Get().Debugw("unregister failed", "token", tok, "error", err)
	}
}

type loopMux struct {
	l *loop.Loop
}

func (m loopMux) watch(h *handle.Handle, in poller.Interest, fn func(poller.Event)) (poller.Token, error) {
	return m.l.Watch(h, in, fn)
}

func (m loopMux) after(at time.Time, fn func()) func() bool {
	return m.l.After(at, fn).Stop
}

func (m loopMux) unwatch(tok poller.Token) {
	if !tok.Valid() {
		return
	}
	if err := m.l.Unwatch(tok); err != nil {
		log.Get().Debugw("unwatch failed", "token", tok, "error", err)
	}
}
