package loop

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrzor/gatewayd/internal/handle"
	"github.com/mrzor/gatewayd/internal/log"
	"github.com/mrzor/gatewayd/internal/poller"

	"golang.org/x/sys/unix"
)

// ErrStopped is returned by Post once the loop has been stopped.
var ErrStopped = errors.New("loop stopped")

// Loop is a single-goroutine readiness loop.
type Loop struct {
	poller   *poller.Poller
	wake     *handle.Handle
	wakeTok  poller.Token
	watchers map[poller.Token]func(poller.Event)
	timers   timerHeap

	mu      sync.Mutex
	posted  []func()
	stopped atomic.Bool
}

// New creates a loop whose poller returns at most capacityHint events per
// cycle.
func New(capacityHint int) (*Loop, error) {
	p, err := poller.New(capacityHint)
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}
	wake, err := handle.EventFD()
	if err != nil {
		_ = p.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, err
	}
	tok, err := p.Register(wake, poller.Readable, 0)
	if err != nil {
		_ = wake.Close()
		_ = p.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, fmt.Errorf("registering wakeup: %w", err)
	}
	return &Loop{
		poller:   p,
		wake:     wake,
		wakeTok:  tok,
		watchers: make(map[poller.Token]func(poller.Event)),
	}, nil
}

// Poller exposes the loop's multiplexer for registrations that dispatch
// through Watch.
func (l *Loop) Poller() *poller.Poller {
	return l.poller
}

// Watch registers h and routes its events to fn.
func (l *Loop) Watch(h *handle.Handle, in poller.Interest, fn func(poller.Event)) (poller.Token, error) {
	tok, err := l.poller.Register(h, in, 0)
	if err != nil {
		return poller.Token{}, err
	}
	l.watchers[tok] = fn
	return tok, nil
}

// Unwatch drops a registration. Unknown tokens are ignored.
func (l *Loop) Unwatch(tok poller.Token) error {
	delete(l.watchers, tok)
	return l.poller.Unregister(tok)
}

// Watching reports the number of live watchers.
func (l *Loop) Watching() int {
	return len(l.watchers)
}

// After schedules fn to run on the loop at or after at.
func (l *Loop) After(at time.Time, fn func()) *Timer {
	t := &Timer{at: at, fn: fn, index: -1, loop: l}
	l.timers.push(t)
	return t
}

// Post queues fn to run on the loop goroutine. Safe for concurrent use.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.stopped.Load() {
		l.mu.Unlock()
		return ErrStopped
	}
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.wakeup()
	return nil
}

// Stop makes Run return after the current cycle. Safe for concurrent use.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped.Store(true)
	l.mu.Unlock()
	l.wakeup()
}

func (l *Loop) wakeup() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := l.wake.Write(one[:]); err != nil && err != unix.EAGAIN {
		log.Get().Debugw("loop wakeup failed", "error", err)
	}
}

func (l *Loop) drainWakeup() {
	var buf [8]byte
	_, _ = l.wake.Read(buf[:]) //nolint:errcheck // EAGAIN just means another cycle drained it
}

// Run cycles until ctx is done or Stop is called. Posted functions still
// queued when Run returns are dropped.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()
	for !l.stopped.Load() {
		if err := l.RunOnce(-1); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// RunOnce performs one cycle: posted work, one wait bounded by maxWait and
// the nearest timer, event dispatch, expired timers. A negative maxWait
// means no bound beyond the timers.
func (l *Loop) RunOnce(maxWait time.Duration) error {
	l.runPosted()

	events, err := l.poller.Wait(l.nextTimeout(maxWait, time.Now()))
	switch {
	case errors.Is(err, poller.ErrInterrupted):
		// For the loop an interrupted wait is just an empty cycle.
		log.Get().Debugw("loop wait interrupted")
	case err != nil:
		return fmt.Errorf("waiting for events: %w", err)
	default:
		for ev := range events {
			if ev.Token == l.wakeTok {
				l.drainWakeup()
				continue
			}
			if fn, ok := l.watchers[ev.Token]; ok {
				fn(ev)
			}
		}
	}

	l.fireTimers(time.Now())
	l.runPosted()
	return nil
}

func (l *Loop) runPosted() {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()
	for _, fn := range posted {
		fn()
	}
}

func (l *Loop) nextTimeout(maxWait time.Duration, now time.Time) time.Duration {
	l.mu.Lock()
	pending := len(l.posted) > 0
	l.mu.Unlock()
	if pending {
		return 0
	}
	if next := l.timers.peek(); next != nil {
		d := next.at.Sub(now)
		if d < 0 {
			d = 0
		}
		if maxWait < 0 || d < maxWait {
			return d
		}
	}
	return maxWait
}

func (l *Loop) fireTimers(now time.Time) {
	for {
		next := l.timers.peek()
		if next == nil || next.at.After(now) {
			return
		}
		l.timers.pop()
		next.fn()
	}
}

// Close releases the poller and the wakeup descriptor. Call it after Run
// has returned.
func (l *Loop) Close() error {
	l.Stop()
	clear(l.watchers)
	_ = l.wake.Close()
	return l.poller.Close()
}
