package poller

import (
	"fmt"
	"math"
	"time"
	"unsafe"

	"github.com/mrzor/gatewayd/internal/handle"

	"golang.org/x/sys/unix"
)

const (
	defaultCapacity = 128
	maxCapacity     = 4096

	epollET      = 1 << 31
	epollOneShot = 1 << 30

	sigsetSize = 8 // kernel sigset_t, _NSIG/8
)

// Poller multiplexes readiness over an epoll instance.
type Poller struct {
	epfd   *handle.Handle
	gens   map[int32]uint32 // fd -> generation of the live registration
	gen    uint32
	events []unix.EpollEvent
}

// New creates a poller. capacityHint bounds the events returned per Wait.
func New(capacityHint int) (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, mapErrno("epoll_create1", err)
	}
	epfd, err := handle.Open(fd)
	if err != nil {
		return nil, err
	}
	switch {
	case capacityHint <= 0:
		capacityHint = defaultCapacity
	case capacityHint > maxCapacity:
		capacityHint = maxCapacity
	}
	return &Poller{
		epfd:   epfd,
		gens:   make(map[int32]uint32),
		events: make([]unix.EpollEvent, capacityHint),
	}, nil
}

// Register adds h with the given interest and returns its token.
func (p *Poller) Register(h *handle.Handle, in Interest, mode Mode) (Token, error) {
	if p.epfd.Closed() {
		return Token{}, ErrClosed
	}
	fd := h.Raw()
	if fd < 0 {
		return Token{}, handle.ErrInvalidHandle
	}
	p.gen++
	if p.gen == 0 {
		p.gen = 1
	}
	//nolint:gosec // descriptors fit in int32
	tok := Token{fd: int32(fd), gen: p.gen}
	ev := epollEvent(tok, in, mode)
	if err := unix.EpollCtl(p.epfd.Raw(), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return Token{}, mapErrno("epoll_ctl", err)
	}
	p.gens[tok.fd] = tok.gen
	return tok, nil
}

// Modify replaces the interest of a live registration.
func (p *Poller) Modify(tok Token, in Interest, mode Mode) error {
	if p.epfd.Closed() {
		return ErrClosed
	}
	if !p.live(tok) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, tok)
	}
	ev := epollEvent(tok, in, mode)
	if err := unix.EpollCtl(p.epfd.Raw(), unix.EPOLL_CTL_MOD, int(tok.fd), &ev); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			delete(p.gens, tok.fd)
			return fmt.Errorf("%w: %s", ErrNotRegistered, tok)
		}
		return mapErrno("epoll_ctl", err)
	}
	return nil
}

// Unregister removes a registration. Stale tokens and descriptors that
// were already closed are not errors.
func (p *Poller) Unregister(tok Token) error {
	if p.epfd.Closed() || !p.live(tok) {
		return nil
	}
	delete(p.gens, tok.fd)
	if err := unix.EpollCtl(p.epfd.Raw(), unix.EPOLL_CTL_DEL, int(tok.fd), nil); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return mapErrno("epoll_ctl", err)
	}
	return nil
}

// Registered reports whether tok is a live registration.
func (p *Poller) Registered(tok Token) bool {
	return p.live(tok)
}

func (p *Poller) live(tok Token) bool {
	gen, ok := p.gens[tok.fd]
	return ok && tok.gen != 0 && gen == tok.gen
}

// Wait blocks until a registered handle is ready or timeout elapses. A
// negative timeout waits indefinitely. An empty result means timeout.
// Registrations removed while iterating are skipped.
func (p *Poller) Wait(timeout time.Duration) (Events, error) {
	if p.epfd.Closed() {
		return nil, ErrClosed
	}
	n, err := epollPwait(p.epfd.Raw(), p.events, waitMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil, ErrInterrupted
		}
		return nil, mapErrno("epoll_pwait", err)
	}
	ready := p.events[:n]
	return func(yield func(Event) bool) {
		for i := range ready {
			e := &ready[i]
			//nolint:gosec // generation round-trips through the pad field
			tok := Token{fd: e.Fd, gen: uint32(e.Pad)}
			if !p.live(tok) {
				continue
			}
			if !yield(Event{Token: tok, Ready: fromEpoll(e.Events)}) {
				return
			}
		}
	}, nil
}

// Close releases the epoll instance. Registered handles stay open.
func (p *Poller) Close() error {
	clear(p.gens)
	return p.epfd.Close()
}

func waitMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// epollPwait waits with every signal blocked so that runtime signals
// (preemption, SIGCHLD from gateway children) do not cut the wait short.
func epollPwait(epfd int, events []unix.EpollEvent, msec int) (int, error) {
	var mask unix.Sigset_t
	for i := range mask.Val {
		mask.Val[i] = ^mask.Val[i]
	}
	r, _, e := unix.Syscall6(unix.SYS_EPOLL_PWAIT,
		uintptr(epfd),
		uintptr(unsafe.Pointer(&events[0])), //nolint:gosec // kernel ABI
		uintptr(len(events)),
		uintptr(msec),
		uintptr(unsafe.Pointer(&mask)), //nolint:gosec // kernel ABI
		sigsetSize)
	if e != 0 {
		return 0, e
	}
	return int(r), nil
}

func epollEvent(tok Token, in Interest, mode Mode) unix.EpollEvent {
	var bits uint32
	if in.Any(Readable) {
		bits |= unix.EPOLLIN
	}
	if in.Any(Writable) {
		bits |= unix.EPOLLOUT
	}
	if in.Any(PeerHangup) {
		bits |= unix.EPOLLRDHUP
	}
	if in.Any(Priority) {
		bits |= unix.EPOLLPRI
	}
	if in.Any(Error) {
		bits |= unix.EPOLLERR
	}
	if in.Any(Hangup) {
		bits |= unix.EPOLLHUP
	}
	if mode&EdgeTriggered != 0 {
		bits |= epollET
	}
	if mode&OneShot != 0 {
		bits |= epollOneShot
	}
	//nolint:gosec // generation round-trips through the pad field
	return unix.EpollEvent{Events: bits, Fd: tok.fd, Pad: int32(tok.gen)}
}

func fromEpoll(bits uint32) Interest {
	var in Interest
	if bits&unix.EPOLLIN != 0 {
		in |= Readable
	}
	if bits&unix.EPOLLOUT != 0 {
		in |= Writable
	}
	if bits&unix.EPOLLRDHUP != 0 {
		in |= PeerHangup
	}
	if bits&unix.EPOLLPRI != 0 {
		in |= Priority
	}
	if bits&unix.EPOLLERR != 0 {
		in |= Error
	}
	if bits&unix.EPOLLHUP != 0 {
		in |= Hangup
	}
	return in
}
