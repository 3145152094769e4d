package handle

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrInvalidHandle is returned by Open for negative descriptors.
var ErrInvalidHandle = errors.New("invalid handle")

const inert = -1

// closeErrorHook receives errors swallowed by Close.
var closeErrorHook atomic.Pointer[func(fd int, err error)]

// SetCloseErrorHook installs fn as the receiver of close errors and returns
// a function restoring the previous hook. A nil fn disables reporting.
func SetCloseErrorHook(fn func(fd int, err error)) (restore func()) {
	var prev *func(int, error)
	if fn == nil {
		prev = closeErrorHook.Swap(nil)
	} else {
		prev = closeErrorHook.Swap(&fn)
	}
	return func() { closeErrorHook.Store(prev) }
}

// Handle exclusively owns one OS descriptor.
type Handle struct {
	fd       int
	blocking bool
	moved    bool
}

// Open takes ownership of raw.
func Open(raw int) (*Handle, error) {
	if raw < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, raw)
	}
	h := &Handle{fd: raw, blocking: true}
	//nolint:gosec // descriptors are non-negative here
	if flags, err := unix.FcntlInt(uintptr(raw), unix.F_GETFL, 0); err == nil {
		h.blocking = flags&unix.O_NONBLOCK == 0
	}
	track(h)
	return h, nil
}

// track closes handles that are dropped without Close.
func track(hs ...*Handle) {
	for _, h := range hs {
		runtime.SetFinalizer(h, (*Handle).Close)
	}
}

// mustOwn panics when h was moved from. Using a moved handle is a bug in the
// caller, not a runtime condition.
func (h *Handle) mustOwn() {
	if h.moved {
		panic("handle: use of moved handle")
	}
}

// Move transfers ownership to a new Handle. h becomes inert.
func (h *Handle) Move() *Handle {
	h.mustOwn()
	n := &Handle{fd: h.fd, blocking: h.blocking}
	h.fd = inert
	h.moved = true
	runtime.SetFinalizer(h, nil)
	if n.fd != inert {
		track(n)
	}
	return n
}

// Raw returns the descriptor for passing to syscalls. Ownership stays with h.
// A closed handle returns -1.
func (h *Handle) Raw() int {
	h.mustOwn()
	return h.fd
}

// Closed reports whether h no longer holds a descriptor.
func (h *Handle) Closed() bool {
	return h.fd == inert
}

// Blocking reports the recorded blocking mode.
func (h *Handle) Blocking() bool {
	h.mustOwn()
	return h.blocking
}

// SetBlocking toggles O_NONBLOCK. On failure the recorded mode is unchanged.
func (h *Handle) SetBlocking(blocking bool) error {
	h.mustOwn()
	if h.fd == inert {
		return os.ErrClosed
	}
	if err := unix.SetNonblock(h.fd, !blocking); err != nil {
		return os.NewSyscallError("fcntl", err)
	}
	h.blocking = blocking
	return nil
}

// Read reads from the descriptor, retrying on EINTR.
func (h *Handle) Read(p []byte) (int, error) {
	h.mustOwn()
	return ignoringEINTRIO(unix.Read, h.fd, p)
}

// Write writes to the descriptor once, retrying on EINTR. Short writes are
// returned as-is.
func (h *Handle) Write(p []byte) (int, error) {
	h.mustOwn()
	return ignoringEINTRIO(unix.Write, h.fd, p)
}

// Close closes the descriptor and invalidates h. It is safe to call more
// than once and on a moved handle; only the first call on the owner closes.
// The standard streams are left open. Close always returns nil.
func (h *Handle) Close() error {
	if h == nil || h.fd == inert {
		return nil
	}
	fd := h.fd
	h.fd = inert
	runtime.SetFinalizer(h, nil)
	if fd <= 2 {
		return nil
	}
	if err := unix.Close(fd); err != nil {
		if hook := closeErrorHook.Load(); hook != nil {
			(*hook)(fd, err)
		}
	}
	return nil
}

func ignoringEINTRIO(fn func(fd int, p []byte) (int, error), fd int, p []byte) (int, error) {
	for {
		n, err := fn(fd, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}
