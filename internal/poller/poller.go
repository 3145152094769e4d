package poller

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Errors mapped from the OS.
var (
	ErrAlreadyRegistered = errors.New("already registered")
	ErrTooManyLoops      = errors.New("too many nested pollers")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrQueueFull         = errors.New("registration queue full")
	ErrNotPermitted      = errors.New("not permitted")
	ErrNotRegistered     = errors.New("not registered")
	ErrInterrupted       = errors.New("wait interrupted")
	ErrClosed            = errors.New("poller closed")
)

// Interest is a set of readiness conditions.
type Interest uint32

// Readiness conditions.
const (
	Readable Interest = 1 << iota
	Writable
	PeerHangup
	Priority
	Error
	Hangup
)

var interestNames = []string{"readable", "writable", "peer-hangup", "priority", "error", "hangup"}

// Has reports whether all conditions in x are in i.
func (i Interest) Has(x Interest) bool {
	return i&x == x
}

// Any reports whether i shares a condition with x.
func (i Interest) Any(x Interest) bool {
	return i&x != 0
}

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var names []string
	for bit, name := range interestNames {
		if i&(1<<bit) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// Mode flags modify how a registration reports readiness.
type Mode uint8

// Registration modes.
const (
	EdgeTriggered Mode = 1 << iota
	OneShot
)

// Token identifies one registration.
type Token struct {
	fd  int32
	gen uint32
}

// FD returns the descriptor the token was registered for.
func (t Token) FD() int {
	return int(t.fd)
}

// Valid reports whether t came from a successful Register.
func (t Token) Valid() bool {
	return t.gen != 0
}

func (t Token) String() string {
	return fmt.Sprintf("fd%d#%d", t.fd, t.gen)
}

// Event reports which conditions fired for a registration.
type Event struct {
	Token Token
	Ready Interest
}

// Events is the result of one Wait. It is valid until the next Wait.
type Events = iter.Seq[Event]

// mapErrno translates registration and creation errors.
func mapErrno(op string, err error) error {
	var kind error
	switch err {
	case unix.EEXIST:
		kind = ErrAlreadyRegistered
	case unix.ELOOP:
		kind = ErrTooManyLoops
	case unix.ENOMEM, unix.EMFILE, unix.ENFILE:
		kind = ErrResourceExhausted
	case unix.ENOSPC:
		kind = ErrQueueFull
	case unix.EPERM:
		kind = ErrNotPermitted
	case unix.ENOENT:
		kind = ErrNotRegistered
	case unix.EINTR:
		kind = ErrInterrupted
	default:
		return os.NewSyscallError(op, err)
	}
	return fmt.Errorf("%w: %w", kind, os.NewSyscallError(op, err))
}
