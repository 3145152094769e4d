package handle

import (
	"os"

	"golang.org/x/sys/unix"
)

// Pipe creates a close-on-exec pipe and returns its read and write ends.
// Both ends are blocking; callers switch their own end with SetBlocking.
func Pipe() (r, w *Handle, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, os.NewSyscallError("pipe2", err)
	}
	r = &Handle{fd: p[0], blocking: true}
	w = &Handle{fd: p[1], blocking: true}
	track(r, w)
	return r, w, nil
}

// EventFD creates a non-blocking eventfd used to wake a poller.
func EventFD() (*Handle, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	h := &Handle{fd: fd}
	track(h)
	return h, nil
}

// PidFD opens a descriptor that becomes readable when process pid exits.
func PidFD(pid int) (*Handle, error) {
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return nil, os.NewSyscallError("pidfd_open", err)
	}
	h := &Handle{fd: fd, blocking: true}
	track(h)
	return h, nil
}
