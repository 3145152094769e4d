package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sys/unix"
)

var (
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrSpawnFailed       = errors.New("spawn failed")
	ErrScriptFailed      = errors.New("script failed")
	ErrPeerClosed        = errors.New("script closed its input")
	ErrWriteFailed       = errors.New("writing request body failed")
	ErrReadFailed        = errors.New("reading script output failed")
	ErrTimedOut          = errors.New("script timed out")
	ErrInterrupted       = errors.New("wait interrupted")
	ErrMultiplexer       = errors.New("multiplexer failure")

	// ErrOutputTooLarge is wrapped by ErrReadFailed when a script exceeds
	// its output limit.
	ErrOutputTooLarge = errors.New("output too large")
)

// ExitError reports how a script terminated unsuccessfully.
type ExitError struct {
	Pid    int
	Status unix.WaitStatus
}

func (e *ExitError) Error() string {
	switch {
	case e.Status.Signaled():
		return fmt.Sprintf("pid %d: signal: %s", e.Pid, e.Status.Signal())
	case e.Status.Exited():
		return fmt.Sprintf("pid %d: exit status %d", e.Pid, e.Status.ExitStatus())
	default:
		return fmt.Sprintf("pid %d: wait status %#x", e.Pid, uint32(e.Status))
	}
}

// ExitCode returns the exit status, or -1 when the script was killed by a
// signal.
func (e *ExitError) ExitCode() int {
	return e.Status.ExitStatus()
}

// StatusCode maps an invocation failure to the HTTP status reported to the
// client.
func StatusCode(err error) int {
	if errors.Is(err, ErrTimedOut) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
