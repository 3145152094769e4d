package gateway

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/mrzor/gatewayd/internal/handle"

	"golang.org/x/sys/unix"
)

// openPidFD is replaced in tests to simulate kernels without pidfd_open.
var openPidFD = handle.PidFD

// child is a spawned script as seen from the parent.
type child struct {
	pid    int
	stdin  *handle.Handle // write end of the body pipe, non-blocking
	stdout *handle.Handle // read end of the output pipe, non-blocking
	exit   *handle.Handle // pidfd; nil when the kernel lacks pidfd_open
	status unix.WaitStatus
}

// spawn starts argv in its own process group with stdin and stdout attached
// to fresh pipes. stderr is shared with the server.
func spawn(argv, env []string, dir string) (*child, error) {
	path, err := resolve(argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	inR, inW, err := handle.Pipe()
	if err != nil {
		return nil, classifySpawn(err)
	}
	outR, outW, err := handle.Pipe()
	if err != nil {
		_ = inR.Close()
		_ = inW.Close()
		return nil, classifySpawn(err)
	}
	// The child's ends are closed in the parent on every path.
	defer inR.Close()
	defer outW.Close()

	pid, err := syscall.ForkExec(path, argv, &syscall.ProcAttr{
		Dir: dir,
		Env: env,
		//nolint:gosec // descriptors are non-negative
		Files: []uintptr{uintptr(inR.Raw()), uintptr(outW.Raw()), uintptr(unix.Stderr)},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	})
	if err != nil {
		_ = inW.Close()
		_ = outR.Close()
		return nil, classifySpawn(err)
	}

	c := &child{pid: pid, stdin: inW, stdout: outR}
	if err := errors.Join(inW.SetBlocking(false), outR.SetBlocking(false)); err != nil {
		c.kill()
		_, _, _ = reap(pid, 0) //nolint:errcheck // best effort after a failed setup
		c.close()
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
	if exit, err := openPidFD(pid); err == nil {
		c.exit = exit
	}
	return c, nil
}

func resolve(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		return name, nil
	}
	return exec.LookPath(name)
}

func classifySpawn(err error) error {
	switch {
	case errors.Is(err, unix.EMFILE),
		errors.Is(err, unix.ENFILE),
		errors.Is(err, unix.ENOMEM),
		errors.Is(err, unix.EAGAIN):
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	default:
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}
}

// kill sends SIGKILL to the child's process group, falling back to the
// child alone.
func (c *child) kill() {
	if err := unix.Kill(-c.pid, unix.SIGKILL); err == unix.ESRCH {
		_ = unix.Kill(c.pid, unix.SIGKILL)
	}
}

func (c *child) close() {
	_ = c.stdin.Close()
	_ = c.stdout.Close()
	_ = c.exit.Close()
}

// reap collects the exit status of pid. With unix.WNOHANG it reports
// exited=false while the child runs.
func reap(pid, options int) (unix.WaitStatus, bool, error) {
	var ws unix.WaitStatus
	for {
		got, err := unix.Wait4(pid, &ws, options, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ws, false, err
		}
		return ws, got == pid, nil
	}
}
