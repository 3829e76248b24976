package composer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Recorder captures audio into a file until the returned Recording is stopped.
type Recorder interface {
	Start(ctx context.Context, path string) (Recording, error)
}

// Recording is an in-progress capture.
type Recording interface {
	Stop() error
}

// CommandRecorder runs an external capture program with the output path
// appended as its last argument, e.g. arecord -q -f cd -t wav <path>.
// Stop interrupts it so it can finalize the file.
type CommandRecorder struct {
	Command []string
	// StopTimeout bounds how long Stop waits before killing the program.
	StopTimeout time.Duration
}

func (r CommandRecorder) Start(ctx context.Context, path string) (Recording, error) {
	if len(r.Command) == 0 {
		return nil, errors.New("composer: no record command configured")
	}
	args := append(append([]string{}, r.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.Command[0], err)
	}
	timeout := r.StopTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	rec := &cmdRecording{cmd: cmd, timeout: timeout, done: make(chan error, 1)}
	go func() { rec.done <- cmd.Wait() }()
	return rec, nil
}

type cmdRecording struct {
	cmd     *exec.Cmd
	timeout time.Duration
	done    chan error
	once    sync.Once
	err     error
}

func (r *cmdRecording) Stop() error {
	r.once.Do(func() {
		_ = r.cmd.Process.Signal(syscall.SIGINT)
		select {
		case err := <-r.done:
			r.err = exitErr(err)
		case <-time.After(r.timeout):
			_ = r.cmd.Process.Kill()
			<-r.done
			r.err = fmt.Errorf("recorder did not stop within %s", r.timeout)
		}
	})
	return r.err
}

// exitErr treats termination by our own interrupt as a clean stop.
func exitErr(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGINT {
			return nil
		}
		if ee.ExitCode() == 1 || ee.ExitCode() == 130 {
			// arecord exits 1 after SIGINT on some builds
			return nil
		}
	}
	return err
}

// removeRecording deletes a capture file the composer created.
func removeRecording(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
