package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/czeful/goalchat/internal/session"
)

// DaemonBinary is the executable started by EnsureDaemon.
const DaemonBinary = "goalchatd"

// Probe reports whether a daemon answers on socketPath.
func Probe(socketPath string) bool {
	c, err := New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

// EnsureDaemon starts goalchatd for sessionName unless one already answers,
// then waits until it is ready.
func EnsureDaemon(sessionName, socketPath string, timeout time.Duration) error {
	if Probe(socketPath) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "daemon not running for session %q, starting...\n", sessionName)
	if err := startDaemon(sessionName); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if Probe(socketPath) {
			return nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not become ready within %s, see %s", timeout, session.LogPath(sessionName))
}

// startDaemon prefers a goalchatd next to the running executable.
func startDaemon(sessionName string) error {
	bin := DaemonBinary
	if executable, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(executable), DaemonBinary)
		if _, err := os.Stat(sibling); err == nil {
			bin = sibling
		}
	}
	// The daemon outlives the caller; its output goes to the session log only.
	cmd := exec.Command(bin, "--session", sessionName)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
