package supervise

import (
	"context"
	"syscall"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/state"
	"github.com/pkg/errors"
)

// TerminatePIDGroup stops a process this launcher does not own (for example
// one recorded in the state file by an earlier run). Liveness is polled.
func TerminatePIDGroup(ctx context.Context, pid int, grace time.Duration) error {
	if pid <= 0 || !state.ProcessAlive(pid) {
		return nil
	}
	pgid, pgErr := syscall.Getpgid(pid)
	kill := func(sig syscall.Signal) {
		if pgErr == nil {
			_ = syscall.Kill(-pgid, sig)
			return
		}
		_ = syscall.Kill(pid, sig)
	}

	kill(syscall.SIGTERM)

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < grace {
			grace = remaining
		}
	}

	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	if waitGone(ctx, t, pid, time.Now().Add(grace)) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	kill(syscall.SIGKILL)
	if waitGone(ctx, t, pid, time.Now().Add(2*time.Second)) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Errorf("pid %d still alive after SIGKILL", pid)
}

func waitGone(ctx context.Context, t *time.Ticker, pid int, deadline time.Time) bool {
	for {
		if !state.ProcessAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}
