package supervise

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultGracePeriod = 3 * time.Second

type ProcessState int

const (
	NotStarted ProcessState = iota
	Running
	Exited
	Killed
)

func (s ProcessState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Killed:
		return "killed"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// SpawnError means the command could not be executed at all.
type SpawnError struct {
	Service string
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q (%s): %v", e.Service, strings.Join(e.Command, " "), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

type ProcessOptions struct {
	Name    string
	Command []string
	Dir     string
	Env     map[string]string
	Stdout  io.Writer
	Stderr  io.Writer
	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
}

// Process owns one external OS process started in its own process group.
type Process struct {
	opts ProcessOptions
	done chan struct{}

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     ProcessState
	exitCode  int
	signal    string
	stopping  bool
	startedAt time.Time
	exitedAt  time.Time
}

func NewProcess(opts ProcessOptions) *Process {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Process{opts: opts, done: make(chan struct{}), exitCode: -1}
}

// Start launches the command and returns without waiting for it.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != NotStarted {
		return errors.Errorf("process %q already started", p.opts.Name)
	}
	if len(p.opts.Command) == 0 {
		return &SpawnError{Service: p.opts.Name, Err: errors.New("empty command")}
	}

	// #nosec G204 -- command comes from the session config.
	cmd := exec.Command(p.opts.Command[0], p.opts.Command[1:]...)
	cmd.Dir = p.opts.Dir
	cmd.Env = mergeEnv(os.Environ(), p.opts.Env)
	cmd.Stdout = p.opts.Stdout
	cmd.Stderr = p.opts.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Grandchildren may keep the output pipes open after the service exits.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return &SpawnError{Service: p.opts.Name, Command: p.opts.Command, Err: err}
	}

	p.cmd = cmd
	p.state = Running
	p.startedAt = time.Now()
	log.Debug().Str("service", p.opts.Name).Int("pid", cmd.Process.Pid).Msg("process started")

	go p.wait()
	return nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitedAt = time.Now()
	p.state = Exited
	if ps := p.cmd.ProcessState; ps != nil {
		p.exitCode = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			p.state = Killed
			p.signal = ws.Signal().String()
		}
	}
	if p.stopping {
		p.state = Killed
	}
	state, code := p.state, p.exitCode
	p.mu.Unlock()

	var ee *exec.ExitError
	if err != nil && !stderrors.As(err, &ee) {
		log.Debug().Err(err).Str("service", p.opts.Name).Msg("wait")
	}
	log.Debug().Str("service", p.opts.Name).Str("state", state.String()).Int("exit_code", code).Msg("process ended")
	close(p.done)
}

func (p *Process) Name() string { return p.opts.Name }

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Running
}

func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the exit code once the process has ended. Signal deaths report -1.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == NotStarted || p.state == Running {
		return 0, false
	}
	return p.exitCode, true
}

func (p *Process) Signal() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signal
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// Stop sends SIGTERM to the process group, then SIGKILL after the grace period.
// It returns once the process has been reaped or ctx is done.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	pid := p.cmd.Process.Pid
	p.mu.Unlock()

	_ = signalGroup(pid, syscall.SIGTERM)

	grace := time.NewTimer(p.opts.GracePeriod)
	defer grace.Stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		_ = signalGroup(pid, syscall.SIGKILL)
		return ctx.Err()
	case <-grace.C:
	}

	log.Warn().Str("service", p.opts.Name).Int("pid", pid).Dur("grace", p.opts.GracePeriod).Msg("grace period elapsed, killing")
	_ = signalGroup(pid, syscall.SIGKILL)

	killWait := time.NewTimer(2 * time.Second)
	defer killWait.Stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-killWait.C:
		return errors.Errorf("process %q (pid %d) did not exit after SIGKILL", p.opts.Name, pid)
	}
}

func signalGroup(pid int, sig syscall.Signal) error {
	// Setpgid makes the leader's pid the group id.
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
