package supervise

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/go-go-golems/devlaunch/pkg/state"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, p *Process, d time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(d):
		t.Fatalf("process %s did not exit within %s", p.Name(), d)
	}
}

func TestProcess_StartStop_Sleep(t *testing.T) {
	p := NewProcess(ProcessOptions{Name: "sleep", Command: []string{"sleep", "10"}, GracePeriod: 2 * time.Second})
	require.Equal(t, NotStarted, p.State())
	require.NoError(t, p.Start())
	require.True(t, p.Alive())
	require.Greater(t, p.PID(), 0)
	require.True(t, state.ProcessAlive(p.PID()))
	_, exited := p.ExitCode()
	require.False(t, exited)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	waitDone(t, p, 3*time.Second)
	require.False(t, p.Alive())
	require.Equal(t, Killed, p.State())
	require.False(t, state.ProcessAlive(p.PID()))
}

func TestProcess_StartTwiceFails(t *testing.T) {
	p := NewProcess(ProcessOptions{Name: "t", Command: []string{"true"}})
	require.NoError(t, p.Start())
	require.Error(t, p.Start())
	waitDone(t, p, 3*time.Second)
}

func TestProcess_ExitCode(t *testing.T) {
	p := NewProcess(ProcessOptions{Name: "crash", Command: []string{"bash", "-c", "exit 3"}})
	require.NoError(t, p.Start())
	waitDone(t, p, 3*time.Second)

	code, ok := p.ExitCode()
	require.True(t, ok)
	require.Equal(t, 3, code)
	require.Equal(t, Exited, p.State())
	require.NoError(t, p.Stop(context.Background()))
}

func TestProcess_MissingBinaryIsSpawnError(t *testing.T) {
	p := NewProcess(ProcessOptions{Name: "ghost", Command: []string{"devlaunch-no-such-binary-xyz"}})
	err := p.Start()
	require.Error(t, err)

	var se *SpawnError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "ghost", se.Service)
	require.True(t, errors.Is(err, exec.ErrNotFound))
	require.Equal(t, NotStarted, p.State())
}

func TestProcess_StopEscalatesToKill(t *testing.T) {
	p := NewProcess(ProcessOptions{
		Name:        "stubborn",
		Command:     []string{"bash", "-c", "trap '' TERM; while true; do sleep 0.1; done"},
		GracePeriod: 300 * time.Millisecond,
	})
	require.NoError(t, p.Start())
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, p.Stop(ctx))
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	require.Equal(t, Killed, p.State())
	require.Equal(t, "killed", p.Signal())
}

func TestProcess_OutputGoesToSinks(t *testing.T) {
	var out, errOut strings.Builder
	p := NewProcess(ProcessOptions{
		Name:    "echo",
		Command: []string{"bash", "-c", "echo hello; echo oops >&2; echo $GREETING"},
		Env:     map[string]string{"GREETING": "hi there"},
		Stdout:  &out,
		Stderr:  &errOut,
	})
	require.NoError(t, p.Start())
	waitDone(t, p, 3*time.Second)
	require.Equal(t, "hello\nhi there\n", out.String())
	require.Equal(t, "oops\n", errOut.String())
}

func TestProcess_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	p := NewProcess(ProcessOptions{Name: "pwd", Command: []string{"bash", "-c", "touch here"}, Dir: dir})
	require.NoError(t, p.Start())
	waitDone(t, p, 3*time.Second)
	_, err := os.Stat(filepath.Join(dir, "here"))
	require.NoError(t, err)
}

func TestSupervisor_LaunchRecordsAndLogs(t *testing.T) {
	stateDir := t.TempDir()
	s := New(Options{StateDir: stateDir, GracePeriod: time.Second})

	p, err := s.Launch(context.Background(), engine.ServiceSpec{
		Name:             "web",
		Command:          []string{"bash", "-c", "echo started; echo warn >&2; sleep 10"},
		WorkingDirectory: stateDir,
		Env:              map[string]string{"API_TOKEN": "secret"},
		Probe:            &engine.ProbeSpec{Kind: engine.ProbePort, Host: "127.0.0.1", Port: 6553},
	})
	require.NoError(t, err)

	recs := s.Records()
	require.Len(t, recs, 1)
	require.Equal(t, "web", recs[0].Name)
	require.Equal(t, p.PID(), recs[0].PID)
	require.Equal(t, "[REDACTED]", recs[0].Env["API_TOKEN"])
	require.Equal(t, "port", recs[0].ProbeKind)
	require.Equal(t, "127.0.0.1:6553", recs[0].ProbeTarget)

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(recs[0].StdoutLog)
		return err == nil && strings.Contains(string(b), "started")
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	require.Eventually(t, func() bool {
		info, err := state.ReadExitInfo(recs[0].ExitInfo)
		return err == nil && info.Stopped && len(info.StderrTail) == 1 && info.StderrTail[0] == "warn"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSupervisor_LaunchSpawnError(t *testing.T) {
	s := New(Options{StateDir: t.TempDir()})
	_, err := s.Launch(context.Background(), engine.ServiceSpec{
		Name:             "ghost",
		Command:          []string{"devlaunch-no-such-binary-xyz"},
		WorkingDirectory: ".",
	})
	var se *SpawnError
	require.True(t, errors.As(err, &se))
	require.Empty(t, s.Records())
}

func TestTerminatePIDGroup(t *testing.T) {
	cmd := exec.Command("bash", "-c", "sleep 10 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()
	pid := cmd.Process.Pid

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, TerminatePIDGroup(ctx, pid, time.Second))
	require.Eventually(t, func() bool { return !state.ProcessAlive(pid) }, 3*time.Second, 50*time.Millisecond)
}

func TestSupervisor_DetachedWritesPlainFiles(t *testing.T) {
	stateDir := t.TempDir()
	s := New(Options{StateDir: stateDir, Detached: true})

	p, err := s.Launch(context.Background(), engine.ServiceSpec{
		Name:             "oneshot",
		Command:          []string{"bash", "-c", "echo hi; echo bye >&2; exit 2"},
		WorkingDirectory: stateDir,
	})
	require.NoError(t, err)
	waitDone(t, p, 3*time.Second)

	rec := s.Records()[0]
	b, err := os.ReadFile(rec.StdoutLog)
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(b))

	require.Eventually(t, func() bool {
		info, err := state.ReadExitInfo(rec.ExitInfo)
		return err == nil && info.ExitCode != nil && *info.ExitCode == 2 && !info.Stopped
	}, 3*time.Second, 50*time.Millisecond)
}
