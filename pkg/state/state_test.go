package state

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestState_SaveLoadRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DefaultDirName)
	require.False(t, Exists(dir))

	st := &State{
		SessionID: "s-1",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Services: []ServiceRecord{
			{Name: "redis", PID: 42, Command: []string{"redis-server"}, Cwd: "/tmp", ProbeKind: "port", ProbeTarget: "127.0.0.1:6379"},
		},
	}
	require.NoError(t, Save(dir, st))
	require.True(t, Exists(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.True(t, st.CreatedAt.Equal(loaded.CreatedAt))
	loaded.CreatedAt = st.CreatedAt
	require.Equal(t, st, loaded)

	require.NoError(t, Remove(dir))
	require.False(t, Exists(dir))
	require.NoError(t, Remove(dir))
}

func TestSanitizeEnv(t *testing.T) {
	out := SanitizeEnv(map[string]string{
		"PORT":            "8080",
		"REDIS_URL":       "redis://127.0.0.1:6379",
		"NGROK_AUTHTOKEN": "abc",
		"db_password":     "hunter2",
		"API_KEY":         "k",
	})
	require.Equal(t, "8080", out["PORT"])
	require.Equal(t, "redis://127.0.0.1:6379", out["REDIS_URL"])
	require.Equal(t, redactedValue, out["NGROK_AUTHTOKEN"])
	require.Equal(t, redactedValue, out["db_password"])
	require.Equal(t, redactedValue, out["API_KEY"])
	require.Nil(t, SanitizeEnv(nil))
}

func TestTailLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.stderr.log")
	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	lines, err := TailLines(path, 3, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"line 97", "line 98", "line 99"}, lines)

	lines, err = TailLines(path, 50, 20)
	require.NoError(t, err)
	require.Equal(t, []string{"line 98", "line 99"}, lines)

	empty := filepath.Join(t.TempDir(), "empty.log")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	lines, err = TailLines(empty, 5, 0)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestExitInfo_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	code := 3
	path := ExitInfoPath(dir, "backend")
	require.NoError(t, WriteExitInfo(path, ExitInfo{Service: "backend", PID: 7, ExitCode: &code, StderrTail: []string{"boom"}}))
	info, err := ReadExitInfo(path)
	require.NoError(t, err)
	require.Equal(t, "backend", info.Service)
	require.NotNil(t, info.ExitCode)
	require.Equal(t, 3, *info.ExitCode)
}

func TestProcessAlive(t *testing.T) {
	require.False(t, ProcessAlive(0))
	require.True(t, ProcessAlive(os.Getpid()))

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	require.False(t, ProcessAlive(cmd.Process.Pid))
}
