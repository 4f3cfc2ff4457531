package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultDirName = ".devlaunch"
	StateFilename  = "state.json"
	LogsDirName    = "logs"
)

// State describes the processes of a live session. It is removed on clean shutdown.
type State struct {
	SessionID   string          `json:"session_id"`
	ConfigPath  string          `json:"config_path,omitempty"`
	LauncherPID int             `json:"launcher_pid,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Services    []ServiceRecord `json:"services"`
}

type ServiceRecord struct {
	Name      string            `json:"name"`
	PID       int               `json:"pid"`
	Command   []string          `json:"command"`
	Cwd       string            `json:"cwd"`
	Env       map[string]string `json:"env,omitempty"`
	StdoutLog string            `json:"stdout_log,omitempty"`
	StderrLog string            `json:"stderr_log,omitempty"`
	ExitInfo  string            `json:"exit_info,omitempty"`
	StartedAt time.Time         `json:"started_at,omitempty"`

	ProbeKind   string `json:"probe_kind,omitempty"`   // "port"|"http"
	ProbeTarget string `json:"probe_target,omitempty"` // host:port or URL
}

func StatePath(stateDir string) string {
	return filepath.Join(stateDir, StateFilename)
}

func LogsDir(stateDir string) string {
	return filepath.Join(stateDir, LogsDirName)
}

func Exists(stateDir string) bool {
	_, err := os.Stat(StatePath(stateDir))
	return err == nil
}

func Load(stateDir string) (*State, error) {
	b, err := os.ReadFile(StatePath(stateDir))
	if err != nil {
		return nil, errors.Wrap(err, "read state")
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "parse state json")
	}
	return &s, nil
}

func Save(stateDir string, s *State) error {
	if s == nil {
		return errors.New("nil state")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal state")
	}
	tmp := StatePath(stateDir) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "write state")
	}
	if err := os.Rename(tmp, StatePath(stateDir)); err != nil {
		return errors.Wrap(err, "replace state")
	}
	return nil
}

func Remove(stateDir string) error {
	if err := os.Remove(StatePath(stateDir)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "remove state")
	}
	return nil
}

func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return stderrors.Is(err, syscall.EPERM)
}

func isZombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// pid (comm) state ...; comm may contain spaces and parens.
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	fields := bytes.Fields(b[i+1:])
	if len(fields) < 1 || len(fields[0]) < 1 {
		return false
	}
	return fields[0][0] == 'Z'
}
