package supervise

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/go-go-golems/devlaunch/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Options struct {
	StateDir    string
	GracePeriod time.Duration
	// FollowLogs mirrors service output into the structured log.
	FollowLogs bool
	// Detached services may outlive the launcher, so they write to plain
	// files they inherit instead of writers owned by this process.
	Detached bool

	LogMaxSizeMB  int
	LogMaxBackups int
}

// Supervisor launches session services and keeps a record of each start.
type Supervisor struct {
	opts Options

	mu      sync.Mutex
	records []state.ServiceRecord
}

func New(opts Options) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Supervisor{opts: opts}
}

// Launch starts the service described by spec. A command that cannot be
// executed yields a *SpawnError.
func (s *Supervisor) Launch(ctx context.Context, spec engine.ServiceSpec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.opts.StateDir == "" {
		return nil, errors.New("missing StateDir")
	}

	sinks, err := s.openSinks(spec.Name)
	if err != nil {
		return nil, err
	}

	var stdout, stderr io.Writer = sinks.stdout, sinks.stderr
	var followers []*lineLogger
	if s.opts.FollowLogs && !s.opts.Detached {
		outLog, errLog := newLineLogger(spec.Name, "stdout"), newLineLogger(spec.Name, "stderr")
		followers = append(followers, outLog, errLog)
		stdout = io.MultiWriter(stdout, outLog)
		stderr = io.MultiWriter(stderr, errLog)
	}

	grace := s.opts.GracePeriod
	if spec.StopGracePeriod > 0 {
		grace = spec.StopGracePeriod
	}

	p := NewProcess(ProcessOptions{
		Name:        spec.Name,
		Command:     spec.Command,
		Dir:         spec.WorkingDirectory,
		Env:         spec.Env,
		Stdout:      stdout,
		Stderr:      stderr,
		GracePeriod: grace,
	})
	if err := p.Start(); err != nil {
		sinks.Close()
		return nil, err
	}
	log.Info().Str("service", spec.Name).Int("pid", p.PID()).Str("cwd", spec.WorkingDirectory).Msg("service started")

	rec := state.ServiceRecord{
		Name:      spec.Name,
		PID:       p.PID(),
		Command:   spec.Command,
		Cwd:       spec.WorkingDirectory,
		Env:       state.SanitizeEnv(spec.Env),
		StdoutLog: sinks.stdoutPath,
		StderrLog: sinks.stderrPath,
		StartedAt: p.StartedAt(),
	}
	if spec.Probe != nil {
		rec.ProbeKind = string(spec.Probe.Kind)
		rec.ProbeTarget = spec.Probe.Target()
	}

	if s.opts.Detached {
		// The child holds its own descriptors.
		sinks.Close()
	}
	rec.ExitInfo = state.ExitInfoPath(s.opts.StateDir, spec.Name)
	go func() {
		<-p.Done()
		for _, f := range followers {
			f.Flush()
		}
		if !s.opts.Detached {
			sinks.Close()
		}
		s.recordExit(p, rec)
	}()

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return p, nil
}

// Records returns one record per started service, in start order.
func (s *Supervisor) Records() []state.ServiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]state.ServiceRecord{}, s.records...)
}

func (s *Supervisor) recordExit(p *Process, rec state.ServiceRecord) {
	code, _ := p.ExitCode()
	info := state.ExitInfo{
		Service:   rec.Name,
		PID:       rec.PID,
		StartedAt: rec.StartedAt,
		ExitedAt:  time.Now(),
		Signal:    p.Signal(),
		Stopped:   p.State() == Killed,
	}
	if code >= 0 {
		info.ExitCode = &code
	}
	if lines, err := state.TailLines(rec.StderrLog, 25, 2<<20); err == nil {
		info.StderrTail = lines
	}
	if err := state.WriteExitInfo(rec.ExitInfo, info); err != nil {
		log.Warn().Err(err).Str("service", rec.Name).Msg("write exit info")
	}
}

type sinks struct {
	stdout, stderr         io.WriteCloser
	stdoutPath, stderrPath string
}

func (s sinks) Close() {
	_ = s.stdout.Close()
	_ = s.stderr.Close()
}

func (s *Supervisor) openSinks(name string) (sinks, error) {
	dir := state.LogsDir(s.opts.StateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return sinks{}, errors.Wrap(err, "mkdir logs dir")
	}
	out := sinks{
		stdoutPath: filepath.Join(dir, name+".stdout.log"),
		stderrPath: filepath.Join(dir, name+".stderr.log"),
	}

	if !s.opts.Detached {
		out.stdout = newRotatingLog(out.stdoutPath, s.opts.LogMaxSizeMB, s.opts.LogMaxBackups)
		out.stderr = newRotatingLog(out.stderrPath, s.opts.LogMaxSizeMB, s.opts.LogMaxBackups)
		return out, nil
	}

	stdoutFile, err := os.OpenFile(out.stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return sinks{}, errors.Wrap(err, "open stdout log")
	}
	stderrFile, err := os.OpenFile(out.stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		_ = stdoutFile.Close()
		return sinks{}, errors.Wrap(err, "open stderr log")
	}
	out.stdout, out.stderr = stdoutFile, stderrFile
	return out, nil
}
