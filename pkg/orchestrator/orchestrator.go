// Package orchestrator starts a set of services in dependency order, gating
// each dependent on its dependencies' health probes.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/go-go-golems/devlaunch/pkg/health"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	Pending             State = "pending"
	Starting            State = "starting"
	ProbingHealth       State = "probing_health"
	Healthy             State = "healthy"
	Failed              State = "failed"
	HealthCheckTimedOut State = "health_check_timed_out"
	DependencyFailed    State = "dependency_failed"
	Cancelled           State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case Healthy, Failed, HealthCheckTimedOut, DependencyFailed, Cancelled:
		return true
	default:
		return false
	}
}

// Transition is emitted every time a service changes state.
type Transition struct {
	SessionID string    `json:"session_id"`
	Service   string    `json:"service"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	At        time.Time `json:"at"`
	PID       int       `json:"pid,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Observer is called from the service goroutines and must be safe for
// concurrent use.
type Observer func(Transition)

// Handle is a started service process.
type Handle interface {
	PID() int
	Done() <-chan struct{}
	ExitCode() (int, bool)
	Stop(ctx context.Context) error
}

type Launcher interface {
	Launch(ctx context.Context, spec engine.ServiceSpec) (Handle, error)
}

type LauncherFunc func(ctx context.Context, spec engine.ServiceSpec) (Handle, error)

func (f LauncherFunc) Launch(ctx context.Context, spec engine.ServiceSpec) (Handle, error) {
	return f(ctx, spec)
}

type Prober interface {
	Check(ctx context.Context, probe engine.ProbeSpec, proc health.Process) health.Result
}

const DefaultStopTimeout = 15 * time.Second

type Options struct {
	Launcher Launcher
	// Prober defaults to health.NewChecker().
	Prober   Prober
	Observer Observer
	Clock    clockwork.Clock
	// CleanupOnFailure stops every started service when the pass ends in
	// PartialFailure.
	CleanupOnFailure bool
	// StopTimeout bounds teardown of a single service.
	StopTimeout time.Duration
	// SessionID is generated when empty.
	SessionID string
}

type Orchestrator struct {
	opts Options
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Launcher == nil {
		return nil, errors.New("missing Launcher")
	}
	if opts.Prober == nil {
		opts.Prober = health.NewChecker()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Orchestrator{opts: opts}, nil
}

type entry struct {
	spec engine.ServiceSpec
	done chan struct{}

	// Written only by the service's own goroutine before done is closed.
	state   State
	handle  Handle
	outcome report.Outcome
}

type run struct {
	opts      Options
	sessionID string
	entries   map[string]*entry

	mu      sync.Mutex
	started []*entry
}

// Run resolves the start order and runs one orchestration pass. A
// configuration problem returns an *engine.ConfigError before anything is
// launched. Otherwise the returned Session carries the report and owns the
// services that are still running.
//
// When ctx is cancelled, or the pass fails with CleanupOnFailure set, started
// services are stopped in reverse start order before Run returns.
func (o *Orchestrator) Run(ctx context.Context, specs []engine.ServiceSpec) (*Session, error) {
	order, err := engine.Resolve(specs)
	if err != nil {
		return nil, err
	}

	sessionID := o.opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	r := &run{
		opts:      o.opts,
		sessionID: sessionID,
		entries:   make(map[string]*entry, len(specs)),
	}
	for _, spec := range specs {
		r.entries[spec.Name] = &entry{spec: spec, done: make(chan struct{}), state: Pending}
	}

	startedAt := o.opts.Clock.Now()
	log.Info().Str("session", sessionID).Strs("order", order).Msg("starting session")

	var g errgroup.Group
	for _, name := range order {
		e := r.entries[name]
		g.Go(func() error {
			defer close(e.done)
			r.runService(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make([]report.Outcome, 0, len(specs))
	for _, spec := range specs {
		outcomes = append(outcomes, r.entries[spec.Name].outcome)
	}
	rep := report.New(sessionID, startedAt, o.opts.Clock.Now(), outcomes)

	s := &Session{
		id:          sessionID,
		report:      rep,
		started:     r.started,
		stopTimeout: o.opts.StopTimeout,
	}

	switch {
	case ctx.Err() != nil || rep.Overall() == report.SessionCancelled:
		log.Info().Str("session", sessionID).Msg("session cancelled, stopping services")
		_ = s.Stop(context.Background())
	case rep.Overall() == report.PartialFailure && o.opts.CleanupOnFailure:
		log.Info().Str("session", sessionID).Msg("session failed, stopping services")
		_ = s.Stop(context.Background())
	}
	return s, nil
}

func (r *run) runService(ctx context.Context, e *entry) {
	name := e.spec.Name
	begin := r.opts.Clock.Now()
	e.outcome = report.Outcome{Service: name}
	finish := func(to State, kind report.OutcomeKind, detail string) {
		e.outcome.Kind = kind
		e.outcome.Duration = r.opts.Clock.Since(begin)
		r.transition(e, to, detail)
	}

	if dep, state := r.awaitDependencies(e); state != Healthy {
		if state == Cancelled {
			finish(Cancelled, report.Cancelled, "dependency "+dep+" cancelled")
			return
		}
		e.outcome.Dependency = dep
		finish(DependencyFailed, report.DependencyFailed, fmt.Sprintf("dependency %s ended %s", dep, state))
		return
	}
	if ctx.Err() != nil {
		finish(Cancelled, report.Cancelled, "cancelled before start")
		return
	}

	r.transition(e, Starting, "")
	h, err := r.opts.Launcher.Launch(ctx, e.spec)
	if err != nil {
		if ctx.Err() != nil {
			finish(Cancelled, report.Cancelled, err.Error())
			return
		}
		e.outcome.Reason = err.Error()
		finish(Failed, report.FailedToStart, err.Error())
		return
	}
	e.handle = h
	e.outcome.PID = h.PID()
	r.mu.Lock()
	r.started = append(r.started, e)
	r.mu.Unlock()

	if e.spec.Probe == nil {
		finish(Healthy, report.Healthy, "no probe")
		return
	}

	r.transition(e, ProbingHealth, e.spec.Probe.Target())
	res := r.opts.Prober.Check(ctx, *e.spec.Probe, h)
	e.outcome.Attempts = res.Attempts
	switch res.Status {
	case health.Healthy:
		finish(Healthy, report.Healthy, "")
	case health.Cancelled:
		finish(Cancelled, report.Cancelled, "")
	case health.Exited:
		e.outcome.Reason = fmt.Sprintf("exited with code %d during health check", res.ExitCode)
		finish(Failed, report.FailedToStart, e.outcome.Reason)
	default:
		e.outcome.Reason = res.LastErr
		finish(HealthCheckTimedOut, report.HealthCheckTimedOut, res.LastErr)
	}
}

// awaitDependencies blocks until every dependency is terminal, or until one
// of them fails. It returns the dependency that prevents a start, if any.
// A failed dependency takes precedence over a cancelled one.
func (r *run) awaitDependencies(e *entry) (string, State) {
	deps := e.spec.DependsOn
	settled := make(chan *entry, len(deps))
	for _, dep := range deps {
		d := r.entries[dep]
		go func() {
			<-d.done
			settled <- d
		}()
	}

	cancelled := ""
	for range deps {
		d := <-settled
		switch d.state {
		case Healthy:
		case Cancelled:
			if cancelled == "" {
				cancelled = d.spec.Name
			}
		default:
			return d.spec.Name, d.state
		}
	}
	if cancelled != "" {
		return cancelled, Cancelled
	}
	return "", Healthy
}

func (r *run) transition(e *entry, to State, detail string) {
	t := Transition{
		SessionID: r.sessionID,
		Service:   e.spec.Name,
		From:      e.state,
		To:        to,
		At:        r.opts.Clock.Now(),
		Detail:    detail,
	}
	if e.handle != nil {
		t.PID = e.handle.PID()
	}
	e.state = to

	ev := log.Debug()
	if to == Failed || to == HealthCheckTimedOut {
		ev = log.Warn()
	}
	ev.Str("service", t.Service).Str("from", string(t.From)).Str("to", string(t.To)).Str("detail", detail).Msg("service state")

	if r.opts.Observer != nil {
		r.opts.Observer(t)
	}
}
