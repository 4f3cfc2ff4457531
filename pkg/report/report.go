// Package report holds the immutable summary of one orchestration pass.
package report

import (
	"encoding/json"
	"fmt"
	"time"
)

type OutcomeKind string

const (
	Healthy             OutcomeKind = "healthy"
	FailedToStart       OutcomeKind = "failed_to_start"
	HealthCheckTimedOut OutcomeKind = "health_check_timed_out"
	DependencyFailed    OutcomeKind = "dependency_failed"
	Cancelled           OutcomeKind = "cancelled"
)

// Failed reports whether the outcome counts as a failure. Cancelled does not.
func (k OutcomeKind) Failed() bool {
	switch k {
	case FailedToStart, HealthCheckTimedOut, DependencyFailed:
		return true
	default:
		return false
	}
}

type Outcome struct {
	Service string      `json:"service"`
	Kind    OutcomeKind `json:"outcome"`
	// Reason is set for FailedToStart, and for timeouts with a last probe error.
	Reason string `json:"reason,omitempty"`
	// Dependency names the failed dependency for DependencyFailed.
	Dependency string        `json:"dependency,omitempty"`
	PID        int           `json:"pid,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

func (o Outcome) String() string {
	switch o.Kind {
	case Healthy:
		return "Healthy"
	case FailedToStart:
		return fmt.Sprintf("FailedToStart(%s)", o.Reason)
	case HealthCheckTimedOut:
		return "HealthCheckTimedOut"
	case DependencyFailed:
		return fmt.Sprintf("DependencyFailed(%s)", o.Dependency)
	case Cancelled:
		return "Cancelled"
	default:
		return string(o.Kind)
	}
}

type Overall string

const (
	Success          Overall = "success"
	PartialFailure   Overall = "partial_failure"
	SessionCancelled Overall = "cancelled"
)

const (
	ExitSuccess        = 0
	ExitPartialFailure = 1
	ExitConfigError    = 2
	// ExitCancelled follows the shell convention for SIGINT.
	ExitCancelled = 130
)

// SessionReport is built once by New and never changes afterwards.
type SessionReport struct {
	id         string
	startedAt  time.Time
	finishedAt time.Time
	outcomes   []Outcome
	index      map[string]int
	overall    Overall
}

// New builds a report. Outcomes are listed in the order given; the overall
// result depends only on their kinds.
func New(sessionID string, startedAt, finishedAt time.Time, outcomes []Outcome) *SessionReport {
	r := &SessionReport{
		id:         sessionID,
		startedAt:  startedAt,
		finishedAt: finishedAt,
		outcomes:   append([]Outcome{}, outcomes...),
		index:      make(map[string]int, len(outcomes)),
	}
	for i, o := range r.outcomes {
		r.index[o.Service] = i
	}
	r.overall = overallOf(r.outcomes)
	return r
}

func overallOf(outcomes []Outcome) Overall {
	allHealthy := true
	for _, o := range outcomes {
		if o.Kind == Cancelled {
			return SessionCancelled
		}
		if o.Kind != Healthy {
			allHealthy = false
		}
	}
	if allHealthy {
		return Success
	}
	return PartialFailure
}

func (r *SessionReport) SessionID() string       { return r.id }
func (r *SessionReport) StartedAt() time.Time    { return r.startedAt }
func (r *SessionReport) FinishedAt() time.Time   { return r.finishedAt }
func (r *SessionReport) Duration() time.Duration { return r.finishedAt.Sub(r.startedAt) }
func (r *SessionReport) Overall() Overall        { return r.overall }

func (r *SessionReport) Outcomes() []Outcome {
	return append([]Outcome{}, r.outcomes...)
}

func (r *SessionReport) Outcome(service string) (Outcome, bool) {
	i, ok := r.index[service]
	if !ok {
		return Outcome{}, false
	}
	return r.outcomes[i], true
}

// Failures returns how many services ended in a failed outcome.
func (r *SessionReport) Failures() int {
	n := 0
	for _, o := range r.outcomes {
		if o.Kind.Failed() {
			n++
		}
	}
	return n
}

// Count returns how many services ended with kind.
func (r *SessionReport) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

func (r *SessionReport) ExitCode() int {
	switch r.overall {
	case Success:
		return ExitSuccess
	case SessionCancelled:
		return ExitCancelled
	default:
		return ExitPartialFailure
	}
}

type reportJSON struct {
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Overall    Overall   `json:"overall"`
	ExitCode   int       `json:"exit_code"`
	Services   []Outcome `json:"services"`
}

func (r *SessionReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(reportJSON{
		SessionID:  r.id,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Overall:    r.overall,
		ExitCode:   r.ExitCode(),
		Services:   r.outcomes,
	})
}
