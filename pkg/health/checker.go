// Package health decides when a started service is ready to accept requests.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

type Status string

const (
	Healthy   Status = "healthy"
	TimedOut  Status = "timed_out"
	Cancelled Status = "cancelled"
	// Exited means the process died with a non-zero code while being probed.
	Exited Status = "exited"
)

type Result struct {
	Status   Status        `json:"status"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
	ExitCode int           `json:"exit_code,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Process is the part of a running service a probe watches.
type Process interface {
	Done() <-chan struct{}
	ExitCode() (int, bool)
}

const (
	DefaultAttemptTimeout = time.Second
	minAttemptTimeout     = 10 * time.Millisecond
)

type Checker struct {
	Clock clockwork.Clock
	// AttemptTimeout bounds a single dial or request.
	AttemptTimeout time.Duration
	HTTPClient     *http.Client
}

func NewChecker() *Checker {
	return &Checker{
		Clock:          clockwork.NewRealClock(),
		AttemptTimeout: DefaultAttemptTimeout,
		HTTPClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// Check polls the probe at a fixed interval until it succeeds, the probe's
// timeout elapses, ctx is cancelled, or proc exits with a non-zero code.
// proc may be nil.
func (c *Checker) Check(ctx context.Context, probe engine.ProbeSpec, proc Process) Result {
	clock := c.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	start := clock.Now()
	deadline := start.Add(probe.Timeout)
	ticker := clock.NewTicker(probe.Interval)
	defer ticker.Stop()
	expired := clock.NewTimer(probe.Timeout)
	defer expired.Stop()

	var exited <-chan struct{}
	if proc != nil {
		exited = proc.Done()
	}

	res := Result{}
	finish := func(s Status) Result {
		res.Status = s
		res.Elapsed = clock.Since(start)
		return res
	}

	for {
		res.Attempts++
		err := c.attempt(ctx, probe, deadline.Sub(clock.Now()))
		if err == nil {
			return finish(Healthy)
		}
		res.LastErr = err.Error()

		if ctx.Err() != nil {
			return finish(Cancelled)
		}
		if !clock.Now().Before(deadline) {
			return finish(TimedOut)
		}

		select {
		case <-ctx.Done():
			return finish(Cancelled)
		case <-expired.Chan():
			return finish(TimedOut)
		case <-exited:
			if code, ok := proc.ExitCode(); ok && code != 0 {
				res.ExitCode = code
				res.LastErr = fmt.Sprintf("process exited with code %d", code)
				return finish(Exited)
			}
			// A clean exit is how launcher commands such as
			// `docker compose up -d` hand off; keep probing.
			exited = nil
		case <-ticker.Chan():
		}
	}
}

// attempt runs one check, bounded by the attempt timeout and by what is
// left of the probe's budget.
func (c *Checker) attempt(ctx context.Context, probe engine.ProbeSpec, remaining time.Duration) error {
	timeout := c.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	timeout = min(timeout, max(remaining, minAttemptTimeout))
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch probe.Kind {
	case engine.ProbePort:
		return checkPort(attemptCtx, probe.Target())
	case engine.ProbeHTTP:
		return c.checkHTTP(attemptCtx, probe.URL, probe.ExpectedStatus)
	default:
		return errors.Errorf("unsupported probe kind %q", probe.Kind)
	}
}

func checkPort(ctx context.Context, address string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	_ = conn.Close()
	return nil
}

func (c *Checker) checkHTTP(ctx context.Context, url string, expected engine.StatusRange) error {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "http get")
	}
	_ = resp.Body.Close()
	if !expected.Contains(resp.StatusCode) {
		return errors.Errorf("unexpected status %d (want %s)", resp.StatusCode, expected)
	}
	return nil
}
