package orchestrator

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Session is the result of one orchestration pass. It owns the handles of
// the services it started.
type Session struct {
	id          string
	report      *report.SessionReport
	started     []*entry
	stopTimeout time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *Session) ID() string                    { return s.id }
func (s *Session) Report() *report.SessionReport { return s.report }

// Running lists the services whose processes are still alive, in start order.
func (s *Session) Running() []string {
	var ret []string
	for _, e := range s.started {
		if !exited(e.handle) {
			ret = append(ret, e.spec.Name)
		}
	}
	return ret
}

// PIDs maps every started service to its process id.
func (s *Session) PIDs() map[string]int {
	ret := make(map[string]int, len(s.started))
	for _, e := range s.started {
		ret[e.spec.Name] = e.handle.PID()
	}
	return ret
}

// Stop stops every started service in reverse start order. It is safe to
// call more than once; later calls return the first result.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		var errs []error
		for i := len(s.started) - 1; i >= 0; i-- {
			e := s.started[i]
			if exited(e.handle) {
				continue
			}
			log.Info().Str("service", e.spec.Name).Int("pid", e.handle.PID()).Msg("stopping service")
			stopCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
			if err := e.handle.Stop(stopCtx); err != nil {
				errs = append(errs, errors.Wrapf(err, "stop %s", e.spec.Name))
			}
			cancel()
		}
		s.stopErr = stderrors.Join(errs...)
	})
	return s.stopErr
}

type Exit struct {
	Service  string `json:"service"`
	PID      int    `json:"pid"`
	ExitCode int    `json:"exit_code"`
}

// Exits delivers one Exit for every service that was running when Exits was
// called and exits afterwards. The channel is closed once all of them have
// exited or ctx is done.
func (s *Session) Exits(ctx context.Context) <-chan Exit {
	ch := make(chan Exit)
	var wg sync.WaitGroup
	for _, e := range s.started {
		if exited(e.handle) {
			continue
		}
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			select {
			case <-e.handle.Done():
			case <-ctx.Done():
				return
			}
			code, _ := e.handle.ExitCode()
			select {
			case ch <- Exit{Service: e.spec.Name, PID: e.handle.PID(), ExitCode: code}:
			case <-ctx.Done():
			}
		}(e)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}

func exited(h Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}
