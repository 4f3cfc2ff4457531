// Package metrics exposes session progress as Prometheus metrics.
package metrics

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/devlaunch/pkg/events"
	"github.com/go-go-golems/devlaunch/pkg/orchestrator"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "devlaunch"

var allStates = []orchestrator.State{
	orchestrator.Pending,
	orchestrator.Starting,
	orchestrator.ProbingHealth,
	orchestrator.Healthy,
	orchestrator.Failed,
	orchestrator.HealthCheckTimedOut,
	orchestrator.DependencyFailed,
	orchestrator.Cancelled,
}

type Metrics struct {
	transitions   *prometheus.CounterVec
	currentState  *prometheus.GaugeVec
	readyDuration *prometheus.HistogramVec
	exits         *prometheus.CounterVec
	sessions      *prometheus.CounterVec

	mu       sync.Mutex
	starting map[string]time.Time
}

// New creates the collectors and registers them with r. Collectors that are
// already registered are reused.
func New(r prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of service state transitions.",
		}, []string{"service", "from", "to"}),
		currentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current service state (1 = in this state).",
		}, []string{"service", "state"}),
		readyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "ready_duration_seconds",
			Help:      "Time from launch until the health probe passed.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "exits_total",
			Help:      "Number of services that exited after the session came up.",
		}, []string{"service"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Number of orchestration passes by overall result.",
		}, []string{"overall"}),
		starting: map[string]time.Time{},
	}

	var err error
	m.transitions = register(r, m.transitions, &err)
	m.currentState = register(r, m.currentState, &err)
	m.readyDuration = register(r, m.readyDuration, &err)
	m.exits = register(r, m.exits, &err)
	m.sessions = register(r, m.sessions, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the collector already registered under the same
// descriptor, if any. The first failure is stored in errp.
func register[C prometheus.Collector](r prometheus.Registerer, c C, errp *error) C {
	err := r.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if stderrors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	if *errp == nil {
		*errp = errors.Wrap(err, "register metric")
	}
	return c
}

func (m *Metrics) ObserveTransition(t orchestrator.Transition) {
	m.transitions.WithLabelValues(t.Service, string(t.From), string(t.To)).Inc()
	for _, s := range allStates {
		v := 0.0
		if s == t.To {
			v = 1
		}
		m.currentState.WithLabelValues(t.Service, string(s)).Set(v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch t.To {
	case orchestrator.Starting:
		m.starting[t.Service] = t.At
	case orchestrator.Healthy:
		if at, ok := m.starting[t.Service]; ok {
			m.readyDuration.WithLabelValues(t.Service).Observe(t.At.Sub(at).Seconds())
			delete(m.starting, t.Service)
		}
	}
}

func (m *Metrics) ObserveExit(ex orchestrator.Exit) {
	m.exits.WithLabelValues(ex.Service).Inc()
}

func (m *Metrics) ObserveSession(overall report.Overall) {
	m.sessions.WithLabelValues(string(overall)).Inc()
}

// RegisterBusHandler feeds transitions and exits from b into m. The session
// result is recorded by the caller with ObserveSession.
func RegisterBusHandler(b *events.Bus, m *Metrics) {
	b.AddHandler("devlaunch-metrics", events.TopicSession, func(msg *message.Message) error {
		defer msg.Ack()

		env, err := events.ParseMessage(msg)
		if err != nil {
			return err
		}
		switch env.Type {
		case events.TypeTransition:
			var t orchestrator.Transition
			if err := env.Decode(&t); err != nil {
				return err
			}
			m.ObserveTransition(t)
		case events.TypeServiceExit:
			var ex orchestrator.Exit
			if err := env.Decode(&ex); err != nil {
				return err
			}
			m.ObserveExit(ex)
		}
		return nil
	})
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
