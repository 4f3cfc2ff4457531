package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/orchestrator"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the series matching name and labels: the
// gauge or counter value, or the sample count for histograms.
func sample(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			return m.GetGauge().GetValue() + m.GetCounter().GetValue() + float64(m.GetHistogram().GetSampleCount())
		}
	}
	t.Fatalf("no series %s %v", name, labels)
	return 0
}

func TestObserveTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	t0 := time.Now()
	m.ObserveTransition(orchestrator.Transition{Service: "redis", From: orchestrator.Pending, To: orchestrator.Starting, At: t0})
	m.ObserveTransition(orchestrator.Transition{Service: "redis", From: orchestrator.Starting, To: orchestrator.ProbingHealth, At: t0})
	m.ObserveTransition(orchestrator.Transition{Service: "redis", From: orchestrator.ProbingHealth, To: orchestrator.Healthy, At: t0.Add(2 * time.Second)})

	redis := map[string]string{"service": "redis"}
	require.Equal(t, 1.0, sample(t, reg, "devlaunch_service_current_state", map[string]string{"service": "redis", "state": "healthy"}))
	require.Equal(t, 0.0, sample(t, reg, "devlaunch_service_current_state", map[string]string{"service": "redis", "state": "starting"}))
	require.Equal(t, 1.0, sample(t, reg, "devlaunch_service_state_transitions_total", map[string]string{"service": "redis", "from": "probing_health", "to": "healthy"}))
	require.Equal(t, 1.0, sample(t, reg, "devlaunch_service_ready_duration_seconds", redis))

	m.ObserveExit(orchestrator.Exit{Service: "redis", ExitCode: 1})
	m.ObserveSession(report.PartialFailure)
	require.Equal(t, 1.0, sample(t, reg, "devlaunch_service_exits_total", redis))
	require.Equal(t, 1.0, sample(t, reg, "devlaunch_session_finished_total", map[string]string{"overall": "partial_failure"}))
}

func TestNewTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.ObserveSession(report.Success)
	second.ObserveSession(report.Success)
	require.Equal(t, 2.0, sample(t, reg, "devlaunch_session_finished_total", map[string]string{"overall": "success"}))
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.ObserveSession(report.Success)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, addr, reg) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	require.Contains(t, body, `devlaunch_session_finished_total{overall="success"} 1`)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}
