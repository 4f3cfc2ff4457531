package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	done chan struct{}
	code int
}

func newFakeProcess() *fakeProcess { return &fakeProcess{done: make(chan struct{}), code: -1} }

func (p *fakeProcess) exit(code int) {
	p.code = code
	close(p.done)
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() (int, bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func portProbe(port int, interval, timeout time.Duration) engine.ProbeSpec {
	return engine.ProbeSpec{Kind: engine.ProbePort, Host: "127.0.0.1", Port: port, Interval: interval, Timeout: timeout}
}

func TestCheck_PortOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	res := NewChecker().Check(context.Background(), portProbe(port, 50*time.Millisecond, 2*time.Second), nil)
	require.Equal(t, Healthy, res.Status)
	require.Equal(t, 1, res.Attempts)
	require.Empty(t, res.LastErr)
}

func TestCheck_PortOpensLater(t *testing.T) {
	port := freePort(t)
	go func() {
		time.Sleep(300 * time.Millisecond)
		ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			return
		}
		time.Sleep(3 * time.Second)
		_ = ln.Close()
	}()

	res := NewChecker().Check(context.Background(), portProbe(port, 50*time.Millisecond, 3*time.Second), nil)
	require.Equal(t, Healthy, res.Status)
	require.Greater(t, res.Attempts, 1)
}

func TestCheck_PortTimesOut(t *testing.T) {
	port := freePort(t)
	start := time.Now()
	res := NewChecker().Check(context.Background(), portProbe(port, 50*time.Millisecond, 300*time.Millisecond), nil)
	require.Equal(t, TimedOut, res.Status)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Greater(t, res.Attempts, 1)
	require.Contains(t, res.LastErr, "dial")
}

func TestCheck_HTTPStatusRange(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	cases := []struct {
		name     string
		status   int
		expected engine.StatusRange
		want     Status
	}{
		{"ok in default range", 204, engine.DefaultStatusRange, Healthy},
		{"exact match", 200, engine.StatusRange{Min: 200, Max: 200}, Healthy},
		{"server error never healthy", 503, engine.DefaultStatusRange, TimedOut},
		{"redirect not followed", 302, engine.DefaultStatusRange, TimedOut},
		{"custom range accepts 401", 401, engine.StatusRange{Min: 400, Max: 401}, Healthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status.Store(int32(tc.status))
			probe := engine.ProbeSpec{
				Kind:           engine.ProbeHTTP,
				URL:            srv.URL + "/health",
				ExpectedStatus: tc.expected,
				Interval:       30 * time.Millisecond,
				Timeout:        150 * time.Millisecond,
			}
			res := NewChecker().Check(context.Background(), probe, nil)
			require.Equal(t, tc.want, res.Status)
			if tc.want == TimedOut {
				require.Contains(t, res.LastErr, "unexpected status")
			}
		})
	}
}

func TestCheck_HTTPHealthyOnSecondAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := engine.ProbeSpec{
		Kind:           engine.ProbeHTTP,
		URL:            srv.URL,
		ExpectedStatus: engine.DefaultStatusRange,
		Interval:       20 * time.Millisecond,
		Timeout:        2 * time.Second,
	}
	res := NewChecker().Check(context.Background(), probe, nil)
	require.Equal(t, Healthy, res.Status)
	require.Equal(t, 2, res.Attempts)
}

func TestCheck_Cancelled(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res := NewChecker().Check(ctx, portProbe(port, 20*time.Millisecond, 10*time.Second), nil)
	require.Equal(t, Cancelled, res.Status)
	require.Less(t, res.Elapsed, 5*time.Second)
}

func TestCheck_ProcessExitNonZero(t *testing.T) {
	port := freePort(t)
	proc := newFakeProcess()
	go func() {
		time.Sleep(100 * time.Millisecond)
		proc.exit(3)
	}()

	res := NewChecker().Check(context.Background(), portProbe(port, 20*time.Millisecond, 10*time.Second), proc)
	require.Equal(t, Exited, res.Status)
	require.Equal(t, 3, res.ExitCode)
	require.Contains(t, res.LastErr, "code 3")
}

func TestCheck_ProcessExitZeroKeepsProbing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	proc := newFakeProcess()
	proc.exit(0)
	go func() {
		time.Sleep(200 * time.Millisecond)
		l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			return
		}
		time.Sleep(3 * time.Second)
		_ = l.Close()
	}()

	res := NewChecker().Check(context.Background(), portProbe(port, 20*time.Millisecond, 3*time.Second), proc)
	require.Equal(t, Healthy, res.Status)
}

func TestCheck_FakeClockTimeout(t *testing.T) {
	port := freePort(t)
	fc := clockwork.NewFakeClock()
	c := NewChecker()
	c.Clock = fc

	out := make(chan Result, 1)
	go func() {
		out <- c.Check(context.Background(), portProbe(port, time.Second, 3*time.Second), nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 2))
	fc.Advance(3 * time.Second)

	select {
	case res := <-out:
		require.Equal(t, TimedOut, res.Status)
		require.Equal(t, 3*time.Second, res.Elapsed)
	case <-ctx.Done():
		t.Fatal("check did not finish after the deadline passed")
	}
}

func TestCheck_HungServerStaysWithinTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var conns []net.Conn
	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Never answer.
			conns = append(conns, conn)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-accepted
		for _, c := range conns {
			_ = c.Close()
		}
	})

	probe := engine.ProbeSpec{
		Kind:           engine.ProbeHTTP,
		URL:            "http://" + ln.Addr().String() + "/health",
		ExpectedStatus: engine.DefaultStatusRange,
		Interval:       50 * time.Millisecond,
		Timeout:        200 * time.Millisecond,
	}
	start := time.Now()
	res := NewChecker().Check(context.Background(), probe, nil)
	elapsed := time.Since(start)

	require.Equal(t, TimedOut, res.Status)
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	require.Less(t, elapsed, 600*time.Millisecond)
	require.Contains(t, res.LastErr, "http get")
}
