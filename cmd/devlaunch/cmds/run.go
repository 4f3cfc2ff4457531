package cmds

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/go-go-golems/devlaunch/pkg/events"
	"github.com/go-go-golems/devlaunch/pkg/health"
	"github.com/go-go-golems/devlaunch/pkg/metrics"
	"github.com/go-go-golems/devlaunch/pkg/orchestrator"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/go-go-golems/devlaunch/pkg/state"
	"github.com/go-go-golems/devlaunch/pkg/supervise"
	"github.com/go-go-golems/devlaunch/pkg/tui"
	"github.com/go-go-golems/devlaunch/pkg/tui/models"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	NoCleanup   bool
	Detach      bool
	TUI         bool
	AltScreen   bool
	FollowLogs  bool
	GracePeriod time.Duration
	StopTimeout time.Duration
	MetricsAddr string
}

func newRunCmd() *cobra.Command {
	var ro runOptions

	cmd := &cobra.Command{
		Use:   "run <config-file>",
		Short: "Start every service of a session file in dependency order",
		Long: "Start every service of a session file in dependency order, waiting for\n" +
			"each service's health probe before starting its dependents.\n\n" +
			"Exit codes: 0 success, 1 partial failure, 2 configuration error, 130 cancelled.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			if ro.GracePeriod <= 0 {
				return errors.New("--grace-period must be > 0")
			}
			return runSession(cmd, opts, ro, args[0])
		},
	}

	cmd.Flags().BoolVar(&ro.NoCleanup, "no-cleanup", false, "Leave started services running when the session fails")
	cmd.Flags().BoolVar(&ro.Detach, "detach", false, "Exit after the start pass and leave services running (stop them with 'devlaunch down')")
	cmd.Flags().BoolVar(&ro.TUI, "tui", false, "Show a live view of the session")
	cmd.Flags().BoolVar(&ro.AltScreen, "alt-screen", false, "Use the terminal's alternate screen for --tui")
	cmd.Flags().BoolVar(&ro.FollowLogs, "follow-logs", false, "Mirror service output into the log")
	cmd.Flags().DurationVar(&ro.GracePeriod, "grace-period", supervise.DefaultGracePeriod, "Time between SIGTERM and SIGKILL when stopping a service")
	cmd.Flags().DurationVar(&ro.StopTimeout, "stop-timeout", orchestrator.DefaultStopTimeout, "Upper bound for stopping a single service")
	cmd.Flags().StringVar(&ro.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

func runSession(cmd *cobra.Command, opts rootOptions, ro runOptions, configPath string) error {
	lc, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := clearStaleState(opts.StateDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	bus, err := events.NewInMemoryBus()
	if err != nil {
		return err
	}
	if !ro.TUI {
		events.RegisterLogHandler(bus)
	}

	var reg *prometheus.Registry
	var m *metrics.Metrics
	if ro.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		m, err = metrics.New(reg)
		if err != nil {
			return err
		}
		metrics.RegisterBusHandler(bus, m)
	}

	var program *tea.Program
	if ro.TUI {
		programOptions := []tea.ProgramOption{
			tea.WithInput(cmd.InOrStdin()),
			tea.WithOutput(cmd.OutOrStdout()),
		}
		if ro.AltScreen {
			programOptions = append(programOptions, tea.WithAltScreen())
		}
		program = tea.NewProgram(models.NewSessionModel(filepath.Base(lc.Path), lc.Order), programOptions...)
		tui.RegisterUIForwarder(bus, program)
	}

	busCtx, cancelBus := context.WithCancel(context.Background())
	defer cancelBus()
	eg, egCtx := errgroup.WithContext(busCtx)
	eg.Go(func() error {
		err := bus.Run(egCtx)
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if reg != nil {
		eg.Go(func() error {
			if err := metrics.Serve(egCtx, ro.MetricsAddr, reg); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
			return nil
		})
	}
	select {
	case <-bus.Router.Running():
	case <-egCtx.Done():
		return eg.Wait()
	}

	var uiDone chan struct{}
	if program != nil {
		// The view owns the terminal while it runs.
		prevLogger := log.Logger
		log.Logger = zerolog.Nop()
		defer func() { log.Logger = prevLogger }()

		uiDone = make(chan struct{})
		go func() {
			defer close(uiDone)
			final, err := program.Run()
			if err != nil {
				prevLogger.Error().Err(err).Msg("session view failed")
			}
			if m, ok := final.(models.SessionModel); ok && m.Quitting() {
				cancelSession()
			}
		}()
	}

	sup := supervise.New(supervise.Options{
		StateDir:    opts.StateDir,
		GracePeriod: ro.GracePeriod,
		FollowLogs:  ro.FollowLogs,
		Detached:    ro.Detach || ro.NoCleanup,
	})
	launcher := orchestrator.LauncherFunc(func(ctx context.Context, spec engine.ServiceSpec) (orchestrator.Handle, error) {
		p, err := sup.Launch(ctx, spec)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	orch, err := orchestrator.New(orchestrator.Options{
		Launcher:         launcher,
		Prober:           health.NewChecker(),
		Observer:         events.TransitionObserver(bus),
		CleanupOnFailure: !ro.NoCleanup,
		StopTimeout:      ro.StopTimeout,
	})
	if err != nil {
		return err
	}

	session, err := orch.Run(sessionCtx, lc.Specs)
	if err != nil {
		return configError(err)
	}
	rep := session.Report()
	finishSession(bus, m, rep)
	if program != nil {
		program.Send(tui.SessionFinishedMsg{Finished: events.SessionFinished{
			SessionID: rep.SessionID(),
			Overall:   rep.Overall(),
			ExitCode:  rep.ExitCode(),
			Outcomes:  rep.Outcomes(),
		}})
	}

	running := session.Running()
	// Only a held session has a launcher left for 'down' to signal.
	hold := rep.Overall() == report.Success && !ro.Detach && len(running) > 0
	if len(running) > 0 {
		st := &state.State{
			SessionID:  session.ID(),
			ConfigPath: lc.Path,
			CreatedAt:  rep.StartedAt(),
			Services:   runningRecords(sup.Records(), running),
		}
		if hold {
			st.LauncherPID = os.Getpid()
		}
		if err := state.Save(opts.StateDir, st); err != nil {
			log.Warn().Err(err).Msg("could not save session state")
		}
	}

	out := cmd.OutOrStdout()
	if program == nil {
		printReport(out, rep)
	}

	if hold {
		holdSession(sessionCtx, bus, program, session)
		if err := session.Stop(context.Background()); err != nil {
			log.Warn().Err(err).Msg("stopping services")
		}
		if err := state.Remove(opts.StateDir); err != nil {
			log.Warn().Err(err).Msg("remove session state")
		}
	} else if len(running) > 0 {
		_, _ = fmt.Fprintf(out, "%d service(s) left running; stop them with 'devlaunch down'\n", len(running))
	}

	if program != nil {
		program.Quit()
		<-uiDone
		printReport(out, rep)
	}
	cancelBus()
	if err := eg.Wait(); err != nil {
		log.Warn().Err(err).Msg("event bus")
	}

	if code := rep.ExitCode(); code != report.ExitSuccess {
		return &ExitError{Code: code, Reported: true}
	}
	return nil
}

// holdSession keeps a healthy session in the foreground until ctx is done or
// every service has exited on its own.
func holdSession(ctx context.Context, bus *events.Bus, program *tea.Program, session *orchestrator.Session) {
	if program != nil {
		program.Send(tui.HoldMsg{})
	} else {
		log.Info().Str("session", session.ID()).Interface("pids", session.PIDs()).Msg("session healthy, press Ctrl-C to stop")
	}
	for ex := range session.Exits(ctx) {
		events.PublishServiceExit(bus, ex)
	}
}

// finishSession records the result of the start pass. Metrics and the log
// record it directly; the bus may shut down before delivering it.
func finishSession(bus *events.Bus, m *metrics.Metrics, rep *report.SessionReport) {
	if m != nil {
		m.ObserveSession(rep.Overall())
	}
	log.Debug().
		Str("session", rep.SessionID()).
		Str("overall", string(rep.Overall())).
		Int("exit_code", rep.ExitCode()).
		Msg("session finished")
	events.PublishSessionFinished(bus, rep)
}

func printReport(w io.Writer, rep *report.SessionReport) {
	out, _ := report.Render(rep)
	_, _ = fmt.Fprint(w, out)
}

// clearStaleState refuses to start over a session that still has live
// processes and removes a state file left behind by a dead one.
func clearStaleState(stateDir string) error {
	if !state.Exists(stateDir) {
		return nil
	}
	st, err := state.Load(stateDir)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring unreadable session state")
		return state.Remove(stateDir)
	}
	for _, svc := range st.Services {
		if state.ProcessAlive(svc.PID) {
			return errors.Errorf("session %s is still running (%s, pid %d); run 'devlaunch down' first", st.SessionID, svc.Name, svc.PID)
		}
	}
	log.Debug().Str("session", st.SessionID).Msg("removing stale session state")
	return state.Remove(stateDir)
}

func runningRecords(records []state.ServiceRecord, running []string) []state.ServiceRecord {
	alive := make(map[string]bool, len(running))
	for _, name := range running {
		alive[name] = true
	}
	ret := make([]state.ServiceRecord, 0, len(running))
	for _, rec := range records {
		if alive[rec.Name] {
			ret = append(ret, rec)
		}
	}
	return ret
}
