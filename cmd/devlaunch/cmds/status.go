package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/proc"
	"github.com/go-go-golems/devlaunch/pkg/state"
	"github.com/go-go-golems/devlaunch/pkg/tui/styles"
	"github.com/go-go-golems/devlaunch/pkg/tui/widgets"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type outputFormat string

const (
	outputText outputFormat = "text"
	outputJSON outputFormat = "json"
)

var _ pflag.Value = (*outputFormat)(nil)

func (o *outputFormat) String() string { return string(*o) }
func (o *outputFormat) Type() string   { return "format" }

func (o *outputFormat) Set(s string) error {
	switch f := outputFormat(strings.ToLower(s)); f {
	case outputText, outputJSON:
		*o = f
		return nil
	default:
		return errors.Errorf("unknown output format %q (want text or json)", s)
	}
}

type serviceStatus struct {
	Name        string          `json:"name"`
	PID         int             `json:"pid"`
	Alive       bool            `json:"alive"`
	ProbeTarget string          `json:"probe_target,omitempty"`
	Stdout      string          `json:"stdout_log"`
	Stderr      string          `json:"stderr_log"`
	Stats       *proc.Stats     `json:"stats,omitempty"`
	Exit        *state.ExitInfo `json:"exit,omitempty"`
}

type sessionStatus struct {
	SessionID   string          `json:"session_id"`
	ConfigPath  string          `json:"config_path,omitempty"`
	LauncherPID int             `json:"launcher_pid,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Services    []serviceStatus `json:"services"`
}

func newStatusCmd() *cobra.Command {
	format := outputText
	var tailLines int
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the services of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			if !state.Exists(opts.StateDir) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no session state in", opts.StateDir)
				return nil
			}
			st, err := state.Load(opts.StateDir)
			if err != nil {
				return err
			}

			ss := collectStatus(cmd.Context(), proc.NewReader(), st, tailLines, window)
			if format == outputJSON {
				b, err := json.MarshalIndent(ss, "", "  ")
				if err != nil {
					return errors.Wrap(err, "marshal status")
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			renderStatus(cmd.OutOrStdout(), ss)
			return nil
		},
	}
	cmd.Flags().Var(&format, "output", "Output format (text or json)")
	cmd.Flags().IntVar(&tailLines, "tail-lines", 10, "Stderr lines to show for exited services (0 to disable)")
	cmd.Flags().DurationVar(&window, "cpu-window", 200*time.Millisecond, "Sampling window for CPU usage")
	return cmd
}

func collectStatus(ctx context.Context, r *proc.Reader, st *state.State, tailLines int, window time.Duration) sessionStatus {
	ss := sessionStatus{
		SessionID:   st.SessionID,
		ConfigPath:  st.ConfigPath,
		LauncherPID: st.LauncherPID,
		CreatedAt:   st.CreatedAt,
	}
	for _, rec := range st.Services {
		s := serviceStatus{
			Name:        rec.Name,
			PID:         rec.PID,
			Alive:       state.ProcessAlive(rec.PID),
			ProbeTarget: rec.ProbeTarget,
			Stdout:      rec.StdoutLog,
			Stderr:      rec.StderrLog,
		}
		if s.Alive {
			// Services lead their own process group.
			if stats, err := r.Sample(ctx, rec.PID, window); err == nil {
				s.Stats = &stats
			}
		} else {
			s.Exit = exitInfoFor(rec, tailLines)
		}
		ss.Services = append(ss.Services, s)
	}
	return ss
}

// exitInfoFor prefers the exit record written by the launcher and falls back
// to the tail of the stderr log.
func exitInfoFor(rec state.ServiceRecord, tailLines int) *state.ExitInfo {
	if rec.ExitInfo != "" {
		if info, err := state.ReadExitInfo(rec.ExitInfo); err == nil {
			if tailLines >= 0 && len(info.StderrTail) > tailLines {
				info.StderrTail = info.StderrTail[len(info.StderrTail)-tailLines:]
			}
			return info
		}
	}
	if tailLines <= 0 || rec.StderrLog == "" {
		return nil
	}
	lines, err := state.TailLines(rec.StderrLog, tailLines, 2<<20)
	if err != nil {
		return nil
	}
	return &state.ExitInfo{Service: rec.Name, PID: rec.PID, StartedAt: rec.StartedAt, StderrTail: lines}
}

func renderStatus(w io.Writer, ss sessionStatus) {
	theme := styles.DefaultStyles

	id := ss.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	_, _ = fmt.Fprintf(w, "%s  %s\n", theme.Title.Render("session "+id), theme.TitleMuted.Render("started "+ss.CreatedAt.Local().Format(time.DateTime)))

	rows := make([]widgets.TableRow, 0, len(ss.Services))
	for _, s := range ss.Services {
		rows = append(rows, statusRow(s))
	}
	table := widgets.NewTable([]widgets.TableColumn{
		{Header: "SERVICE", Width: 16},
		{Header: "STATE", Width: 16},
		{Header: "PID", Width: 8},
		{Header: "DETAIL", Width: 48},
	}).WithRows(rows)
	_, _ = fmt.Fprintln(w, table.Render())

	for _, s := range ss.Services {
		if s.Exit == nil || len(s.Exit.StderrTail) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "\n%s\n", theme.TitleMuted.Render(s.Name+" stderr:"))
		for _, line := range s.Exit.StderrTail {
			_, _ = fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func statusRow(s serviceStatus) widgets.TableRow {
	pid := strconv.Itoa(s.PID)
	if s.Alive {
		detail := s.ProbeTarget
		if s.Stats != nil {
			detail = fmt.Sprintf("cpu %.1f%%, rss %.1f MB, %d proc", s.Stats.CPUPercent, s.Stats.RSSMB(), s.Stats.Processes)
			if s.ProbeTarget != "" {
				detail += ", " + s.ProbeTarget
			}
		}
		return widgets.TableRow{State: "healthy", Cells: []string{s.Name, "running", pid, detail}}
	}

	label, look := "exited", "failed"
	detail := ""
	if ex := s.Exit; ex != nil {
		switch {
		case ex.Stopped:
			label, look = "stopped", "cancelled"
		case ex.ExitCode != nil:
			label = fmt.Sprintf("exited (%d)", *ex.ExitCode)
		case ex.Signal != "":
			label = "killed (" + ex.Signal + ")"
		}
		if !ex.ExitedAt.IsZero() {
			detail = "at " + ex.ExitedAt.Local().Format(time.TimeOnly)
		}
	}
	return widgets.TableRow{State: look, Cells: []string{s.Name, label, pid, detail}}
}
