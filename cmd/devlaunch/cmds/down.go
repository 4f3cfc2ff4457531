package cmds

import (
	"context"
	stderrors "errors"
	"fmt"
	"syscall"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/state"
	"github.com/go-go-golems/devlaunch/pkg/supervise"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDownCmd() *cobra.Command {
	var grace time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop every service of the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			if !state.Exists(opts.StateDir) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no session to stop")
				return nil
			}
			st, err := state.Load(opts.StateDir)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := stopSession(ctx, st, grace); err != nil {
				return err
			}
			if err := state.Remove(opts.StateDir); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stopped %d service(s)\n", len(st.Services))
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace-period", supervise.DefaultGracePeriod, "Time between SIGTERM and SIGKILL for each service")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall time allowed for stopping the session")
	return cmd
}

// stopSession stops the recorded services in reverse start order. A launcher
// still holding the session in the foreground is asked to stop first so that
// it can tear down its own services.
func stopSession(ctx context.Context, st *state.State, grace time.Duration) error {
	if st.LauncherPID > 0 && state.ProcessAlive(st.LauncherPID) {
		log.Info().Int("pid", st.LauncherPID).Msg("signalling session launcher")
		if err := syscall.Kill(st.LauncherPID, syscall.SIGTERM); err != nil {
			log.Warn().Err(err).Int("pid", st.LauncherPID).Msg("signal launcher")
		}
	}

	var errs []error
	for i := len(st.Services) - 1; i >= 0; i-- {
		svc := st.Services[i]
		if !state.ProcessAlive(svc.PID) {
			continue
		}
		log.Info().Str("service", svc.Name).Int("pid", svc.PID).Msg("stopping service")
		if err := supervise.TerminatePIDGroup(ctx, svc.PID, grace); err != nil {
			errs = append(errs, errors.Wrapf(err, "stop %s", svc.Name))
		}
	}
	return stderrors.Join(errs...)
}
