package cmds

import (
	stderrors "errors"
	"fmt"

	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/spf13/cobra"
)

// ExitError carries the process exit code out of a command. Reported means
// the command already printed everything the user needs.
type ExitError struct {
	Code     int
	Err      error
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute runs root and maps its result to a process exit code.
func Execute(root *cobra.Command) int {
	err := root.Execute()
	if err == nil {
		return 0
	}
	stderr := root.ErrOrStderr()

	var ee *ExitError
	if stderrors.As(err, &ee) {
		if !ee.Reported {
			_, _ = fmt.Fprint(stderr, renderExitError(ee))
		}
		return ee.Code
	}
	if stderrors.Is(err, engine.ErrConfiguration) {
		out, code := report.RenderConfigError(err)
		_, _ = fmt.Fprint(stderr, out)
		return code
	}
	_, _ = fmt.Fprintln(stderr, "Error:", err)
	return 1
}

func renderExitError(ee *ExitError) string {
	switch {
	case ee.Err == nil:
		return ""
	case ee.Code == report.ExitConfigError:
		out, _ := report.RenderConfigError(ee.Err)
		return out
	default:
		return fmt.Sprintf("Error: %v\n", ee.Err)
	}
}
