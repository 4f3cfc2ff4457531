package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/config"
	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/go-go-golems/devlaunch/pkg/state"
	"github.com/go-go-golems/glazed/pkg/cli"
	glazedcmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type PlanCommand struct {
	*glazedcmds.CommandDescription

	// exitCode is set when the command reported a failure itself.
	exitCode int
}

var _ glazedcmds.WriterCommand = (*PlanCommand)(nil)

type PlanSettings struct {
	ConfigFile string `glazed.parameter:"config-file"`
	Compact    bool   `glazed.parameter:"compact"`
}

func NewPlanCommand() (*PlanCommand, error) {
	return &PlanCommand{
		CommandDescription: glazedcmds.NewCommandDescription(
			"plan",
			glazedcmds.WithShort("Validate a session file and print the resolved start order"),
			glazedcmds.WithFlags(
				parameters.NewParameterDefinition(
					"compact",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Print the plan on a single line"),
					parameters.WithDefault(false),
				),
			),
			glazedcmds.WithArguments(
				parameters.NewParameterDefinition(
					"config-file",
					parameters.ParameterTypeString,
					parameters.WithHelp("Session file"),
					parameters.WithDefault(config.DefaultConfigFilename),
				),
			),
		),
	}, nil
}

type planProbe struct {
	Kind     engine.ProbeKind `json:"kind"`
	Target   string           `json:"target"`
	Expected string           `json:"expected_status,omitempty"`
	Interval string           `json:"interval"`
	Timeout  string           `json:"timeout"`
}

type planService struct {
	Name       string            `json:"name"`
	Command    []string          `json:"command"`
	WorkingDir string            `json:"working_directory"`
	Env        map[string]string `json:"env,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty"`
	Probe      *planProbe        `json:"probe,omitempty"`
}

type plan struct {
	Config   string        `json:"config"`
	Order    []string      `json:"order"`
	Services []planService `json:"services"`
}

func buildPlan(lc *loadedConfig) plan {
	p := plan{Config: lc.Path, Order: lc.Order}
	for _, spec := range lc.Specs {
		ps := planService{
			Name:       spec.Name,
			Command:    spec.Command,
			WorkingDir: spec.WorkingDirectory,
			Env:        state.SanitizeEnv(spec.Env),
			DependsOn:  spec.DependsOn,
		}
		if pr := spec.Probe; pr != nil {
			ps.Probe = &planProbe{
				Kind:     pr.Kind,
				Target:   pr.Target(),
				Interval: pr.Interval.String(),
				Timeout:  pr.Timeout.Round(time.Millisecond).String(),
			}
			if pr.Kind == engine.ProbeHTTP {
				ps.Probe.Expected = pr.ExpectedStatus.String()
			}
		}
		p.Services = append(p.Services, ps)
	}
	return p
}

func (c *PlanCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
	s := &PlanSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	lc, err := loadConfig(s.ConfigFile)
	if err != nil {
		var ee *ExitError
		if errors.As(err, &ee) {
			c.exitCode = ee.Code
			_, _ = fmt.Fprint(os.Stderr, renderExitError(ee))
			return nil
		}
		return err
	}

	var b []byte
	if s.Compact {
		b, err = json.Marshal(buildPlan(lc))
	} else {
		b, err = json.MarshalIndent(buildPlan(lc), "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "marshal plan")
	}
	_, _ = fmt.Fprintln(w, string(b))
	return nil
}

func newPlanCmd() *cobra.Command {
	c, err := NewPlanCommand()
	cobra.CheckErr(err)

	cmd, err := cli.BuildCobraCommand(c, cli.WithParserConfig(cli.CobraParserConfig{AppName: "devlaunch"}))
	cobra.CheckErr(err)
	cmd.PostRunE = func(*cobra.Command, []string) error {
		if c.exitCode != 0 {
			return &ExitError{Code: c.exitCode, Reported: true}
		}
		return nil
	}
	return cmd
}
