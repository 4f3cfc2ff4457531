package cmds

import (
	"os"
	"path/filepath"

	"github.com/go-go-golems/devlaunch/pkg/config"
	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/go-go-golems/devlaunch/pkg/report"
	"github.com/go-go-golems/devlaunch/pkg/state"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	StateDir string
}

func AddRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("state-dir", state.DefaultDirName, "Directory for the session state file and service logs")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	stateDir, err := cmd.Root().PersistentFlags().GetString("state-dir")
	if err != nil {
		return rootOptions{}, err
	}
	if stateDir == "" {
		stateDir = state.DefaultDirName
	}
	stateDir, err = filepath.Abs(stateDir)
	if err != nil {
		return rootOptions{}, err
	}
	return rootOptions{StateDir: stateDir}, nil
}

type loadedConfig struct {
	Path  string
	Specs []engine.ServiceSpec
	Order []string
}

// loadConfig reads and validates a session file. Every failure, including an
// unreadable file, is reported as a configuration error.
func loadConfig(path string) (*loadedConfig, error) {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path = config.DefaultPath(cwd)
	}
	f, err := config.LoadFromFile(path)
	if err != nil {
		return nil, configError(err)
	}
	specs, err := f.ServiceSpecs()
	if err != nil {
		return nil, configError(err)
	}
	order, err := engine.Resolve(specs)
	if err != nil {
		return nil, configError(err)
	}
	return &loadedConfig{Path: f.Path, Specs: specs, Order: order}, nil
}

func configError(err error) error {
	return &ExitError{Code: report.ExitConfigError, Err: err}
}
