package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = "devlaunch.yaml"

// File is a parsed session configuration. Services keep declaration order.
type File struct {
	Path     string
	Services []Service
}

type Service struct {
	Name             string            `yaml:"-"`
	Command          Command           `yaml:"command"`
	WorkingDirectory string            `yaml:"workingDirectory"`
	DependsOn        []string          `yaml:"dependsOn,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	EnvFile          string            `yaml:"envFile,omitempty"`
	StopGracePeriod  Duration          `yaml:"stopGracePeriod,omitempty"`
	Probe            *Probe            `yaml:"probe,omitempty"`
}

type Probe struct {
	Kind           string   `yaml:"kind"`
	Host           string   `yaml:"host,omitempty"`
	Port           int      `yaml:"port,omitempty"`
	URL            string   `yaml:"url,omitempty"`
	ExpectedStatus string   `yaml:"expectedStatus,omitempty"`
	Interval       Duration `yaml:"interval,omitempty"`
	Timeout        Duration `yaml:"timeout,omitempty"`
}

// Command accepts either a shell-like string or a YAML list of arguments.
type Command []string

func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		args, err := shlex.Split(value.Value)
		if err != nil {
			return errors.Wrapf(err, "line %d: split command", value.Line)
		}
		*c = args
		return nil
	case yaml.SequenceNode:
		var args []string
		if err := value.Decode(&args); err != nil {
			return err
		}
		*c = args
		return nil
	default:
		return errors.Errorf("line %d: command must be a string or a list", value.Line)
	}
}

// Duration decodes Go duration strings ("500ms", "30s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: duration must be a string", value.Line)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d: parse duration", value.Line)
	}
	*d = Duration(parsed)
	return nil
}

type rawFile struct {
	Services yaml.Node `yaml:"services"`
}

func DefaultPath(dir string) string {
	return filepath.Join(dir, DefaultConfigFilename)
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	f, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve config path")
	}
	f.Path = abs
	return f, nil
}

func Parse(b []byte) (*File, error) {
	var raw rawFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}

	node := raw.Services
	if node.Kind == 0 {
		return nil, errors.New("config has no services")
	}
	if node.Kind != yaml.MappingNode {
		return nil, errors.Errorf("line %d: services must be a mapping of name to service", node.Line)
	}

	f := &File{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.MappingNode {
			return nil, errors.Errorf("line %d: service %q must be a mapping", value.Line, key.Value)
		}
		var svc Service
		if err := value.Decode(&svc); err != nil {
			return nil, errors.Wrapf(err, "service %q", key.Value)
		}
		svc.Name = key.Value
		f.Services = append(f.Services, svc)
	}
	return f, nil
}

// ServiceSpecs converts the file into engine specs. Relative working
// directories and env files resolve against the config file's directory.
func (f *File) ServiceSpecs() ([]engine.ServiceSpec, error) {
	baseDir := "."
	if f.Path != "" {
		baseDir = filepath.Dir(f.Path)
	}

	out := make([]engine.ServiceSpec, 0, len(f.Services))
	for _, svc := range f.Services {
		spec := engine.ServiceSpec{
			Name:             svc.Name,
			Command:          append([]string{}, svc.Command...),
			WorkingDirectory: resolvePath(baseDir, svc.WorkingDirectory),
			DependsOn:        append([]string{}, svc.DependsOn...),
			StopGracePeriod:  time.Duration(svc.StopGracePeriod),
		}

		env, err := svc.environment(baseDir)
		if err != nil {
			return nil, err
		}
		spec.Env = env

		if svc.Probe != nil {
			probe, err := svc.Probe.spec()
			if err != nil {
				return nil, &engine.ConfigError{Kind: engine.InvalidProbeConfig, Service: svc.Name, Message: err.Error()}
			}
			spec.Probe = &probe
		}
		out = append(out, spec)
	}
	return out, nil
}

func (s Service) environment(baseDir string) (map[string]string, error) {
	if s.EnvFile == "" && len(s.Env) == 0 {
		return nil, nil
	}
	env := map[string]string{}
	if s.EnvFile != "" {
		fromFile, err := godotenv.Read(resolvePath(baseDir, s.EnvFile))
		if err != nil {
			return nil, &engine.ConfigError{
				Kind:    engine.InvalidService,
				Service: s.Name,
				Message: errors.Wrap(err, "read envFile").Error(),
			}
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}
	for k, v := range s.Env {
		env[k] = v
	}
	return env, nil
}

func (p Probe) spec() (engine.ProbeSpec, error) {
	out := engine.ProbeSpec{
		Kind:     engine.ProbeKind(strings.ToLower(p.Kind)),
		Host:     p.Host,
		Port:     p.Port,
		URL:      p.URL,
		Interval: time.Duration(p.Interval),
		Timeout:  time.Duration(p.Timeout),
	}
	if p.ExpectedStatus != "" {
		r, err := ParseStatusRange(p.ExpectedStatus)
		if err != nil {
			return engine.ProbeSpec{}, err
		}
		out.ExpectedStatus = r
	}
	return out.WithDefaults(), nil
}

// ParseStatusRange parses "200" or "200-299".
func ParseStatusRange(s string) (engine.StatusRange, error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(s), "-")
	minCode, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return engine.StatusRange{}, errors.Errorf("invalid expectedStatus %q", s)
	}
	if !isRange {
		return engine.StatusRange{Min: minCode, Max: minCode}, nil
	}
	maxCode, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return engine.StatusRange{}, errors.Errorf("invalid expectedStatus %q", s)
	}
	return engine.StatusRange{Min: minCode, Max: maxCode}, nil
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
