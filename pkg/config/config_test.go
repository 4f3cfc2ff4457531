package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/devlaunch/pkg/engine"
	"github.com/stretchr/testify/require"
)

const sessionYAML = `
services:
  redis:
    command: docker run --rm -p 6379:6379 redis:7
    workingDirectory: .
    probe:
      kind: port
      port: 6379
      interval: 250ms
      timeout: 10s
  backend:
    command: [go, run, ./cmd/server, "--name", "dev api"]
    workingDirectory: ../backend
    dependsOn: [redis]
    env:
      PORT: "8080"
    stopGracePeriod: 5s
    probe:
      kind: http
      url: http://127.0.0.1:8080/health
      expectedStatus: 200
  frontend:
    command: "npm run dev -- --port '5173'"
    workingDirectory: /srv/frontend
    dependsOn: [backend]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile_PreservesDeclarationOrder(t *testing.T) {
	path := writeConfig(t, sessionYAML)
	f, err := LoadFromFile(path)
	require.NoError(t, err)

	var names []string
	for _, s := range f.Services {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{"redis", "backend", "frontend"}, names)
}

func TestServiceSpecs(t *testing.T) {
	path := writeConfig(t, sessionYAML)
	dir := filepath.Dir(path)
	f, err := LoadFromFile(path)
	require.NoError(t, err)

	specs, err := f.ServiceSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 3)

	redis := specs[0]
	require.Equal(t, []string{"docker", "run", "--rm", "-p", "6379:6379", "redis:7"}, redis.Command)
	require.Equal(t, dir, redis.WorkingDirectory)
	require.NotNil(t, redis.Probe)
	require.Equal(t, engine.ProbePort, redis.Probe.Kind)
	require.Equal(t, "127.0.0.1", redis.Probe.Host)
	require.Equal(t, 250*time.Millisecond, redis.Probe.Interval)
	require.Equal(t, 10*time.Second, redis.Probe.Timeout)

	backend := specs[1]
	require.Equal(t, []string{"go", "run", "./cmd/server", "--name", "dev api"}, backend.Command)
	require.Equal(t, filepath.Join(filepath.Dir(dir), "backend"), backend.WorkingDirectory)
	require.Equal(t, []string{"redis"}, backend.DependsOn)
	require.Equal(t, map[string]string{"PORT": "8080"}, backend.Env)
	require.Equal(t, 5*time.Second, backend.StopGracePeriod)
	require.Equal(t, engine.StatusRange{Min: 200, Max: 200}, backend.Probe.ExpectedStatus)
	require.Equal(t, engine.DefaultProbeTimeout, backend.Probe.Timeout)

	frontend := specs[2]
	require.Equal(t, []string{"npm", "run", "dev", "--", "--port", "5173"}, frontend.Command)
	require.Equal(t, "/srv/frontend", frontend.WorkingDirectory)
	require.Nil(t, frontend.Probe)

	order, err := engine.Resolve(specs)
	require.NoError(t, err)
	require.Equal(t, []string{"redis", "backend", "frontend"}, order)
}

func TestServiceSpecs_EnvFile(t *testing.T) {
	path := writeConfig(t, `
services:
  api:
    command: ./api
    workingDirectory: .
    envFile: api.env
    env:
      LOG_LEVEL: debug
`)
	envPath := filepath.Join(filepath.Dir(path), "api.env")
	require.NoError(t, os.WriteFile(envPath, []byte("REDIS_URL=redis://127.0.0.1:6379\nLOG_LEVEL=info\n"), 0o644))

	f, err := LoadFromFile(path)
	require.NoError(t, err)
	specs, err := f.ServiceSpecs()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"REDIS_URL": "redis://127.0.0.1:6379",
		"LOG_LEVEL": "debug",
	}, specs[0].Env)
}

func TestServiceSpecs_MissingEnvFileIsConfigError(t *testing.T) {
	path := writeConfig(t, `
services:
  api:
    command: ./api
    workingDirectory: .
    envFile: missing.env
`)
	f, err := LoadFromFile(path)
	require.NoError(t, err)
	_, err = f.ServiceSpecs()
	require.Error(t, err)
	require.True(t, errors.Is(err, engine.ErrConfiguration))
}

func TestServiceSpecs_BadExpectedStatus(t *testing.T) {
	f, err := Parse([]byte(`
services:
  api:
    command: ./api
    workingDirectory: .
    probe:
      kind: http
      url: http://127.0.0.1/health
      expectedStatus: ok
`))
	require.NoError(t, err)
	_, err = f.ServiceSpecs()
	var ce *engine.ConfigError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, engine.InvalidProbeConfig, ce.Kind)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"no services":       "other: 1\n",
		"services is list":  "services:\n  - a\n",
		"service is scalar": "services:\n  a: hello\n",
		"bad duration":      "services:\n  a:\n    command: x\n    workingDirectory: .\n    stopGracePeriod: soon\n",
		"unbalanced quote":  "services:\n  a:\n    command: \"echo 'oops\"\n    workingDirectory: .\n",
		"empty":             "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestParseStatusRange(t *testing.T) {
	r, err := ParseStatusRange("200-299")
	require.NoError(t, err)
	require.Equal(t, engine.StatusRange{Min: 200, Max: 299}, r)

	r, err = ParseStatusRange(" 204 ")
	require.NoError(t, err)
	require.Equal(t, engine.StatusRange{Min: 204, Max: 204}, r)

	_, err = ParseStatusRange("2xx")
	require.Error(t, err)
}
