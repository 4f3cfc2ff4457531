package engine

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultProbeInterval = 500 * time.Millisecond
	DefaultProbeTimeout  = 30 * time.Second
	DefaultProbeHost     = "127.0.0.1"
)

type ServiceSpec struct {
	Name             string            `json:"name"`
	Command          []string          `json:"command"`
	WorkingDirectory string            `json:"working_directory"`
	DependsOn        []string          `json:"depends_on,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Probe            *ProbeSpec        `json:"probe,omitempty"`

	// StopGracePeriod overrides the supervisor's SIGTERM->SIGKILL window.
	StopGracePeriod time.Duration `json:"stop_grace_period,omitempty"`
}

type ProbeKind string

const (
	ProbePort ProbeKind = "port"
	ProbeHTTP ProbeKind = "http"
)

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

var DefaultStatusRange = StatusRange{Min: 200, Max: 299}

func (r StatusRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

func (r StatusRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

func (r StatusRange) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

type ProbeSpec struct {
	Kind           ProbeKind     `json:"kind"`
	Host           string        `json:"host,omitempty"`
	Port           int           `json:"port,omitempty"`
	URL            string        `json:"url,omitempty"`
	ExpectedStatus StatusRange   `json:"expected_status,omitempty"`
	Interval       time.Duration `json:"interval"`
	Timeout        time.Duration `json:"timeout"`
}

// WithDefaults fills the zero-valued interval, timeout, host and status range.
func (p ProbeSpec) WithDefaults() ProbeSpec {
	if p.Interval == 0 {
		p.Interval = DefaultProbeInterval
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultProbeTimeout
	}
	switch p.Kind {
	case ProbePort:
		if p.Host == "" {
			p.Host = DefaultProbeHost
		}
	case ProbeHTTP:
		if p.ExpectedStatus.IsZero() {
			p.ExpectedStatus = DefaultStatusRange
		}
	}
	return p
}

// Target is the address or URL the probe checks.
func (p ProbeSpec) Target() string {
	if p.Kind == ProbeHTTP {
		return p.URL
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}
