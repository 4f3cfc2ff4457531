package engine

import (
	"fmt"
	"net/url"
)

// Validate checks a single service in isolation. Dependency checks live in Resolve.
func (s ServiceSpec) Validate() error {
	if s.Name == "" {
		return &ConfigError{Kind: InvalidService, Message: "service name is required"}
	}
	if len(s.Command) == 0 || s.Command[0] == "" {
		return &ConfigError{Kind: InvalidService, Service: s.Name, Message: "command is required"}
	}
	if s.WorkingDirectory == "" {
		return &ConfigError{Kind: InvalidService, Service: s.Name, Message: "workingDirectory is required"}
	}
	if s.StopGracePeriod < 0 {
		return &ConfigError{Kind: InvalidService, Service: s.Name, Message: "stopGracePeriod must not be negative"}
	}
	if s.Probe != nil {
		if msg := s.Probe.problem(); msg != "" {
			return &ConfigError{Kind: InvalidProbeConfig, Service: s.Name, Message: msg}
		}
	}
	return nil
}

func (p ProbeSpec) problem() string {
	if p.Interval <= 0 {
		return "interval must be > 0"
	}
	if p.Timeout <= 0 {
		return "timeout must be > 0"
	}
	if p.Interval > p.Timeout {
		return fmt.Sprintf("interval %s exceeds timeout %s", p.Interval, p.Timeout)
	}

	switch p.Kind {
	case ProbePort:
		if p.URL != "" {
			return "port probe must not set url"
		}
		if !p.ExpectedStatus.IsZero() {
			return "port probe must not set expectedStatus"
		}
		if p.Host == "" {
			return "port probe requires host"
		}
		if p.Port < 1 || p.Port > 65535 {
			return fmt.Sprintf("port %d out of range", p.Port)
		}
	case ProbeHTTP:
		if p.Host != "" || p.Port != 0 {
			return "http probe must not set host/port (use url)"
		}
		u, err := url.Parse(p.URL)
		if err != nil || p.URL == "" {
			return fmt.Sprintf("invalid url %q", p.URL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Sprintf("url %q must use http or https", p.URL)
		}
		if u.Host == "" {
			return fmt.Sprintf("url %q has no host", p.URL)
		}
		r := p.ExpectedStatus
		if r.Min < 100 || r.Max > 599 || r.Min > r.Max {
			return fmt.Sprintf("invalid expectedStatus %s", r)
		}
	default:
		return fmt.Sprintf("unsupported probe kind %q", p.Kind)
	}
	return ""
}
