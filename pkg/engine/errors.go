package engine

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrConfiguration matches every *ConfigError via errors.Is.
var ErrConfiguration = errors.New("configuration error")

type ConfigErrorKind string

const (
	CyclicDependency   ConfigErrorKind = "CyclicDependency"
	UnknownDependency  ConfigErrorKind = "UnknownDependency"
	DuplicateService   ConfigErrorKind = "DuplicateService"
	InvalidProbeConfig ConfigErrorKind = "InvalidProbeConfig"
	InvalidService     ConfigErrorKind = "InvalidService"
)

type ConfigError struct {
	Kind       ConfigErrorKind
	Service    string
	Dependency string
	Cycle      []string
	Message    string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Service != "" {
		fmt.Fprintf(&b, ": service=%q", e.Service)
	}
	switch e.Kind {
	case UnknownDependency:
		fmt.Fprintf(&b, " depends on undeclared service %q", e.Dependency)
	case CyclicDependency:
		if len(e.Cycle) > 0 {
			fmt.Fprintf(&b, " cycle: %s", strings.Join(e.Cycle, " -> "))
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}
