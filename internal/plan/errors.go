package plan

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks inconsistent topology parameters, reported before any plan exists.
	ErrConfiguration = errors.New("plan: configuration error")
	// ErrInvariant marks a compiler or delivery bug. Never recoverable at runtime.
	ErrInvariant = errors.New("plan: invariant violation")
)

// ConfigError reports one rejected compile parameter.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrConfiguration, e.Param, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// InvariantError carries enough context to locate the participant, phase and
// peer where an internal invariant broke. Fields are NoPeer when unknown.
type InvariantError struct {
	Participant int
	Peer        int
	Phase       int
	Reason      string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: participant=%d peer=%d phase=%d: %s",
		ErrInvariant, e.Participant, e.Peer, e.Phase, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// Configf builds a ConfigError for param.
func Configf(param, format string, args ...any) error {
	return &ConfigError{Param: param, Reason: fmt.Sprintf(format, args...)}
}
