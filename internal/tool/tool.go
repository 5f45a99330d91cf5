// Package tool wraps the external repertoire analysis tools behind one
// Runner interface so the scheduler stays tool-agnostic. Each integration
// stages its inputs, invokes the external process with a bounded thread
// count and optional timeout, and verifies the expected artifact.
package tool

import (
	"fmt"
	"strings"
)

// Params is the immutable parameter set of one tool invocation. Two equal
// Params values are expected to produce equivalent output for the same
// input, which is what makes them safe to fold into cache fingerprints.
type Params struct {
	Tool    string // mixcr | trust4
	Preset  string
	Species string
	RefDB   string
	Extra   []string
}

// Canonical renders the parameter set as a stable, order-independent
// string for fingerprinting.
func (p Params) Canonical() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tool=%s\npreset=%s\nspecies=%s\nrefdb=%s\n", p.Tool, p.Preset, p.Species, p.RefDB)
	for _, a := range p.Extra {
		fmt.Fprintf(&b, "extra=%s\n", a)
	}
	return b.String()
}

// Result is the artifact produced by one invocation over one chunk:
// the tool-native clonotype table inside the unit's working directory.
type Result struct {
	// TablePath is the clonotype table emitted by the tool.
	TablePath string
}

// ErrorKind classifies invocation failures.
type ErrorKind string

const (
	KindStart         ErrorKind = "start"          // process could not be started
	KindExit          ErrorKind = "exit"           // non-zero exit status
	KindTimeout       ErrorKind = "timeout"        // killed on deadline
	KindMissingOutput ErrorKind = "missing-output" // expected artifact absent or empty
)

// InvocationError is recorded per chunk; it triggers partial-failure
// handling at the scheduler and never crashes the run.
type InvocationError struct {
	Tool     string
	Kind     ErrorKind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("%s invocation failed (%s)", e.Tool, e.Kind)
	if e.Kind == KindExit {
		msg += fmt.Sprintf(", exit %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }
