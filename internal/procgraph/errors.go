package procgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyAwaited is returned by a second Wait on the same handle.
	ErrAlreadyAwaited = errors.New("process already awaited")
	// ErrWaitTimeout marks a process terminated for exceeding its timeout.
	ErrWaitTimeout = errors.New("process timed out")
)

// SpawnError reports that the OS could not start a process.
type SpawnError struct {
	Name    string
	Program string
	// ResourceExhausted is set when the start failed for lack of memory or
	// process slots.
	ResourceExhausted bool
	Err               error
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("failed to start %s (%s)", e.Name, e.Program)
	if e.ResourceExhausted {
		msg += " under resource exhaustion"
	}
	return msg + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }

func newSpawnError(c Command, err error) *SpawnError {
	return &SpawnError{
		Name:              c.Name,
		Program:           c.Program,
		ResourceExhausted: isResourceExhaustion(err),
		Err:               err,
	}
}

// ExitError reports a process that ran but did not succeed.
type ExitError struct {
	Name    string
	Program string
	File    string
	Code    int
	// Stderr is the tail of the child's stderr.
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s exited with status %d", e.Name, e.Code)
	if e.File != "" {
		fmt.Fprintf(&b, " (file %s)", e.File)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if line := lastLine(e.Stderr); line != "" {
		fmt.Fprintf(&b, ": %s", line)
	}
	return b.String()
}

func (e *ExitError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
