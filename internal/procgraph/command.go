package procgraph

import (
	"io"
	"time"
)

// Command describes one external tool invocation.
type Command struct {
	// Name is the logical step name used in logs and errors, e.g. "tide-search".
	Name    string
	Program string
	Args    []string
	Dir     string
	Env     []string

	// Stdout, when set, is a file path that receives the child's stdout.
	Stdout string
	// Stderr optionally mirrors the child's stderr. The last few KiB are
	// always kept for error messages.
	Stderr io.Writer

	// File is the input the command works on, reported in errors.
	File string

	// Timeout bounds the process lifetime. Zero uses the spawner default.
	Timeout time.Duration
}

// ExitStatus is what a finished process reported.
type ExitStatus struct {
	Code     int
	Signaled bool
	Started  time.Time
	Finished time.Time
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && !s.Signaled
}

// Duration is the wall-clock lifetime of the process.
func (s ExitStatus) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}
