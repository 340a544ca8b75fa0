package dag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// StepFunc is the body of a step.
type StepFunc func(ctx context.Context) error

// State is the lifecycle position of a step.
type State int32

const (
	Pending State = iota
	Running
	Done
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

var (
	// ErrSkipped wraps the error of every step that never ran because an
	// upstream step failed or the run was cancelled.
	ErrSkipped = errors.New("skipped")
	// ErrAlreadyRun is returned when Run is called on a graph a second time.
	ErrAlreadyRun = errors.New("graph already run")
)

// Record is the observed execution of one step.
type Record struct {
	State State
	Start time.Time
	End   time.Time
	Err   error
}

// Graph is a collection of steps and their dependencies.
// Building the graph is concurrency-safe; Run may be called once.
type Graph struct {
	// mutex protects the nodes map during construction.
	mutex sync.RWMutex
	nodes map[string]*node
	// order keeps insertion order for deterministic iteration.
	order []string

	ran atomic.Bool
	wg  sync.WaitGroup
}

// node is un-exported to keep callers on the ID-based API.
type node struct {
	id string
	fn StepFunc

	deps       map[string]*node
	dependents map[string]*node

	depCount atomic.Int32
	state    atomic.Int32
	skipOnce sync.Once

	// Written by the worker that owns the node, read after the run.
	err   error
	start time.Time
	end   time.Time
}
