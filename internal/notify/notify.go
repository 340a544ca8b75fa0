// Package notify publishes pipeline progress events.
package notify

import (
	"context"
	"time"
)

// Kind names what happened.
type Kind string

const (
	RunStarted    Kind = "run_started"
	RunFinished   Kind = "run_finished"
	UnitStarted   Kind = "unit_started"
	UnitFinished  Kind = "unit_finished"
	UnitFailed    Kind = "unit_failed"
	StepStarted   Kind = "step_started"
	StepFinished  Kind = "step_finished"
	StepFailed    Kind = "step_failed"
	ScoreFinished Kind = "score_finished"
)

// Event is one progress notification.
type Event struct {
	Kind   Kind      `json:"kind"`
	RunID  string    `json:"run_id,omitempty"`
	Engine string    `json:"engine,omitempty"`
	Step   string    `json:"step,omitempty"`
	Path   string    `json:"path,omitempty"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Notifier receives events. Publishing never fails the pipeline; a notifier
// that cannot deliver logs and moves on.
type Notifier interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(context.Context, Event) {}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, e Event)

// Publish implements Notifier.
func (f Func) Publish(ctx context.Context, e Event) { f(ctx, e) }

// Stamp fills in the event time if it is unset.
func Stamp(e Event) Event {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}

// Multi publishes every event to each of its notifiers in order.
type Multi []Notifier

// Publish implements Notifier.
func (m Multi) Publish(ctx context.Context, e Event) {
	for _, n := range m {
		n.Publish(ctx, e)
	}
}
