package app

import (
	"context"
	"sync"
	"time"

	"github.com/vk/psmgrid/internal/notify"
)

// status tracks progress events for the /status endpoint.
type status struct {
	mu      sync.Mutex
	report  statusReport
	started map[string]time.Time
}

type statusReport struct {
	RunID   string            `json:"run_id,omitempty"`
	Engines map[string]string `json:"engines"`
	Steps   map[string]string `json:"steps"`
	Results []string          `json:"results"`
	Error   string            `json:"error,omitempty"`
	Updated time.Time         `json:"updated"`
}

func newStatus() *status {
	return &status{
		report:  statusReport{Engines: map[string]string{}, Steps: map[string]string{}, Results: []string{}},
		started: map[string]time.Time{},
	}
}

// Publish implements notify.Notifier.
func (s *status) Publish(_ context.Context, e notify.Event) {
	e = notify.Stamp(e)
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &s.report
	r.Updated = e.Time
	switch e.Kind {
	case notify.RunStarted:
		r.RunID = e.RunID
		r.Engines = map[string]string{}
		r.Steps = map[string]string{}
		r.Error = ""
	case notify.RunFinished:
		r.Error = e.Error
	case notify.UnitStarted:
		r.Engines[e.Engine] = "running"
	case notify.UnitFinished:
		r.Engines[e.Engine] = "done"
	case notify.UnitFailed:
		r.Engines[e.Engine] = "failed"
	case notify.StepStarted:
		r.Steps[e.Engine+"/"+e.Step] = "running"
	case notify.StepFinished:
		r.Steps[e.Engine+"/"+e.Step] = "done"
	case notify.StepFailed:
		r.Steps[e.Engine+"/"+e.Step] = "failed"
	case notify.ScoreFinished:
		r.Results = append(r.Results, e.Path)
	}
}

func (s *status) snapshot() statusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.report
	out.Engines = make(map[string]string, len(s.report.Engines))
	for k, v := range s.report.Engines {
		out.Engines[k] = v
	}
	out.Steps = make(map[string]string, len(s.report.Steps))
	for k, v := range s.report.Steps {
		out.Steps[k] = v
	}
	out.Results = append([]string{}, s.report.Results...)
	return out
}
