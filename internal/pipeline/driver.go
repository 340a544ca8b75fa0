package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/psmgrid/internal/config"
	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/engine"
	"github.com/vk/psmgrid/internal/fsutil"
	"github.com/vk/psmgrid/internal/ledger"
	"github.com/vk/psmgrid/internal/lookup"
	"github.com/vk/psmgrid/internal/manifest"
	"github.com/vk/psmgrid/internal/notify"
	"github.com/vk/psmgrid/internal/procgraph"
)

// ErrIncomplete is wrapped by the error of a run in which at least one
// engine did not produce its pair.
var ErrIncomplete = errors.New("search run incomplete")

// Recorder persists runs and their pairs. *ledger.Ledger implements it.
type Recorder interface {
	StartRun(ctx context.Context, r ledger.Run) error
	Record(ctx context.Context, runID string, p manifest.Pair) error
	FinishRun(ctx context.Context, runID, status string) error
}

// Driver runs engine units.
type Driver struct {
	conf     *config.Pipeline
	resolver lookup.Resolver
	starter  procgraph.Starter
	sessions engine.SessionFactory
	notifier notify.Notifier
	recorder Recorder
}

// Option configures a Driver.
type Option func(*Driver)

// WithStarter replaces the default process spawner.
func WithStarter(s procgraph.Starter) Option { return func(d *Driver) { d.starter = s } }

// WithSessions enables the remote engine.
func WithSessions(f engine.SessionFactory) Option { return func(d *Driver) { d.sessions = f } }

// WithNotifier publishes progress events.
func WithNotifier(n notify.Notifier) Option { return func(d *Driver) { d.notifier = n } }

// WithRecorder records every run and completed pair.
func WithRecorder(r Recorder) Option { return func(d *Driver) { d.recorder = r } }

// New creates a Driver.
func New(conf *config.Pipeline, resolver lookup.Resolver, opts ...Option) *Driver {
	d := &Driver{
		conf:     conf,
		resolver: resolver,
		notifier: notify.Nop{},
	}
	for _, o := range opts {
		o(d)
	}
	if d.starter == nil {
		d.starter = procgraph.New(
			procgraph.WithTimeout(conf.Process.Timeout),
			procgraph.WithKillGrace(conf.Process.KillGrace),
		)
	}
	return d
}

// Run searches in with every selected engine under a fresh run id.
func (d *Driver) Run(ctx context.Context, in engine.Input, sel engine.Selection) (*manifest.Manifest, error) {
	return d.RunWithID(ctx, uuid.NewString(), in, sel)
}

// unit is one engine's plan and the process group its steps spawn into.
type unit struct {
	kind  engine.Kind
	plan  *engine.Plan
	group *procgraph.Group
}

// RunWithID is Run with a caller-chosen run id. It blocks until every unit
// has finished and every process spawned by any unit has exited. The
// returned manifest holds the pairs of the units that succeeded; if any unit
// failed, the error wraps ErrIncomplete and every unit error.
func (d *Driver) RunWithID(ctx context.Context, runID string, in engine.Input, sel engine.Selection) (*manifest.Manifest, error) {
	ctx, logger := ctxlog.With(ctx, "run_id", runID)
	kinds := sel.Kinds()
	if len(kinds) == 0 {
		return nil, errors.New("no engines selected")
	}
	if err := os.MkdirAll(d.conf.Workspace.SearchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating search directory: %w", err)
	}

	// Every plan is built, and every name resolved, before anything spawns.
	units := make([]*unit, 0, len(kinds))
	var planErrs []error
	for _, kind := range kinds {
		group := procgraph.NewGroup(ctx, d.starter)
		plan, err := engine.Build(ctx, kind, in, &engine.Env{
			Config:   d.conf,
			Resolver: d.resolver,
			Procs:    group,
			Sessions: d.sessions,
			Notifier: d.notifier,
			RunID:    runID,
		})
		if err != nil {
			planErrs = append(planErrs, err)
			continue
		}
		units = append(units, &unit{kind: kind, plan: plan, group: group})
	}
	if len(planErrs) > 0 {
		return nil, errors.Join(planErrs...)
	}

	if d.recorder != nil {
		err := d.recorder.StartRun(ctx, ledger.Run{ID: runID, InputFile: in.File, Database: in.Database, Index: in.Run})
		if err != nil {
			return nil, err
		}
	}

	logger.Info("🚀 Starting search engines...", "engines", kinds, "input", in.File)
	d.notifier.Publish(ctx, notify.Event{Kind: notify.RunStarted, RunID: runID, Path: in.File})

	m := manifest.New()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, u := range units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.runUnit(ctx, runID, u, m); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", u.kind, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	var runErr error
	status := ledger.StatusComplete
	if len(errs) > 0 {
		runErr = fmt.Errorf("%w: %w", ErrIncomplete, errors.Join(errs...))
		status = ledger.StatusIncomplete
	}
	if d.recorder != nil {
		if err := d.recorder.FinishRun(context.WithoutCancel(ctx), runID, status); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	finished := notify.Event{Kind: notify.RunFinished, RunID: runID}
	if runErr != nil {
		finished.Error = runErr.Error()
		logger.Error("Search run incomplete.", "completed", m.Len(), "engines", len(units), "error", runErr)
	} else {
		logger.Info("🏁 Search engines finished.", "completed", m.Len())
	}
	d.notifier.Publish(ctx, finished)
	return m, runErr
}

// runUnit runs one engine to completion: its graph first, then whatever its
// steps left running. A failed graph terminates the leftovers before they
// are reaped.
func (d *Driver) runUnit(ctx context.Context, runID string, u *unit, m *manifest.Manifest) error {
	ctx, logger := ctxlog.With(ctx, "engine", u.kind)
	engineName := string(u.kind)
	logger.Info("Engine started.")
	d.notifier.Publish(ctx, notify.Event{Kind: notify.UnitStarted, RunID: runID, Engine: engineName})

	// The pair reaches the manifest only once the ledger holds it.
	err := d.awaitUnit(ctx, u)
	if err == nil && d.recorder != nil {
		err = d.recorder.Record(context.WithoutCancel(ctx), runID, u.plan.Pair)
	}
	if err == nil {
		err = m.Append(u.plan.Pair)
	}
	if err != nil {
		logger.Error("Engine failed.", "error", err)
		d.notifier.Publish(ctx, notify.Event{Kind: notify.UnitFailed, RunID: runID, Engine: engineName, Error: err.Error()})
		return err
	}

	logger.Info("Engine finished.", "target", u.plan.Pair.Target, "decoy", u.plan.Pair.Decoy)
	d.notifier.Publish(ctx, notify.Event{Kind: notify.UnitFinished, RunID: runID, Engine: engineName, Path: u.plan.Pair.Target})
	return nil
}

func (d *Driver) awaitUnit(ctx context.Context, u *unit) error {
	runErr := u.plan.Graph.Run(ctx)
	if runErr != nil {
		u.group.Stop(runErr)
	}
	waitErr := u.group.Wait(ctx)
	if runErr != nil || waitErr != nil {
		return errors.Join(runErr, waitErr)
	}

	for _, out := range u.plan.Outputs() {
		if err := fsutil.NonEmpty(out); err != nil {
			return err
		}
	}
	return nil
}
