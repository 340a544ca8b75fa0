package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/engine"
	"github.com/vk/psmgrid/internal/ledger"
	"github.com/vk/psmgrid/internal/manifest"
	"github.com/vk/psmgrid/internal/pipeline"
	"github.com/vk/psmgrid/internal/remote"
	"github.com/vk/psmgrid/internal/score"
)

// SearchResult is the outcome of a search phase.
type SearchResult struct {
	RunID    string
	Manifest *manifest.Manifest
}

// Search runs the selected engines over one input. The manifest of the
// engines that completed is returned even when the error is non-nil.
func (a *App) Search(ctx context.Context, in engine.Input, sel engine.Selection) (*SearchResult, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Search method started.")

	opts := []pipeline.Option{pipeline.WithNotifier(a.notifier)}
	if a.ledger != nil {
		opts = append(opts, pipeline.WithRecorder(a.ledger))
	}
	if sel[engine.Mascot] {
		sessions, err := a.sessionFactory()
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithSessions(sessions))
	}

	runID := uuid.NewString()
	driver := pipeline.New(a.pipeline, a.resolver, opts...)
	m, err := driver.RunWithID(ctx, runID, in, sel)
	if m == nil {
		return nil, err
	}
	return &SearchResult{RunID: runID, Manifest: m}, err
}

// sessionFactory loads the remote portal schema once; every call of the
// returned factory opens an isolated session.
func (a *App) sessionFactory() (engine.SessionFactory, error) {
	r, ok := a.pipeline.Remotes[string(engine.Mascot)]
	if !ok {
		return nil, errors.New(`mascot is selected but no remote "mascot" block is configured`)
	}
	portal, err := remote.LoadPortal(r.Portal)
	if err != nil {
		return nil, err
	}
	return func() (remote.Submitter, error) {
		return remote.NewSession(portal)
	}, nil
}

// Score scores the given manifests plus the manifests of the recorded runs.
func (a *App) Score(ctx context.Context, database string, runIDs []string, manifests ...*manifest.Manifest) ([]string, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Score method started.", "runs", runIDs)

	if len(runIDs) > 0 {
		if a.ledger == nil {
			return nil, errors.New("scoring recorded runs requires a ledger block")
		}
		for _, id := range runIDs {
			m, err := a.ledger.Manifest(ctx, id)
			if err != nil {
				return nil, err
			}
			manifests = append(manifests, m)
		}
	}
	return score.New(a.pipeline, a.resolver, score.WithNotifier(a.notifier)).Run(ctx, database, manifests...)
}

// Run searches and then scores whatever the search produced. A partial
// search is still scored; its error is returned with the scoring outcome.
func (a *App) Run(ctx context.Context, in engine.Input, sel engine.Selection) (*SearchResult, []string, error) {
	res, searchErr := a.Search(ctx, in, sel)
	if res == nil || res.Manifest.Len() == 0 {
		if searchErr == nil {
			searchErr = errors.New("search produced no results")
		}
		return res, nil, searchErr
	}
	if searchErr != nil {
		a.logger.Warn("Scoring a partial search.", "run_id", res.RunID, "completed", res.Manifest.Len())
	}

	results, scoreErr := a.Score(ctx, in.Database, nil, res.Manifest)
	if scoreErr != nil {
		scoreErr = fmt.Errorf("scoring run %s: %w", res.RunID, scoreErr)
	}
	return res, results, errors.Join(searchErr, scoreErr)
}

// Runs lists the recorded runs, most recent first.
func (a *App) Runs(ctx context.Context) ([]ledger.Run, error) {
	if a.ledger == nil {
		return nil, errors.New("listing runs requires a ledger block")
	}
	return a.ledger.Runs(ctx)
}
