// Package score turns the manifests of one or more search runs into scorer
// results: every pair is converted to a tab file, then the external scorer is
// run over each tab file in turn.
package score

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vk/psmgrid/internal/config"
	"github.com/vk/psmgrid/internal/convert"
	"github.com/vk/psmgrid/internal/ctxlog"
	"github.com/vk/psmgrid/internal/fsutil"
	"github.com/vk/psmgrid/internal/lookup"
	"github.com/vk/psmgrid/internal/manifest"
	"github.com/vk/psmgrid/internal/notify"
	"github.com/vk/psmgrid/internal/procgraph"
	"github.com/vk/psmgrid/internal/proteins"
)

// DatabaseFamily is the lookup family that maps a database name to its FASTA
// file. The protein side-file sits next to that file.
const DatabaseFamily = "fasta"

const checkConcurrency = 8

// Aggregator runs the scoring phase.
type Aggregator struct {
	conf     *config.Pipeline
	resolver lookup.Resolver
	starter  procgraph.Starter
	unit     convert.Unit
	notifier notify.Notifier
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithStarter replaces the default process spawner.
func WithStarter(s procgraph.Starter) Option { return func(a *Aggregator) { a.starter = s } }

// WithUnit replaces the pepXML conversion unit.
func WithUnit(u convert.Unit) Option { return func(a *Aggregator) { a.unit = u } }

// WithNotifier publishes a ScoreFinished event per result.
func WithNotifier(n notify.Notifier) Option { return func(a *Aggregator) { a.notifier = n } }

// New creates an Aggregator.
func New(conf *config.Pipeline, resolver lookup.Resolver, opts ...Option) *Aggregator {
	a := &Aggregator{
		conf:     conf,
		resolver: resolver,
		unit:     convert.PepXMLUnit{},
		notifier: notify.Nop{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.starter == nil {
		a.starter = procgraph.New(
			procgraph.WithTimeout(conf.Process.Timeout),
			procgraph.WithKillGrace(conf.Process.KillGrace),
		)
	}
	return a
}

// Run scores every pair of the given manifests against the protein table of
// database. It returns the result files whose scorer exited successfully;
// any scorer failure is reported in the error alongside them.
func (a *Aggregator) Run(ctx context.Context, database string, manifests ...*manifest.Manifest) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	if a.conf.Scorer == nil {
		return nil, errors.New("no scorer configured")
	}

	pairs := merge(manifests)
	if len(pairs) == 0 {
		return nil, errors.New("no result pairs to score")
	}
	if err := checkPairs(ctx, pairs); err != nil {
		return nil, err
	}

	table, err := a.loadTable(ctx, database)
	if err != nil {
		return nil, err
	}

	logger.Info("🚀 Converting search results...", "pairs", len(pairs))
	tabs := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		tab, err := a.unit.Convert(ctx, pair, table)
		if err != nil {
			table.Release()
			return nil, fmt.Errorf("converting %s: %w", pair, err)
		}
		logger.Debug("Pair converted.", "engine", pair.Engine, "tab", tab)
		tabs = append(tabs, tab)
		a.reclaim(false)
	}

	// The table must be gone before the scorer is spawned.
	table.Release()
	a.reclaim(true)

	var (
		results []string
		errs    []error
	)
	for _, tab := range tabs {
		psms, err := a.score(ctx, tab, database)
		if err != nil {
			logger.Error("Scorer failed.", "tab", tab, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		results = append(results, psms)
		a.notifier.Publish(ctx, notify.Event{Kind: notify.ScoreFinished, Path: psms})
	}
	if len(errs) > 0 {
		return results, errors.Join(errs...)
	}
	logger.Info("🏁 Scoring finished.", "results", len(results))
	return results, nil
}

// loadTable reads the protein side-file of database. Its storage is
// reclaimed before returning, so the next spawn starts from a small heap.
func (a *Aggregator) loadTable(ctx context.Context, database string) (*proteins.Table, error) {
	dbPath, err := a.resolver.Database(DatabaseFamily, database)
	if err != nil {
		return nil, err
	}
	side := proteins.SideFilePath(dbPath, a.conf.Proteins.Extension)
	table, err := proteins.Load(side, a.conf.Proteins.Delimiter)
	if err != nil {
		return nil, err
	}
	a.reclaim(true)
	ctxlog.FromContext(ctx).Info("Protein table loaded.", "path", side, "entries", table.Len())
	return table, nil
}

// reclaim collects garbage when memory release is enabled; full also
// returns freed memory to the OS.
func (a *Aggregator) reclaim(full bool) {
	if !a.conf.Proteins.ReleaseMemory {
		return
	}
	if full {
		debug.FreeOSMemory()
		return
	}
	runtime.GC()
}

// score runs the scorer over tab and waits for it. The result path is only
// returned once the scorer has exited cleanly and written output.
func (a *Aggregator) score(ctx context.Context, tab, database string) (string, error) {
	psms := strings.TrimSuffix(tab, ".tab") + ".psms"
	rendered, err := a.conf.Scorer.Render(config.Vars{
		"input":    tab,
		"output":   psms,
		"database": database,
	})
	if err != nil {
		return "", err
	}

	h, err := a.starter.Spawn(ctx, procgraph.Command{
		Name:    a.conf.Scorer.Name,
		Program: rendered.Program,
		Args:    rendered.Args,
		Stdout:  psms,
		File:    tab,
		Timeout: a.conf.Scorer.Timeout,
	})
	if err != nil {
		return "", err
	}
	status, err := h.Wait(ctx)
	if err != nil {
		return "", err
	}
	if err := fsutil.NonEmpty(psms); err != nil {
		return "", fmt.Errorf("%s: %w", a.conf.Scorer.Name, err)
	}
	ctxlog.FromContext(ctx).Info("Scorer finished.", "output", psms, "duration", status.Duration())
	return psms, nil
}

func merge(manifests []*manifest.Manifest) []manifest.Pair {
	all := manifest.New()
	for _, m := range manifests {
		if m == nil {
			continue
		}
		for _, p := range m.Pairs() {
			_ = all.Append(p)
		}
	}
	return all.Pairs()
}

// checkPairs makes sure every result file is in place before anything is
// loaded or spawned.
func checkPairs(ctx context.Context, pairs []manifest.Pair) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)
	for _, p := range pairs {
		for _, path := range []string{p.Target, p.Decoy} {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fsutil.NonEmpty(path); err != nil {
					return fmt.Errorf("%s: %w", p.Engine, err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}
