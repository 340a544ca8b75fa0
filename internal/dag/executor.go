package dag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vk/psmgrid/internal/ctxlog"
)

// Run executes the graph concurrently and returns an error if any step fails.
// A failed step skips its dependents but leaves unrelated running steps alone.
// Cancelling ctx prevents any further step from starting.
func (g *Graph) Run(ctx context.Context) error {
	if !g.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	if err := g.DetectCycles(); err != nil {
		return fmt.Errorf("error validating step graph: %w", err)
	}

	g.mutex.RLock()
	defer g.mutex.RUnlock()

	logger := ctxlog.FromContext(ctx)
	if len(g.nodes) == 0 {
		return nil
	}

	readyChan := make(chan *node, len(g.nodes))
	rootCount := 0
	for _, id := range g.order {
		n := g.nodes[id]
		n.depCount.Store(int32(len(n.deps)))
		if len(n.deps) == 0 {
			readyChan <- n
			rootCount++
		}
	}
	logger.Debug("Found root steps.", "count", rootCount)

	g.wg.Add(len(g.nodes))

	// A worker per step: nothing ready ever waits behind a slow sibling.
	for i := 0; i < len(g.nodes); i++ {
		go g.worker(ctx, readyChan, i)
	}

	g.wg.Wait()
	close(readyChan)
	logger.Debug("All steps settled.")

	var failedSteps []string
	var causes []error
	cancelled := false
	for _, id := range g.order {
		n := g.nodes[id]
		switch State(n.state.Load()) {
		case Failed:
			failedSteps = append(failedSteps, id)
			causes = append(causes, n.err)
		case Skipped:
			if errors.Is(n.err, context.Canceled) || errors.Is(n.err, context.DeadlineExceeded) {
				cancelled = true
			}
		}
	}

	if len(causes) > 0 {
		return fmt.Errorf("execution failed for %s: %w", strings.Join(failedSteps, ", "), errors.Join(causes...))
	}
	if cancelled {
		return fmt.Errorf("execution interrupted: %w", context.Cause(ctx))
	}
	return nil
}

// skipDependents recursively marks all downstream steps as skipped and
// releases their share of the WaitGroup.
func (g *Graph) skipDependents(ctx context.Context, n *node, cause error) {
	logger := ctxlog.FromContext(ctx)
	for _, id := range sortedIDs(n.dependents) {
		dependent := n.dependents[id]
		dependent.skipOnce.Do(func() {
			logger.Warn("Skipping step due to upstream failure.", "step", dependent.id, "dependency", n.id)
			dependent.err = fmt.Errorf("%w: dependency %s: %w", ErrSkipped, n.id, cause)
			dependent.state.Store(int32(Skipped))
			g.skipDependents(ctx, dependent, cause)
			g.wg.Done()
		})
	}
}

func (g *Graph) worker(ctx context.Context, readyChan chan *node, workerID int) {
	for n := range readyChan {
		stepCtx, logger := ctxlog.With(ctx, "step", n.id)

		if err := ctx.Err(); err != nil {
			n.skipOnce.Do(func() {
				logger.Warn("Context canceled, skipping step.")
				n.err = fmt.Errorf("%w: %w", ErrSkipped, err)
				n.state.Store(int32(Skipped))
				g.skipDependents(ctx, n, err)
				g.wg.Done()
			})
			continue
		}

		logger.Debug("Worker picked up step.", "workerID", workerID)
		n.state.Store(int32(Running))
		n.start = time.Now()
		err := n.fn(stepCtx)
		n.end = time.Now()

		if err != nil {
			logger.Error("Step failed.", "error", err)
			n.err = err
			n.state.Store(int32(Failed))
			g.skipDependents(ctx, n, err)
			g.wg.Done()
			continue
		}

		logger.Debug("Step succeeded.", "duration", n.end.Sub(n.start))
		n.state.Store(int32(Done))

		for _, id := range sortedIDs(n.dependents) {
			dependent := n.dependents[id]
			if dependent.depCount.Add(-1) == 0 {
				readyChan <- dependent
			}
		}

		g.wg.Done()
	}
}
