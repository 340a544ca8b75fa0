package dag

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/psmgrid/internal/testutil"
)

func sleeper(d time.Duration) StepFunc {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func executionRecords(g *Graph) map[string]testutil.ExecutionRecord {
	out := make(map[string]testutil.ExecutionRecord)
	for id, r := range g.Records() {
		out[id] = testutil.ExecutionRecord{Start: r.Start, End: r.End}
	}
	return out
}

// indexedGraph mirrors the shape of an indexed search engine.
func indexedGraph(t *testing.T, step func(id string) StepFunc) *Graph {
	t.Helper()
	g := New()
	for _, id := range []string{
		"index-target", "index-decoy", "import-spectra",
		"search-target", "search-decoy", "convert-target", "convert-decoy",
	} {
		require.NoError(t, g.AddStep(id, step(id)))
	}
	require.NoError(t, g.DependsOn("search-target", "index-target", "import-spectra"))
	require.NoError(t, g.DependsOn("search-decoy", "index-decoy", "import-spectra"))
	require.NoError(t, g.DependsOn("convert-target", "search-target"))
	require.NoError(t, g.DependsOn("convert-decoy", "search-decoy"))
	return g
}

func TestRunHonoursDependencies(t *testing.T) {
	ctx, _ := testutil.LoggedContext(t)
	durations := map[string]time.Duration{
		"index-target":   40 * time.Millisecond,
		"index-decoy":    10 * time.Millisecond,
		"import-spectra": 25 * time.Millisecond,
	}
	g := indexedGraph(t, func(id string) StepFunc { return sleeper(durations[id] + 5*time.Millisecond) })

	require.NoError(t, g.Run(ctx))

	records := executionRecords(g)
	testutil.AssertStartsAfter(t, records, "search-target", "index-target", "import-spectra")
	testutil.AssertStartsAfter(t, records, "search-decoy", "index-decoy", "import-spectra")
	testutil.AssertStartsAfter(t, records, "convert-target", "search-target")
	testutil.AssertStartsAfter(t, records, "convert-decoy", "search-decoy")

	for id, r := range g.Records() {
		assert.Equal(t, Done, r.State, id)
	}
}

func TestRunStartsIndependentStepsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	step := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	g := New()
	for _, id := range []string{"index-target", "index-decoy", "import-spectra"} {
		require.NoError(t, g.AddStep(id, step))
	}
	require.NoError(t, g.Run(context.Background()))
	assert.Equal(t, int32(3), peak.Load())
}

func TestRunFailureSkipsOnlyDependents(t *testing.T) {
	ctx, logs := testutil.LoggedContext(t)
	boom := errors.New("index exited with status 1")

	var convertDecoyRan atomic.Bool
	g := indexedGraph(t, func(id string) StepFunc {
		switch id {
		case "index-target":
			return func(context.Context) error { return boom }
		case "search-decoy":
			// Still running when the target branch fails; must not be interrupted.
			return sleeper(60 * time.Millisecond)
		case "convert-decoy":
			return func(context.Context) error { convertDecoyRan.Store(true); return nil }
		}
		return noop
	})

	err := g.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "execution failed for index-target")
	assert.NotErrorIs(t, err, ErrSkipped)

	records := g.Records()
	assert.Equal(t, Failed, records["index-target"].State)
	assert.Equal(t, Skipped, records["search-target"].State)
	assert.Equal(t, Skipped, records["convert-target"].State)
	assert.ErrorIs(t, records["convert-target"].Err, ErrSkipped)
	assert.ErrorIs(t, records["convert-target"].Err, boom)
	assert.Equal(t, Done, records["search-decoy"].State)
	assert.Equal(t, Done, records["convert-decoy"].State)
	assert.True(t, convertDecoyRan.Load())
	assert.Contains(t, logs.String(), "Skipping step due to upstream failure.")
}

func TestRunReportsEveryFailedStep(t *testing.T) {
	targetErr := errors.New("target failed")
	decoyErr := errors.New("decoy failed")

	g := New()
	require.NoError(t, g.AddStep("search-target", func(context.Context) error { return targetErr }))
	require.NoError(t, g.AddStep("search-decoy", func(context.Context) error { return decoyErr }))

	err := g.Run(context.Background())
	assert.ErrorIs(t, err, targetErr)
	assert.ErrorIs(t, err, decoyErr)
	assert.ErrorContains(t, err, "search-target, search-decoy")
}

func TestRunCancellationStopsFurtherLaunches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var laterRan atomic.Bool
	g := New()
	require.NoError(t, g.AddStep("first", func(context.Context) error {
		cancel()
		return nil
	}))
	require.NoError(t, g.AddStep("second", func(context.Context) error {
		laterRan.Store(true)
		return nil
	}))
	require.NoError(t, g.AddStep("third", noop))
	require.NoError(t, g.DependsOn("second", "first"))
	require.NoError(t, g.DependsOn("third", "second"))

	err := g.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, laterRan.Load())

	records := g.Records()
	assert.Equal(t, Done, records["first"].State)
	assert.Equal(t, Skipped, records["second"].State)
	assert.Equal(t, Skipped, records["third"].State)
}

func TestRunOnlyOnce(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noop))
	require.NoError(t, g.Run(context.Background()))
	assert.ErrorIs(t, g.Run(context.Background()), ErrAlreadyRun)
}

func TestRunEmptyGraph(t *testing.T) {
	assert.NoError(t, New().Run(context.Background()))
}
