package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ExecutionRecord holds the start and end times for a single step's execution.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// AssertStartsAfter checks that step started no earlier than the latest
// completion of deps.
func AssertStartsAfter(t *testing.T, records map[string]ExecutionRecord, step string, deps ...string) {
	t.Helper()

	rec, ok := records[step]
	require.True(t, ok, "no execution record for step %s", step)
	for _, dep := range deps {
		d, ok := records[dep]
		require.True(t, ok, "no execution record for dependency %s", dep)
		assert.False(t, rec.Start.Before(d.End),
			"step %s started at %s, before dependency %s finished at %s",
			step, rec.Start.Format(time.RFC3339Nano), dep, d.End.Format(time.RFC3339Nano))
	}
}
