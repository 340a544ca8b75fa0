package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddStep(t *testing.T) {
	g := New()

	require.NoError(t, g.AddStep("a", noop))
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "a", nodeA.id)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	err := g.AddStep("a", noop)
	assert.ErrorContains(t, err, "duplicate step")
	assert.Len(t, g.nodes, 1)

	require.NoError(t, g.AddStep("b", noop))
	assert.Equal(t, []string{"a", "b"}, g.Steps())

	assert.ErrorContains(t, g.AddStep("c", nil), "no body")
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddStep("a", noop))
		require.NoError(t, g.AddStep("b", noop))

		err := g.AddEdge("a", "b") // b depends on a
		require.NoError(t, err)

		nodeA := g.nodes["a"]
		nodeB := g.nodes["b"]

		assert.Contains(t, nodeA.dependents, "b")
		assert.Equal(t, nodeB, nodeA.dependents["b"])
		assert.Contains(t, nodeB.deps, "a")
		assert.Equal(t, nodeA, nodeB.deps["a"])

		deps, err := g.Dependencies("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, deps)
		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, dependents)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddStep("a", noop))
		require.NoError(t, g.AddStep("b", noop))

		err := g.AddEdge("dne", "a")
		assert.ErrorContains(t, err, "source step not found")

		err = g.AddEdge("a", "dne")
		assert.ErrorContains(t, err, "destination step not found")

		err = g.AddEdge("a", "a")
		assert.ErrorContains(t, err, "self-referential edge")

		_, err = g.Dependencies("dne")
		assert.ErrorContains(t, err, "step not found")
	})

	t.Run("depends on several", func(t *testing.T) {
		g := New()
		for _, id := range []string{"index-target", "import-spectra", "search-target"} {
			require.NoError(t, g.AddStep(id, noop))
		}
		require.NoError(t, g.DependsOn("search-target", "index-target", "import-spectra"))

		deps, err := g.Dependencies("search-target")
		require.NoError(t, err)
		assert.Equal(t, []string{"import-spectra", "index-target"}, deps)
	})
}

func TestDetectCycles(t *testing.T) {
	build := func(t *testing.T, ids []string, edges [][2]string) *Graph {
		t.Helper()
		g := New()
		for _, id := range ids {
			require.NoError(t, g.AddStep(id, noop))
		}
		for _, e := range edges {
			require.NoError(t, g.AddEdge(e[0], e[1]))
		}
		return g
	}

	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.NoError(t, New().DetectCycles())
	})

	t.Run("graph with steps but no edges has no cycles", func(t *testing.T) {
		g := build(t, []string{"a", "b", "c"}, nil)
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := build(t, []string{"a", "b", "c", "d"}, [][2]string{
			{"a", "b"}, {"b", "c"}, {"a", "c"}, {"c", "d"},
		})
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("simple direct cycle is detected", func(t *testing.T) {
		g := build(t, []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})
		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})

	t.Run("longer cycle is detected", func(t *testing.T) {
		g := build(t, []string{"a", "b", "c", "d"}, [][2]string{
			{"a", "b"}, {"b", "c"}, {"c", "d"}, {"d", "a"},
		})
		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := build(t, []string{"a", "b", "x", "y", "z"}, [][2]string{
			{"a", "b"}, {"x", "y"}, {"y", "z"}, {"z", "y"},
		})
		assert.ErrorContains(t, g.DetectCycles(), "cycle detected")
	})

	t.Run("run refuses a cyclic graph", func(t *testing.T) {
		g := build(t, []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})
		assert.ErrorContains(t, g.Run(context.Background()), "error validating step graph")
	})
}
