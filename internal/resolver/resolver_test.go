package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func depsFrom(graph map[string][]string) func(string) []string {
	return func(name string) []string { return graph[name] }
}

func indexOf(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("module %q missing from order %v", name, order)
	return -1
}

func TestResolveAcyclic(t *testing.T) {
	t.Run("chain", func(t *testing.T) {
		order, err := Resolve(context.Background(),
			[]string{"c", "b", "a"},
			depsFrom(map[string][]string{"c": {"b"}, "b": {"a"}}),
			false)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, order)
	})

	t.Run("diamond respects every edge", func(t *testing.T) {
		graph := map[string][]string{
			"top":   {"left", "right"},
			"left":  {"base"},
			"right": {"base"},
		}
		order, err := Resolve(context.Background(),
			[]string{"top", "left", "right", "base"},
			depsFrom(graph), false)
		require.NoError(t, err)
		require.Len(t, order, 4)
		for dependent, deps := range graph {
			for _, dep := range deps {
				assert.Less(t, indexOf(t, order, dep), indexOf(t, order, dependent),
					"edge %s -> %s violated in %v", dep, dependent, order)
			}
		}
	})

	t.Run("output is a permutation of the input", func(t *testing.T) {
		names := []string{"a", "b", "c", "d", "e"}
		order, err := Resolve(context.Background(), names,
			depsFrom(map[string][]string{"e": {"a", "c"}, "d": {"b"}}), false)
		require.NoError(t, err)
		assert.ElementsMatch(t, names, order)
	})

	t.Run("independent modules keep discovery order", func(t *testing.T) {
		names := []string{"z", "m", "a"}
		order, err := Resolve(context.Background(), names, depsFrom(nil), false)
		require.NoError(t, err)
		assert.Equal(t, names, order, "tie-break must be FIFO discovery order, not lexicographic")
	})

	t.Run("deterministic across repeated calls", func(t *testing.T) {
		names := []string{"b", "a", "d", "c"}
		graph := map[string][]string{"d": {"b"}, "c": {"a"}}
		first, err := Resolve(context.Background(), names, depsFrom(graph), false)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			again, err := Resolve(context.Background(), names, depsFrom(graph), false)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})
}

func TestResolveCycle(t *testing.T) {
	graph := map[string][]string{"a": {"b"}, "b": {"a"}}

	t.Run("returns ErrCycle without looping", func(t *testing.T) {
		order, err := Resolve(context.Background(), []string{"a", "b"}, depsFrom(graph), false)
		require.ErrorIs(t, err, ErrCycle)
		assert.Nil(t, order)
	})

	t.Run("strict mode wraps ErrCycle with context", func(t *testing.T) {
		_, err := Resolve(context.Background(), []string{"a", "b"}, depsFrom(graph), true)
		require.ErrorIs(t, err, ErrCycle)
		assert.Contains(t, err.Error(), "cannot order")
	})

	t.Run("self dependency", func(t *testing.T) {
		_, err := Resolve(context.Background(), []string{"a"},
			depsFrom(map[string][]string{"a": {"a"}}), false)
		require.ErrorIs(t, err, ErrCycle)
	})

	t.Run("acyclic portion still detected as incomplete", func(t *testing.T) {
		_, err := Resolve(context.Background(), []string{"free", "a", "b"}, depsFrom(graph), false)
		require.ErrorIs(t, err, ErrCycle)
	})
}

func TestResolveExternalDependency(t *testing.T) {
	graph := map[string][]string{"app": {"ghost"}}

	t.Run("skipped with a warning by default", func(t *testing.T) {
		order, err := Resolve(context.Background(), []string{"app"}, depsFrom(graph), false)
		require.NoError(t, err)
		assert.Equal(t, []string{"app"}, order)
	})

	t.Run("hard failure under strict mode", func(t *testing.T) {
		_, err := Resolve(context.Background(), []string{"app"}, depsFrom(graph), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ghost")
		assert.NotErrorIs(t, err, ErrCycle)
	})
}
