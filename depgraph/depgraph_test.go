package depgraph

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/focus/task"
)

func TestAddEdge_SelfRejected(t *testing.T) {
	g := New(nil)
	err := g.AddEdge("a", "a")
	var self *SelfDependencyError
	require.ErrorAs(t, err, &self)
	assert.Equal(t, "a", self.TaskID)
	assert.Equal(t, 0, g.Len())
}

func TestAddEdge_CycleRejected(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.AddEdge("1", "2"))
	require.NoError(t, g.AddEdge("2", "3"))

	before := g.Edges()
	err := g.AddEdge("3", "1")
	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"3", "1", "2", "3"}, cyc.Path)
	assert.Contains(t, err.Error(), "3 -> 1 -> 2 -> 3")
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, before, g.Edges())
}

func TestAddEdge_DiamondIsFine(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.AddEdge("top", "left"))
	require.NoError(t, g.AddEdge("top", "right"))
	require.NoError(t, g.AddEdge("left", "bottom"))
	require.NoError(t, g.AddEdge("right", "bottom"))
	assert.Error(t, g.Check("bottom", "top"))
	assert.NoError(t, g.Check("left", "right"))
}

func TestAddEdge_DuplicateIsNoop(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, 1, g.Len())
}

func TestAddEdge_RandomSequencesStayAcyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		g := New(nil)
		for i := 0; i < 200; i++ {
			a := fmt.Sprint(rng.Intn(12))
			b := fmt.Sprint(rng.Intn(12))
			before := g.Len()
			if err := g.AddEdge(a, b); err != nil {
				assert.Equal(t, before, g.Len(), "rejected edge must not mutate the graph")
			}
			require.False(t, hasCycle(g), "round %d step %d", round, i)
		}
	}
}

func TestAddEdge_ConcurrentInsertsStayAcyclic(t *testing.T) {
	g := New(nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 300; i++ {
				_ = g.AddEdge(fmt.Sprint(rng.Intn(10)), fmt.Sprint(rng.Intn(10)))
			}
		}(int64(w))
	}
	wg.Wait()
	assert.False(t, hasCycle(g))
}

func TestIsBlocked(t *testing.T) {
	g := New([]task.Edge{{Blocked: "e", Blocking: "f"}, {Blocked: "e", Blocking: "gone"}})
	states := map[string]task.State{"e": task.StateActive, "f": task.StateActive}
	lookup := func(id string) (task.State, bool) {
		st, ok := states[id]
		return st, ok
	}

	assert.True(t, g.IsBlocked("e", lookup))
	assert.False(t, g.IsBlocked("f", lookup))

	states["f"] = task.StateTrash
	assert.True(t, g.IsBlocked("e", lookup), "only completion unblocks")

	states["f"] = task.StateCompleted
	assert.False(t, g.IsBlocked("e", lookup))
}

func TestBlockingTasksOfAndRemoval(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("c", "b"))

	assert.ElementsMatch(t, []string{"b", "c"}, g.BlockingTasksOf("a"))

	assert.True(t, g.RemoveEdge("a", "c"))
	assert.False(t, g.RemoveEdge("a", "c"))
	assert.Equal(t, []string{"b"}, g.BlockingTasksOf("a"))

	g.RemoveTask("b")
	assert.Empty(t, g.BlockingTasksOf("a"))
	assert.Equal(t, 0, g.Len())
}

// hasCycle runs an independent colour-marking DFS over the edge snapshot.
func hasCycle(g *Graph) bool {
	adj := map[string][]string{}
	for _, e := range g.Edges() {
		adj[e.Blocked] = append(adj[e.Blocked], e.Blocking)
	}
	const (
		white = iota
		grey
		black
	)
	colour := map[string]int{}
	var visit func(string) bool
	visit = func(n string) bool {
		colour[n] = grey
		for _, m := range adj[n] {
			if colour[m] == grey || (colour[m] == white && visit(m)) {
				return true
			}
		}
		colour[n] = black
		return false
	}
	for n := range adj {
		if colour[n] == white && visit(n) {
			return true
		}
	}
	return false
}
