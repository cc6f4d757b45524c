// Package depgraph validates and queries blocking relationships between
// tasks. The graph is kept acyclic by refusing edges at insertion time.
package depgraph

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/GoCodeAlone/focus/task"
)

// SelfDependencyError is returned for an edge whose two ends are the same task.
type SelfDependencyError struct {
	TaskID string
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("task %s cannot depend on itself", e.TaskID)
}

// CycleError is returned when an edge would close a cycle. Path runs from
// the blocked task through its existing blockers back to itself.
type CycleError struct {
	Blocked  string
	Blocking string
	Path     []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle: %s",
		e.Blocked, e.Blocking, strings.Join(e.Path, " -> "))
}

// StateFunc reports the lifecycle state of a task, or false if unknown.
type StateFunc func(id string) (task.State, bool)

// Graph holds blocked-by edges: blockedBy[a] contains b when a waits on b.
// All methods are safe for concurrent use; AddEdge is atomic with its
// cycle check.
type Graph struct {
	mu        sync.RWMutex
	blockedBy map[string][]string
}

// New builds a graph from existing edges. Edges are trusted to be acyclic.
func New(edges []task.Edge) *Graph {
	g := &Graph{blockedBy: make(map[string][]string)}
	for _, e := range edges {
		g.insert(e.Blocked, e.Blocking)
	}
	return g
}

// AddEdge records that blocked waits on blocking. It fails without
// modifying the graph if the two are equal or if blocking already
// (transitively) waits on blocked.
func (g *Graph) AddEdge(blocked, blocking string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check(blocked, blocking); err != nil {
		return err
	}
	g.insert(blocked, blocking)
	return nil
}

// Check reports the error AddEdge would return, without adding the edge.
func (g *Graph) Check(blocked, blocking string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.check(blocked, blocking)
}

// RemoveEdge deletes an edge; it reports whether the edge existed.
func (g *Graph) RemoveEdge(blocked, blocking string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	deps := g.blockedBy[blocked]
	i := slices.Index(deps, blocking)
	if i < 0 {
		return false
	}
	deps = slices.Delete(deps, i, i+1)
	if len(deps) == 0 {
		delete(g.blockedBy, blocked)
	} else {
		g.blockedBy[blocked] = deps
	}
	return true
}

// RemoveTask drops every edge referencing id.
func (g *Graph) RemoveTask(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blockedBy, id)
	for k, deps := range g.blockedBy {
		deps = slices.DeleteFunc(deps, func(d string) bool { return d == id })
		if len(deps) == 0 {
			delete(g.blockedBy, k)
		} else {
			g.blockedBy[k] = deps
		}
	}
}

// BlockingTasksOf returns the direct blockers of id.
func (g *Graph) BlockingTasksOf(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.blockedBy[id])
}

// IsBlocked reports whether id has a direct blocker that is not completed.
// Blockers whose state is unknown are ignored.
func (g *Graph) IsBlocked(id string, state StateFunc) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, b := range g.blockedBy[id] {
		if st, ok := state(b); ok && st != task.StateCompleted {
			return true
		}
	}
	return false
}

// Edges returns a snapshot of every edge, sorted.
func (g *Graph) Edges() []task.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []task.Edge
	for blocked, deps := range g.blockedBy {
		for _, b := range deps {
			out = append(out, task.Edge{Blocked: blocked, Blocking: b})
		}
	}
	slices.SortFunc(out, func(a, b task.Edge) int {
		if c := strings.Compare(a.Blocked, b.Blocked); c != 0 {
			return c
		}
		return strings.Compare(a.Blocking, b.Blocking)
	})
	return out
}

// Len returns the number of edges.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, deps := range g.blockedBy {
		n += len(deps)
	}
	return n
}

func (g *Graph) check(blocked, blocking string) error {
	if blocked == blocking {
		return &SelfDependencyError{TaskID: blocked}
	}
	if path := g.pathFrom(blocking, blocked); path != nil {
		full := append([]string{blocked}, path...)
		return &CycleError{Blocked: blocked, Blocking: blocking, Path: full}
	}
	return nil
}

// pathFrom follows blocked-by edges depth-first from `from` and returns
// the path to target, or nil when target is unreachable.
func (g *Graph) pathFrom(from, target string) []string {
	visited := map[string]bool{}
	var path []string
	var visit func(id string) bool
	visit = func(id string) bool {
		path = append(path, id)
		if id == target {
			return true
		}
		visited[id] = true
		for _, next := range g.blockedBy[id] {
			if !visited[next] && visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if visit(from) {
		return path
	}
	return nil
}

func (g *Graph) insert(blocked, blocking string) {
	if slices.Contains(g.blockedBy[blocked], blocking) {
		return
	}
	g.blockedBy[blocked] = append(g.blockedBy[blocked], blocking)
}
