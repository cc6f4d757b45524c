package engine

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/focus/depgraph"
	"github.com/GoCodeAlone/focus/task"
)

// AddDependency records that blocked cannot start until blocking is
// completed. Self edges and edges closing a cycle are rejected with
// *depgraph.SelfDependencyError and *depgraph.CycleError; the stored edge
// set is then unchanged.
func (e *Engine) AddDependency(ctx context.Context, blocked, blocking string) error {
	if blocked == blocking {
		return &depgraph.SelfDependencyError{TaskID: blocked}
	}

	e.edgeMu.Lock()
	defer e.edgeMu.Unlock()

	// DeleteTask takes edgeMu too, so both ends still exist when the edge
	// is stored.
	for _, id := range []string{blocked, blocking} {
		if _, err := e.store.Get(ctx, id); err != nil {
			return err
		}
	}

	g, err := e.graph(ctx)
	if err != nil {
		return err
	}
	if err := g.AddEdge(blocked, blocking); err != nil {
		return err
	}
	if err := e.store.AddEdge(ctx, task.Edge{Blocked: blocked, Blocking: blocking, CreatedAt: e.clock()}); err != nil {
		return fmt.Errorf("store edge: %w", err)
	}
	e.logger.Info("dependency added", "blocked", blocked, "blocking", blocking)
	return nil
}

// RemoveDependency deletes an edge.
func (e *Engine) RemoveDependency(ctx context.Context, blocked, blocking string) error {
	e.edgeMu.Lock()
	defer e.edgeMu.Unlock()
	return e.store.RemoveEdge(ctx, blocked, blocking)
}

// BlockersOf returns the tasks id directly waits on, whatever their state.
func (e *Engine) BlockersOf(ctx context.Context, id string) ([]*task.Task, error) {
	g, err := e.graph(ctx)
	if err != nil {
		return nil, err
	}
	var out []*task.Task
	for _, b := range g.BlockingTasksOf(id) {
		t, err := e.store.Get(ctx, b)
		if task.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Dependencies returns every stored edge.
func (e *Engine) Dependencies(ctx context.Context) ([]task.Edge, error) {
	return e.store.Edges(ctx)
}

func (e *Engine) graph(ctx context.Context) (*depgraph.Graph, error) {
	edges, err := e.store.Edges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	return depgraph.New(edges), nil
}
