// Package api defines the REST API handlers and interfaces for the focus server.
package api

import (
	"context"
	"time"

	"github.com/GoCodeAlone/focus/ranking"
	"github.com/GoCodeAlone/focus/resurface"
	"github.com/GoCodeAlone/focus/task"
)

// Engine is the interface the API uses to rank and mutate tasks.
// Implemented by *engine.Engine.
type Engine interface {
	Focus(ctx context.Context) (ranking.FocusResult, error)
	Ranked(ctx context.Context) ([]*ranking.Scored, error)
	CreateTask(ctx context.Context, t *task.Task) (*task.Task, error)
	DeleteTask(ctx context.Context, id string) error
	SetTier(ctx context.Context, id string, tier task.Tier) (*task.Task, error)
	Compare(ctx context.Context, winnerID, loserID string) (task.ComparisonRecord, error)

	Complete(ctx context.Context, id string) (*task.Task, error)
	Trash(ctx context.Context, id string) (*task.Task, error)
	Defer(ctx context.Context, id string, start time.Time, reason task.PostponeReason) (*task.Task, error)
	Delegate(ctx context.Context, id, to string, followUp time.Time) (*task.Task, error)
	Someday(ctx context.Context, id string) (*task.Task, error)
	Reclaim(ctx context.Context, id string) (*task.Task, error)

	AddDependency(ctx context.Context, blocked, blocking string) error
	RemoveDependency(ctx context.Context, blocked, blocking string) error
	BlockersOf(ctx context.Context, id string) ([]*task.Task, error)
	Dependencies(ctx context.Context) ([]task.Edge, error)
}

// Scheduler is the part of the resurfacing scheduler the API exposes.
// Implemented by *resurface.Scheduler.
type Scheduler interface {
	AcknowledgeSomedayReview(ctx context.Context, now time.Time) error
	State() *resurface.RunState
}
