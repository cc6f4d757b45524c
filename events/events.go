// Package events carries engine events from the scheduler and the engine
// to whoever renders them (toast, panel, UI refresh).
package events

import (
	"context"
	"time"

	"github.com/GoCodeAlone/focus/ranking"
)

// Kind identifies the kind of event.
type Kind string

const (
	KindDeferredActivated    Kind = "deferred_activated"      // deferred tasks became active
	KindDelegatedFollowUpDue Kind = "delegated_follow_up_due" // delegated tasks need a check-in
	KindSomedayReviewDue     Kind = "someday_review_due"      // time to review someday tasks
	KindPostponeIntervention Kind = "postpone_intervention"   // tasks postponed too often
	KindFocusSelected        Kind = "focus_selected"          // a focus result was computed
	KindTaskTransitioned     Kind = "task_transitioned"       // a user-initiated lifecycle change
	KindJobFailed            Kind = "job_failed"              // a scheduler job failed
)

// Hint is a remediation suggestion for an often-postponed task.
type Hint string

const (
	HintBreakDown      Hint = "break_down"
	HintResolveBlocker Hint = "resolve_blocker"
	HintAddDependency  Hint = "add_dependency"
)

// Event is an ephemeral notification. It is not persisted by the engine.
type Event struct {
	ID        string               `json:"id"`
	Kind      Kind                 `json:"kind"`
	TaskIDs   []string             `json:"task_ids,omitempty"`
	Hints     map[string][]Hint    `json:"hints,omitempty"` // task ID -> hints
	Focus     *ranking.FocusResult `json:"focus,omitempty"`
	Job       string               `json:"job,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Bus delivers events to subscribers without blocking the publisher.
type Bus interface {
	// Publish records the event and hands it to every subscriber.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe returns a channel receiving every event published after
	// the call. The returned function unsubscribes and closes the channel.
	Subscribe(buffer int) (<-chan *Event, func())

	// History returns the most recent limit events, oldest first.
	History(limit int) ([]*Event, error)
}
