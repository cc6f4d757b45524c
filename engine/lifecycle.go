package engine

import (
	"context"
	"time"

	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/task"
)

// Transition moves a task to another lifecycle state on the user's behalf.
// The change and its history entry are committed together; a concurrent
// write to the same task yields *task.StaleTaskError.
func (e *Engine) Transition(ctx context.Context, id string, to task.State, f task.Fields) (*task.Task, error) {
	return e.transition(ctx, id, to, f, "")
}

// transition commits a user transition. A deferral also records a
// postponement with reason in the same transaction.
func (e *Engine) transition(ctx context.Context, id string, to task.State, f task.Fields, reason task.PostponeReason) (*task.Task, error) {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	ch, err := task.Transition(t, to, task.OriginUser, f, now)
	if err != nil {
		return nil, err
	}
	if to == task.StateDeferred {
		ch.Postponement = &task.Postponement{TaskID: id, Reason: reason, CreatedAt: now}
	}
	if _, err := e.store.Apply(ctx, ch); err != nil {
		return nil, err
	}
	e.logger.Info("task transitioned", "task", id, "from", string(ch.Event.From), "to", string(to))
	e.publish(ctx, &events.Event{
		Kind:      events.KindTaskTransitioned,
		TaskIDs:   []string{id},
		Timestamp: now,
	})
	return ch.Task, nil
}

// Complete marks a task done.
func (e *Engine) Complete(ctx context.Context, id string) (*task.Task, error) {
	return e.Transition(ctx, id, task.StateCompleted, task.Fields{})
}

// Trash discards a task.
func (e *Engine) Trash(ctx context.Context, id string) (*task.Task, error) {
	return e.Transition(ctx, id, task.StateTrash, task.Fields{})
}

// Defer hides a task until start and records the postponement.
func (e *Engine) Defer(ctx context.Context, id string, start time.Time, reason task.PostponeReason) (*task.Task, error) {
	start = start.In(e.loc)
	if task.DateOf(start).Before(task.DateOf(e.clock())) {
		return nil, &task.PreconditionError{Op: "defer", Reason: "start date is in the past"}
	}
	return e.transition(ctx, id, task.StateDeferred, task.Fields{StartDate: &start}, reason)
}

// Delegate hands a task to someone else until followUp.
func (e *Engine) Delegate(ctx context.Context, id, to string, followUp time.Time) (*task.Task, error) {
	followUp = followUp.In(e.loc)
	return e.Transition(ctx, id, task.StateDelegated, task.Fields{DelegatedTo: to, FollowUpDate: &followUp})
}

// Someday shelves a task until the next someday review.
func (e *Engine) Someday(ctx context.Context, id string) (*task.Task, error) {
	return e.Transition(ctx, id, task.StateSomeday, task.Fields{})
}

// Reclaim brings a delegated or someday task back to active.
func (e *Engine) Reclaim(ctx context.Context, id string) (*task.Task, error) {
	return e.Transition(ctx, id, task.StateActive, task.Fields{})
}

func (e *Engine) publish(ctx context.Context, ev *events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish event", "kind", string(ev.Kind), "error", err)
	}
}
