package task

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Origin identifies who requested a transition.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginScheduler Origin = "scheduler"
)

var transitions = map[State][]State{
	StateActive:    {StateCompleted, StateDeferred, StateDelegated, StateSomeday, StateTrash},
	StateDeferred:  {StateActive},
	StateDelegated: {StateActive},
	StateSomeday:   {StateActive},
}

// CanTransition reports whether the state machine has an edge from -> to.
// It does not check who asked; see Transition.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Fields carries the values a transition needs.
type Fields struct {
	StartDate    *time.Time // required for -> deferred
	DelegatedTo  string     // required for -> delegated
	FollowUpDate *time.Time // required for -> delegated
}

// Transition validates moving t to state `to` and returns the change to
// commit. t itself is not modified.
func Transition(t *Task, to State, origin Origin, f Fields, now time.Time) (Change, error) {
	illegal := func(reason string) (Change, error) {
		return Change{}, &IllegalTransitionError{TaskID: t.ID, From: t.State, To: to, Reason: reason}
	}
	if !CanTransition(t.State, to) {
		return illegal("")
	}

	next := t.Clone()
	next.State = to
	next.UpdatedAt = now

	switch t.State {
	case StateDeferred:
		if origin != OriginScheduler {
			return illegal("deferred tasks are activated by the scheduler only")
		}
		if t.StartDate == nil || DateOf(now).Before(DateOf(*t.StartDate)) {
			return illegal("start date not reached")
		}
		next.StartDate = nil
	case StateDelegated, StateSomeday:
		if origin != OriginUser {
			return illegal("only the user can reclaim this task")
		}
		next.DelegatedTo = ""
		next.FollowUpDate = nil
	}

	switch to {
	case StateDeferred:
		if f.StartDate == nil {
			return illegal("start date required")
		}
		d := DateOf(*f.StartDate)
		next.StartDate = &d
	case StateDelegated:
		if f.DelegatedTo == "" || f.FollowUpDate == nil {
			return illegal("delegate and follow-up date required")
		}
		d := DateOf(*f.FollowUpDate)
		next.DelegatedTo = f.DelegatedTo
		next.FollowUpDate = &d
	case StateCompleted:
		ts := now
		next.CompletedAt = &ts
	}

	return Change{
		Task: next,
		Event: HistoryEvent{
			ID:        uuid.New().String(),
			TaskID:    t.ID,
			From:      t.State,
			To:        to,
			Origin:    origin,
			CreatedAt: now,
		},
	}, nil
}

// DateOf truncates ts to midnight in its own location.
func DateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	a, b = DateOf(a), DateOf(b)
	// Noon avoids off-by-one around DST changes.
	an := time.Date(a.Year(), a.Month(), a.Day(), 12, 0, 0, 0, time.UTC)
	bn := time.Date(b.Year(), b.Month(), b.Day(), 12, 0, 0, 0, time.UTC)
	return int(bn.Sub(an).Hours() / 24)
}
