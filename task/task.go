// Package task defines the task model, its lifecycle and persistence.
package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a task.
type State string

const (
	StateActive    State = "active"
	StateDeferred  State = "deferred"
	StateDelegated State = "delegated"
	StateSomeday   State = "someday"
	StateCompleted State = "completed"
	StateTrash     State = "trash"
)

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateDeferred, StateDelegated, StateSomeday, StateCompleted, StateTrash:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions leave s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateTrash
}

// Tier is the user-assigned coarse priority class.
type Tier int

const (
	TierLow    Tier = 1
	TierMedium Tier = 2
	TierHigh   Tier = 3
)

// IsValid reports whether t is one of Low, Medium or High.
func (t Tier) IsValid() bool {
	return t >= TierLow && t <= TierHigh
}

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseTier converts "low", "medium" or "high" into a Tier.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "low", "1":
		return TierLow, true
	case "medium", "2":
		return TierMedium, true
	case "high", "3":
		return TierHigh, true
	default:
		return 0, false
	}
}

// DefaultRating is the rating of a new task and of a task whose tier changed.
const DefaultRating = 1500.0

// Task is the unit of work the engine ranks.
type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Notes           string     `json:"notes,omitempty"`
	Tier            Tier       `json:"tier"`
	Rating          float64    `json:"rating"`
	ComparisonCount int        `json:"comparison_count"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	State           State      `json:"state"`

	StartDate    *time.Time `json:"start_date,omitempty"`     // only while deferred
	DelegatedTo  string     `json:"delegated_to,omitempty"`   // only while delegated
	FollowUpDate *time.Time `json:"follow_up_date,omitempty"` // only while delegated

	LastResurfacedAt *time.Time `json:"last_resurfaced_at,omitempty"`
	ResurfaceCount   int        `json:"resurface_count"`

	// Version is bumped by the store on every write and compared on update.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New returns an active task with a fresh ID and the default rating.
func New(title string, tier Tier) *Task {
	return &Task{
		ID:     uuid.New().String(),
		Title:  title,
		Tier:   tier,
		Rating: DefaultRating,
		State:  StateActive,
	}
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.DueDate = cloneTime(t.DueDate)
	c.StartDate = cloneTime(t.StartDate)
	c.FollowUpDate = cloneTime(t.FollowUpDate)
	c.LastResurfacedAt = cloneTime(t.LastResurfacedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

// SetTier changes the tier. A real change resets the rating and the
// comparison count, since ratings are only comparable within one tier.
func (t *Task) SetTier(tier Tier) bool {
	if t.Tier == tier {
		return false
	}
	t.Tier = tier
	t.Rating = DefaultRating
	t.ComparisonCount = 0
	return true
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Edge records that Blocked cannot be worked on until Blocking is completed.
type Edge struct {
	Blocked   string    `json:"blocked"`
	Blocking  string    `json:"blocking"`
	CreatedAt time.Time `json:"created_at"`
}

// ComparisonRecord is an immutable entry in the pairwise comparison log.
type ComparisonRecord struct {
	ID                string    `json:"id"`
	WinnerID          string    `json:"winner_id"`
	LoserID           string    `json:"loser_id"`
	WinnerRatingAfter float64   `json:"winner_rating_after"`
	LoserRatingAfter  float64   `json:"loser_rating_after"`
	CreatedAt         time.Time `json:"created_at"`
}

// HistoryEvent is the audit entry written for every lifecycle transition.
type HistoryEvent struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Origin    Origin    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// PostponeReason is why the user deferred a task.
type PostponeReason string

const (
	ReasonUnspecified PostponeReason = ""
	ReasonTooBig      PostponeReason = "too_big"
	ReasonBlocked     PostponeReason = "blocked"
	ReasonWaiting     PostponeReason = "waiting_on_other"
	ReasonOther       PostponeReason = "other"
)

// Postponement is one deferral of a task.
type Postponement struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Reason    PostponeReason `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Change is a lifecycle mutation ready to be committed. Task holds the new
// field values; Task.Version must still be the version that was read.
// Postponement, when set, is recorded in the same transaction.
type Change struct {
	Task         *Task
	Event        HistoryEvent
	Postponement *Postponement
}

// Filter controls which tasks are returned by List.
type Filter struct {
	State  *State `json:"state,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store persists tasks, dependency edges and the engine's logs.
// Writes to a single task are transactional and version-checked.
type Store interface {
	// Create persists a new task and returns its ID.
	Create(ctx context.Context, t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns tasks matching the filter.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Update saves non-lifecycle field edits of an existing task.
	Update(ctx context.Context, t *Task) error

	// Delete removes a task and every edge that references it.
	Delete(ctx context.Context, id string) error

	// ActiveTasks returns all tasks in the active state.
	ActiveTasks(ctx context.Context) ([]*Task, error)

	// DeferredDueBy returns deferred tasks whose start date is on or before day.
	DeferredDueBy(ctx context.Context, day time.Time) ([]*Task, error)

	// DelegatedDueBy returns delegated tasks whose follow-up date is on or before day.
	DelegatedDueBy(ctx context.Context, day time.Time) ([]*Task, error)

	// SomedayTasks returns all tasks in the someday state.
	SomedayTasks(ctx context.Context) ([]*Task, error)

	// Apply commits lifecycle changes and their history events in one
	// transaction. Changes that lost a version race are skipped and
	// reported as *StaleTaskError in the returned error; the IDs of the
	// committed changes are returned.
	Apply(ctx context.Context, changes ...Change) ([]string, error)

	// AppendHistory writes a standalone audit event.
	AppendHistory(ctx context.Context, ev HistoryEvent) error

	// History returns the audit events of a task, oldest first.
	History(ctx context.Context, taskID string) ([]HistoryEvent, error)

	// Edges returns every dependency edge.
	Edges(ctx context.Context) ([]Edge, error)

	// AddEdge persists a dependency edge.
	AddEdge(ctx context.Context, e Edge) error

	// RemoveEdge deletes a dependency edge.
	RemoveEdge(ctx context.Context, blocked, blocking string) error

	// RecordComparison stores both rating updates and the record atomically.
	RecordComparison(ctx context.Context, winner, loser *Task, rec ComparisonRecord) error

	// Comparisons returns the most recent comparison records, newest first.
	Comparisons(ctx context.Context, limit int) ([]ComparisonRecord, error)

	// RecordPostponement appends to the postponement history.
	RecordPostponement(ctx context.Context, p Postponement) error

	// PostponementsSince returns postponements created at or after since.
	PostponementsSince(ctx context.Context, since time.Time) ([]Postponement, error)

	// GetMeta reads an engine bookkeeping value.
	GetMeta(ctx context.Context, key string) (string, bool, error)

	// SetMeta writes an engine bookkeeping value.
	SetMeta(ctx context.Context, key, value string) error
}
