// Package engine wires scoring, ranking, comparison, dependencies and the
// lifecycle state machine on top of a task store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/focus/depgraph"
	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/priority"
	"github.com/GoCodeAlone/focus/ranking"
	"github.com/GoCodeAlone/focus/rating"
	"github.com/GoCodeAlone/focus/task"
)

// Config configures an Engine.
type Config struct {
	Priority priority.Config
	Rating   rating.Config
	Location *time.Location // calendar day boundaries; time.Local when nil
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		Priority: priority.DefaultConfig(),
		Rating:   rating.DefaultConfig(),
		Location: time.Local,
	}
}

// Engine answers "what should I work on now" and applies user decisions.
// It holds no task state of its own; every call reads a fresh snapshot
// from the store.
type Engine struct {
	store  task.Store
	bus    events.Bus
	logger *slog.Logger
	scorer *priority.Scorer
	ranker *ranking.Ranker
	calc   *rating.Calculator
	loc    *time.Location
	now    func() time.Time

	// edgeMu serializes dependency mutations so each cycle check runs
	// against the edge set it is committed to.
	edgeMu sync.Mutex
}

// New validates cfg and returns an Engine.
func New(store task.Store, bus events.Bus, cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Priority.Validate(); err != nil {
		return nil, fmt.Errorf("priority config: %w", err)
	}
	if err := cfg.Rating.Validate(); err != nil {
		return nil, fmt.Errorf("rating config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	scorer := priority.NewScorer(cfg.Priority)
	return &Engine{
		store:  store,
		bus:    bus,
		logger: logger,
		scorer: scorer,
		ranker: ranking.NewRanker(scorer, cfg.Rating.Epsilon),
		calc:   rating.NewCalculator(cfg.Rating),
		loc:    loc,
		now:    time.Now,
	}, nil
}

func (e *Engine) clock() time.Time { return e.now().In(e.loc) }

// Actionable returns the active tasks that have no incomplete blocker.
func (e *Engine) Actionable(ctx context.Context) ([]*task.Task, error) {
	active, err := e.store.ActiveTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active tasks: %w", err)
	}
	edges, err := e.store.Edges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	g := depgraph.New(edges)

	states := make(map[string]task.State, len(active))
	for _, t := range active {
		states[t.ID] = t.State
	}
	var lookupErr error
	stateOf := func(id string) (task.State, bool) {
		if st, ok := states[id]; ok {
			return st, true
		}
		t, err := e.store.Get(ctx, id)
		if err != nil {
			if !task.IsNotFound(err) && lookupErr == nil {
				lookupErr = err
			}
			return "", false
		}
		states[id] = t.State
		return t.State, true
	}

	out := make([]*task.Task, 0, len(active))
	for _, t := range active {
		if !g.IsBlocked(t.ID, stateOf) {
			out = append(out, t)
		}
	}
	if lookupErr != nil {
		return nil, fmt.Errorf("load blocker: %w", lookupErr)
	}
	return out, nil
}

// Focus selects the task to work on next and announces the result.
func (e *Engine) Focus(ctx context.Context) (ranking.FocusResult, error) {
	actionable, err := e.Actionable(ctx)
	if err != nil {
		return ranking.FocusResult{}, err
	}
	now := e.clock()
	res, err := e.ranker.SelectFocus(actionable, now)
	if err != nil {
		return ranking.FocusResult{}, err
	}
	e.publish(ctx, &events.Event{
		Kind:      events.KindFocusSelected,
		TaskIDs:   res.IDs(),
		Focus:     &res,
		Timestamp: now,
	})
	return res, nil
}

// Ranked returns every actionable task ordered by importance.
func (e *Engine) Ranked(ctx context.Context) ([]*ranking.Scored, error) {
	actionable, err := e.Actionable(ctx)
	if err != nil {
		return nil, err
	}
	return e.ranker.Rank(actionable, e.clock())
}

// Compare records that the user prefers winner over loser. Both tasks must
// be actionable. The rating updates and the record are stored together.
func (e *Engine) Compare(ctx context.Context, winnerID, loserID string) (task.ComparisonRecord, error) {
	if winnerID == loserID {
		return task.ComparisonRecord{}, &task.PreconditionError{
			Op:     "compare",
			Reason: fmt.Sprintf("task %s cannot be compared with itself", winnerID),
		}
	}
	actionable, err := e.Actionable(ctx)
	if err != nil {
		return task.ComparisonRecord{}, err
	}
	var winner, loser *task.Task
	for _, t := range actionable {
		switch t.ID {
		case winnerID:
			winner = t
		case loserID:
			loser = t
		}
	}
	for _, p := range []struct {
		id string
		t  *task.Task
	}{{winnerID, winner}, {loserID, loser}} {
		if p.t == nil {
			return task.ComparisonRecord{}, &task.PreconditionError{
				Op:     "compare",
				Reason: fmt.Sprintf("task %s is not actionable", p.id),
			}
		}
	}

	rec, err := e.calc.Apply(winner, loser, e.clock())
	if err != nil {
		return task.ComparisonRecord{}, err
	}
	if err := e.store.RecordComparison(ctx, winner, loser, rec); err != nil {
		return task.ComparisonRecord{}, fmt.Errorf("record comparison: %w", err)
	}
	e.logger.Debug("comparison recorded",
		"winner", winnerID, "winner_rating", rec.WinnerRatingAfter,
		"loser", loserID, "loser_rating", rec.LoserRatingAfter)
	return rec, nil
}

// CreateTask stores a new active task.
func (e *Engine) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	if t.Title == "" {
		return nil, &task.PreconditionError{Op: "create", Reason: "title is required"}
	}
	if !t.Tier.IsValid() {
		return nil, &task.PreconditionError{Op: "create", Reason: fmt.Sprintf("invalid tier %d", t.Tier)}
	}
	t.State = task.StateActive
	t.Rating = task.DefaultRating
	t.ComparisonCount = 0
	if t.DueDate != nil {
		d := task.DateOf(t.DueDate.In(e.loc))
		t.DueDate = &d
	}
	if _, err := e.store.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTask removes a task together with its dependency edges.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	e.edgeMu.Lock()
	defer e.edgeMu.Unlock()
	return e.store.Delete(ctx, id)
}

// SetTier changes a task's tier. A real change resets its rating.
func (e *Engine) SetTier(ctx context.Context, id string, tier task.Tier) (*task.Task, error) {
	if !tier.IsValid() {
		return nil, &task.PreconditionError{Op: "set tier", Reason: fmt.Sprintf("invalid tier %d", tier)}
	}
	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.SetTier(tier) {
		return t, nil
	}
	if err := e.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
