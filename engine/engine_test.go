package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/focus/depgraph"
	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/ranking"
	"github.com/GoCodeAlone/focus/task"
)

var now = time.Date(2026, 5, 12, 14, 0, 0, 0, time.UTC)

func dayOffset(n int) *time.Time {
	d := task.DateOf(now).AddDate(0, 0, n)
	return &d
}

type fixture struct {
	eng   *Engine
	store *task.SQLiteStore
	bus   *events.InMemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith builds the engine over wrap(store) when wrap is non-nil.
func newFixtureWith(t *testing.T, wrap func(task.Store) task.Store) *fixture {
	t.Helper()
	f, err := os.CreateTemp("", "focus-engine-*.db")
	require.NoError(t, err)
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := task.NewSQLiteStore(path, time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := DefaultConfig()
	cfg.Location = time.UTC
	bus := events.NewInMemoryBus(nil)
	var backing task.Store = store
	if wrap != nil {
		backing = wrap(store)
	}
	eng, err := New(backing, bus, cfg, nil)
	require.NoError(t, err)
	eng.now = func() time.Time { return now }
	return &fixture{eng: eng, store: store, bus: bus}
}

func (f *fixture) add(t *testing.T, title string, tier task.Tier, due *time.Time) *task.Task {
	t.Helper()
	tk, err := f.eng.CreateTask(context.Background(), &task.Task{Title: title, Tier: tier, DueDate: due})
	require.NoError(t, err)
	return tk
}

func TestFocus_EmptyAndSingle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.eng.Focus(ctx)
	require.NoError(t, err)
	assert.Equal(t, ranking.KindEmpty, res.Kind)

	a := f.add(t, "only", task.TierLow, nil)
	res, err = f.eng.Focus(ctx)
	require.NoError(t, err)
	require.Equal(t, ranking.KindSingle, res.Kind)
	assert.Equal(t, a.ID, res.Task.Task.ID)

	hist, err := f.bus.History(0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, events.KindFocusSelected, hist[1].Kind)
	assert.Equal(t, []string{a.ID}, hist[1].TaskIDs)
}

func TestFocus_TieResolvedByComparison(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "a", task.TierHigh, dayOffset(0))
	b := f.add(t, "b", task.TierHigh, dayOffset(0))

	res, err := f.eng.Focus(ctx)
	require.NoError(t, err)
	require.Equal(t, ranking.KindTied, res.Kind)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, res.IDs())

	rec, err := f.eng.Compare(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1516.0, rec.WinnerRatingAfter, 1e-9)
	assert.InDelta(t, 1484.0, rec.LoserRatingAfter, 1e-9)

	res, err = f.eng.Focus(ctx)
	require.NoError(t, err)
	require.Equal(t, ranking.KindSingle, res.Kind)
	assert.Equal(t, b.ID, res.Task.Task.ID)

	log, err := f.store.Comparisons(ctx, 10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, b.ID, log[0].WinnerID)
}

func TestFocus_BlockedTaskNeverSelected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.add(t, "E", task.TierHigh, dayOffset(0))
	blocker := f.add(t, "F", task.TierLow, nil)
	g := f.add(t, "G", task.TierMedium, nil)
	require.NoError(t, f.eng.AddDependency(ctx, e.ID, blocker.ID))

	actionable, err := f.eng.Actionable(ctx)
	require.NoError(t, err)
	var ids []string
	for _, tk := range actionable {
		ids = append(ids, tk.ID)
	}
	assert.ElementsMatch(t, []string{blocker.ID, g.ID}, ids)

	res, err := f.eng.Focus(ctx)
	require.NoError(t, err)
	assert.NotContains(t, res.IDs(), e.ID)
	assert.Equal(t, []string{g.ID}, res.IDs())

	_, err = f.eng.Complete(ctx, blocker.ID)
	require.NoError(t, err)
	res, err = f.eng.Focus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, res.IDs())
}

func TestFocus_DeletedBlockerDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.add(t, "E", task.TierHigh, nil)
	blocker := f.add(t, "F", task.TierLow, nil)
	require.NoError(t, f.eng.AddDependency(ctx, e.ID, blocker.ID))
	require.NoError(t, f.eng.DeleteTask(ctx, blocker.ID))

	res, err := f.eng.Focus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, res.IDs())
}

func TestCompare_RequiresActionableTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "a", task.TierHigh, nil)
	b := f.add(t, "b", task.TierHigh, nil)
	c := f.add(t, "c", task.TierHigh, nil)
	require.NoError(t, f.eng.AddDependency(ctx, c.ID, a.ID))

	var pe *task.PreconditionError
	_, err := f.eng.Compare(ctx, a.ID, a.ID)
	assert.True(t, errors.As(err, &pe))

	_, err = f.eng.Compare(ctx, a.ID, c.ID)
	assert.True(t, errors.As(err, &pe), "blocked task cannot be compared")

	_, err = f.eng.Someday(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.eng.Compare(ctx, a.ID, b.ID)
	assert.True(t, errors.As(err, &pe), "someday task cannot be compared")

	got, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.DefaultRating, got.Rating)
	assert.Equal(t, 0, got.ComparisonCount)
}

func TestAddDependency_CycleLeavesEdgesUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := f.add(t, "1", task.TierMedium, nil)
	t2 := f.add(t, "2", task.TierMedium, nil)
	t3 := f.add(t, "3", task.TierMedium, nil)

	require.NoError(t, f.eng.AddDependency(ctx, t1.ID, t2.ID))
	require.NoError(t, f.eng.AddDependency(ctx, t2.ID, t3.ID))

	err := f.eng.AddDependency(ctx, t3.ID, t1.ID)
	var ce *depgraph.CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{t3.ID, t1.ID, t2.ID, t3.ID}, ce.Path)

	edges, err := f.eng.Dependencies(ctx)
	require.NoError(t, err)
	assert.Len(t, edges, 2)

	var se *depgraph.SelfDependencyError
	assert.True(t, errors.As(f.eng.AddDependency(ctx, t1.ID, t1.ID), &se))

	assert.True(t, task.IsNotFound(f.eng.AddDependency(ctx, t1.ID, "missing")))
}

func TestRemoveDependencyAndBlockers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "a", task.TierMedium, nil)
	b := f.add(t, "b", task.TierMedium, nil)
	require.NoError(t, f.eng.AddDependency(ctx, a.ID, b.ID))

	blockers, err := f.eng.BlockersOf(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, blockers, 1)
	assert.Equal(t, b.ID, blockers[0].ID)

	require.NoError(t, f.eng.RemoveDependency(ctx, a.ID, b.ID))
	blockers, err = f.eng.BlockersOf(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, blockers)
	assert.Error(t, f.eng.RemoveDependency(ctx, a.ID, b.ID))
}

func TestDefer_RecordsPostponement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "a", task.TierMedium, nil)

	got, err := f.eng.Defer(ctx, a.ID, now.AddDate(0, 0, 3), task.ReasonTooBig)
	require.NoError(t, err)
	assert.Equal(t, task.StateDeferred, got.State)
	require.NotNil(t, got.StartDate)
	assert.True(t, got.StartDate.Equal(*dayOffset(3)))

	ps, err := f.store.PostponementsSince(ctx, now.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, task.ReasonTooBig, ps[0].Reason)

	// Deferred tasks come back through the scheduler only.
	_, err = f.eng.Reclaim(ctx, a.ID)
	var ie *task.IllegalTransitionError
	assert.True(t, errors.As(err, &ie))

	_, err = f.eng.Defer(ctx, a.ID, now.AddDate(0, 0, -1), task.ReasonOther)
	var pe *task.PreconditionError
	assert.True(t, errors.As(err, &pe))
}

// noSideWriteStore fails the standalone postponement insert, so only a
// postponement written with the transition itself can land.
type noSideWriteStore struct {
	task.Store
}

func (noSideWriteStore) RecordPostponement(context.Context, task.Postponement) error {
	return errors.New("disk full")
}

func TestDefer_PostponementCommitsWithTransition(t *testing.T) {
	f := newFixtureWith(t, func(s task.Store) task.Store { return noSideWriteStore{s} })
	ctx := context.Background()
	a := f.add(t, "a", task.TierMedium, nil)

	_, err := f.eng.Defer(ctx, a.ID, now.AddDate(0, 0, 2), task.ReasonBlocked)
	require.NoError(t, err)

	ps, err := f.store.PostponementsSince(ctx, now.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, a.ID, ps[0].TaskID)
	assert.Equal(t, task.ReasonBlocked, ps[0].Reason)

	hist, err := f.store.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, task.StateDeferred, hist[0].To)
}

// deleteDuringGetStore deletes the target through the engine the first
// time the engine looks it up.
type deleteDuringGetStore struct {
	task.Store
	target string
	eng    *Engine
	once   sync.Once
	done   chan struct{}
}

func (s *deleteDuringGetStore) Get(ctx context.Context, id string) (*task.Task, error) {
	if id == s.target {
		s.once.Do(func() {
			go func() {
				defer close(s.done)
				_ = s.eng.DeleteTask(context.Background(), s.target)
			}()
		})
	}
	return s.Store.Get(ctx, id)
}

func TestAddDependency_ConcurrentDeleteLeavesNoDanglingEdge(t *testing.T) {
	racing := &deleteDuringGetStore{done: make(chan struct{})}
	f := newFixtureWith(t, func(s task.Store) task.Store {
		racing.Store = s
		return racing
	})
	racing.eng = f.eng
	ctx := context.Background()
	a := f.add(t, "a", task.TierLow, nil)
	b := f.add(t, "b", task.TierLow, nil)
	racing.target = b.ID

	require.NoError(t, f.eng.AddDependency(ctx, a.ID, b.ID))

	select {
	case <-racing.done:
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not finish")
	}
	_, err := f.store.Get(ctx, b.ID)
	assert.True(t, task.IsNotFound(err))
	edges, err := f.store.Edges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestRemoveDependency_MissingEdgeIsNotFound(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "a", task.TierLow, nil)
	b := f.add(t, "b", task.TierLow, nil)
	err := f.eng.RemoveDependency(context.Background(), a.ID, b.ID)
	assert.True(t, task.IsNotFound(err))
}

func TestDelegateAndReclaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "a", task.TierMedium, nil)

	got, err := f.eng.Delegate(ctx, a.ID, "sam", now.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, "sam", got.DelegatedTo)

	got, err = f.eng.Reclaim(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateActive, got.State)
	assert.Empty(t, got.DelegatedTo)
	assert.Nil(t, got.FollowUpDate)

	hist, err := f.store.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, task.OriginUser, hist[1].Origin)

	transitions := 0
	all, _ := f.bus.History(0)
	for _, ev := range all {
		if ev.Kind == events.KindTaskTransitioned {
			transitions++
		}
	}
	assert.Equal(t, 2, transitions)
}

func TestTransition_TerminalIsAbsorbing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "a", task.TierMedium, nil)
	_, err := f.eng.Trash(ctx, a.ID)
	require.NoError(t, err)

	_, err = f.eng.Reclaim(ctx, a.ID)
	var ie *task.IllegalTransitionError
	assert.True(t, errors.As(err, &ie))
}

func TestSetTier_ResetsRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.add(t, "a", task.TierHigh, nil)
	b := f.add(t, "b", task.TierHigh, nil)
	_, err := f.eng.Compare(ctx, a.ID, b.ID)
	require.NoError(t, err)

	got, err := f.eng.SetTier(ctx, a.ID, task.TierLow)
	require.NoError(t, err)
	assert.Equal(t, task.TierLow, got.Tier)
	assert.Equal(t, task.DefaultRating, got.Rating)
	assert.Equal(t, 0, got.ComparisonCount)

	stored, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.DefaultRating, stored.Rating)

	_, err = f.eng.SetTier(ctx, a.ID, task.Tier(7))
	var pe *task.PreconditionError
	assert.True(t, errors.As(err, &pe))
}

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t)
	var pe *task.PreconditionError
	_, err := f.eng.CreateTask(context.Background(), &task.Task{Tier: task.TierLow})
	assert.True(t, errors.As(err, &pe))
	_, err = f.eng.CreateTask(context.Background(), &task.Task{Title: "x"})
	assert.True(t, errors.As(err, &pe))
}
