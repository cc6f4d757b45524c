package resurface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/task"
)

// Meta keys for job bookkeeping that must survive a restart.
const (
	metaSomedayReviewedAt   = "someday.last_review"
	metaSomedayAnnouncedAt  = "someday.last_announced"
	metaDeferredUnannounced = "deferred.unannounced" // JSON []string
	metaPostponeSuggested   = "postpone.suggested"   // JSON map: task ID -> count
)

// RunDeferredActivation activates every deferred task whose start date has
// been reached. All activations commit in one transaction; a task changed
// concurrently by the user is skipped and picked up next time if still due.
//
// The activation event is published even if ctx was cancelled after the
// commit. If publishing fails, the activated ids are kept and announced by
// the next run. It returns the ids announced.
func (s *Scheduler) RunDeferredActivation(ctx context.Context, now time.Time) ([]string, error) {
	now = now.In(s.cfg.location())
	var pending []string
	if _, err := s.metaJSON(ctx, metaDeferredUnannounced, &pending); err != nil {
		return nil, err
	}
	due, err := s.store.DeferredDueBy(ctx, task.DateOf(now))
	if err != nil {
		return nil, fmt.Errorf("load deferred tasks: %w", err)
	}
	if len(due) == 0 {
		return s.announceActivated(ctx, pending, now)
	}

	changes := make([]task.Change, 0, len(due))
	for _, t := range due {
		ch, err := task.Transition(t, task.StateActive, task.OriginScheduler, task.Fields{}, now)
		if err != nil {
			s.logger.Warn("skip deferred task", "task", t.ID, "error", err)
			continue
		}
		ts := now
		ch.Task.LastResurfacedAt = &ts
		ch.Task.ResurfaceCount++
		changes = append(changes, ch)
	}

	applied, err := s.store.Apply(ctx, changes...)
	if err != nil {
		if !task.IsStale(err) && !task.IsNotFound(err) {
			return nil, fmt.Errorf("activate deferred tasks: %w", err)
		}
		s.logger.Warn("deferred activation skipped conflicting tasks", "error", err)
	}
	if len(applied) > 0 {
		s.logger.Info("deferred tasks activated", "count", len(applied))
	}
	ids := pending
	for _, id := range applied {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return s.announceActivated(ctx, ids, now)
}

// announceActivated publishes one activation event for ids. Activations are
// already committed, so cancellation of ctx does not stop the announcement.
func (s *Scheduler) announceActivated(ctx context.Context, ids []string, now time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.bus.Publish(ctx, &events.Event{
		Kind:      events.KindDeferredActivated,
		TaskIDs:   ids,
		Timestamp: now,
	}); err != nil {
		err = fmt.Errorf("publish activation: %w", err)
		if serr := s.setMetaJSON(ctx, metaDeferredUnannounced, ids); serr != nil {
			return ids, errors.Join(err, serr)
		}
		return ids, err
	}
	if err := s.store.SetMeta(ctx, metaDeferredUnannounced, ""); err != nil {
		return ids, fmt.Errorf("clear unannounced activations: %w", err)
	}
	return ids, nil
}

// RunDelegatedFollowUp announces delegated tasks whose follow-up date has
// been reached. Delegated tasks are never transitioned automatically.
func (s *Scheduler) RunDelegatedFollowUp(ctx context.Context, now time.Time) ([]string, error) {
	now = now.In(s.cfg.location())
	due, err := s.store.DelegatedDueBy(ctx, task.DateOf(now))
	if err != nil {
		return nil, fmt.Errorf("load delegated tasks: %w", err)
	}
	if len(due) == 0 {
		return nil, nil
	}
	ids := make([]string, len(due))
	for i, t := range due {
		ids[i] = t.ID
	}
	if err := s.bus.Publish(ctx, &events.Event{
		Kind:      events.KindDelegatedFollowUpDue,
		TaskIDs:   ids,
		Timestamp: now,
	}); err != nil {
		return nil, fmt.Errorf("publish follow-up: %w", err)
	}
	return ids, nil
}

// RunSomedayReview announces a someday review when the review interval has
// elapsed since the last acknowledged review. An unacknowledged review is
// announced again at most once per renotify period. It reports whether an
// event was published.
func (s *Scheduler) RunSomedayReview(ctx context.Context, now time.Time) (bool, error) {
	last, ok, err := s.metaTime(ctx, metaSomedayReviewedAt)
	if err != nil {
		return false, err
	}
	if !ok {
		// First run: start the interval now rather than prompting at once.
		if err := s.setMetaTime(ctx, metaSomedayReviewedAt, now); err != nil {
			return false, err
		}
		return false, nil
	}
	interval := time.Duration(s.cfg.SomedayReviewDays) * 24 * time.Hour
	if now.Sub(last) < interval {
		return false, nil
	}

	announced, ok, err := s.metaTime(ctx, metaSomedayAnnouncedAt)
	if err != nil {
		return false, err
	}
	if ok && announced.After(last) && now.Sub(announced) < s.cfg.SomedayRenotify {
		return false, nil
	}

	someday, err := s.store.SomedayTasks(ctx)
	if err != nil {
		return false, fmt.Errorf("load someday tasks: %w", err)
	}
	if len(someday) == 0 {
		return false, nil
	}

	if err := s.bus.Publish(ctx, &events.Event{
		Kind:      events.KindSomedayReviewDue,
		Timestamp: now,
	}); err != nil {
		return false, fmt.Errorf("publish someday review: %w", err)
	}
	if err := s.setMetaTime(ctx, metaSomedayAnnouncedAt, now); err != nil {
		return true, err
	}
	return true, nil
}

// AcknowledgeSomedayReview records that the user completed a someday
// review, restarting the review interval.
func (s *Scheduler) AcknowledgeSomedayReview(ctx context.Context, now time.Time) error {
	return s.setMetaTime(ctx, metaSomedayReviewedAt, now)
}

// LastSomedayReview returns the time of the last acknowledged review.
func (s *Scheduler) LastSomedayReview(ctx context.Context) (time.Time, bool, error) {
	return s.metaTime(ctx, metaSomedayReviewedAt)
}

// RunPostponementAnalysis suggests an intervention for tasks postponed more
// than the threshold within the trailing window. A task is suggested again
// only after it has been postponed further. It returns the hints published.
func (s *Scheduler) RunPostponementAnalysis(ctx context.Context, now time.Time) (map[string][]events.Hint, error) {
	now = now.In(s.cfg.location())
	since := task.DateOf(now).AddDate(0, 0, -s.cfg.PostponeWindowDays)
	ps, err := s.store.PostponementsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load postponements: %w", err)
	}

	suggested := make(map[string]int)
	if _, err := s.metaJSON(ctx, metaPostponeSuggested, &suggested); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	reasons := make(map[string][]task.PostponeReason)
	var order []string
	for _, p := range ps {
		if counts[p.TaskID] == 0 {
			order = append(order, p.TaskID)
		}
		counts[p.TaskID]++
		reasons[p.TaskID] = append(reasons[p.TaskID], p.Reason)
	}

	// next keeps only tasks still over the threshold.
	next := make(map[string]int)
	hints := make(map[string][]events.Hint)
	var ids []string
	for _, id := range order {
		if counts[id] <= s.cfg.PostponeThreshold {
			continue
		}
		t, err := s.store.Get(ctx, id)
		if task.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load postponed task %s: %w", id, err)
		}
		if t.State.IsTerminal() {
			continue
		}
		if prev, ok := suggested[id]; ok && prev >= counts[id] {
			next[id] = prev
			continue
		}
		next[id] = counts[id]
		ids = append(ids, id)
		hints[id] = hintsFor(reasons[id])
	}

	if len(ids) > 0 {
		if err := s.bus.Publish(ctx, &events.Event{
			Kind:      events.KindPostponeIntervention,
			TaskIDs:   ids,
			Hints:     hints,
			Timestamp: now,
		}); err != nil {
			return nil, fmt.Errorf("publish intervention: %w", err)
		}
	}
	if !maps.Equal(next, suggested) {
		if err := s.setMetaJSON(ctx, metaPostponeSuggested, next); err != nil {
			return hints, err
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return hints, nil
}

// hintsFor maps postponement reasons to remediation hints, most frequent
// reason first. Postponements without a usable reason suggest a breakdown.
func hintsFor(rs []task.PostponeReason) []events.Hint {
	tally := make(map[events.Hint]int)
	var out []events.Hint
	for _, r := range rs {
		var h events.Hint
		switch r {
		case task.ReasonTooBig:
			h = events.HintBreakDown
		case task.ReasonBlocked:
			h = events.HintResolveBlocker
		case task.ReasonWaiting:
			h = events.HintAddDependency
		default:
			continue
		}
		if tally[h] == 0 {
			out = append(out, h)
		}
		tally[h]++
	}
	if len(out) == 0 {
		return []events.Hint{events.HintBreakDown}
	}
	slices.SortStableFunc(out, func(a, b events.Hint) int { return tally[b] - tally[a] })
	return out
}

func (s *Scheduler) metaTime(ctx context.Context, key string) (time.Time, bool, error) {
	v, ok, err := s.store.GetMeta(ctx, key)
	if err != nil || !ok || v == "" {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return ts, true, nil
}

func (s *Scheduler) setMetaTime(ctx context.Context, key string, ts time.Time) error {
	return s.store.SetMeta(ctx, key, ts.UTC().Format(time.RFC3339Nano))
}

// metaJSON decodes the meta value at key into v. It reports false when the
// key is unset or empty.
func (s *Scheduler) metaJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.store.GetMeta(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return true, nil
}

func (s *Scheduler) setMetaJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.store.SetMeta(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
