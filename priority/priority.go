// Package priority computes urgency, effective priority and importance of
// actionable tasks.
package priority

import (
	"fmt"
	"math"
	"time"

	"github.com/GoCodeAlone/focus/task"
)

// Urgency bounds.
const (
	MaxUrgency = 3.0
	MinUrgency = 1.0
)

// Band is the closed effective-priority interval of one tier.
type Band struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Config parameterizes the rating-to-band mapping.
type Config struct {
	Bands        map[task.Tier]Band
	RatingCenter float64
	RatingSpread float64 // center±spread maps to 5% and 95% of a band
}

// DefaultConfig returns the standard bands Low [0,1], Medium [1,2], High [2,3].
func DefaultConfig() Config {
	return Config{
		Bands: map[task.Tier]Band{
			task.TierLow:    {Min: 0, Max: 1},
			task.TierMedium: {Min: 1, Max: 2},
			task.TierHigh:   {Min: 2, Max: 3},
		},
		RatingCenter: task.DefaultRating,
		RatingSpread: 500,
	}
}

// Validate checks that bands exist for every tier and never overlap out of
// tier order.
func (c Config) Validate() error {
	if c.RatingSpread <= 0 {
		return fmt.Errorf("rating spread must be positive, got %v", c.RatingSpread)
	}
	prevMax := math.Inf(-1)
	for _, tier := range []task.Tier{task.TierLow, task.TierMedium, task.TierHigh} {
		b, ok := c.Bands[tier]
		if !ok {
			return fmt.Errorf("no band for tier %s", tier)
		}
		if b.Max <= b.Min {
			return fmt.Errorf("band for tier %s is empty: [%v, %v]", tier, b.Min, b.Max)
		}
		if b.Min < prevMax {
			return fmt.Errorf("band for tier %s overlaps the tier below", tier)
		}
		prevMax = b.Max
	}
	return nil
}

// Importance is the score of one task.
type Importance struct {
	TaskID            string  `json:"task_id"`
	Urgency           float64 `json:"urgency"`
	EffectivePriority float64 `json:"effective_priority"`
	Score             float64 `json:"score"`
}

// Scorer is stateless given a task snapshot and a clock reading; it is safe
// for concurrent use.
type Scorer struct {
	cfg   Config
	scale float64
}

// NewScorer returns a Scorer for cfg.
func NewScorer(cfg Config) *Scorer {
	// logistic(±ln 19) = 0.95 / 0.05
	return &Scorer{cfg: cfg, scale: cfg.RatingSpread / math.Log(19)}
}

// EffectivePriority maps the task's rating into its tier's band. The
// mapping is strictly increasing in rating and never leaves the band.
func (s *Scorer) EffectivePriority(t *task.Task) float64 {
	b := s.cfg.Bands[t.Tier]
	x := 1 / (1 + math.Exp(-(t.Rating-s.cfg.RatingCenter)/s.scale))
	v := b.Min + x*(b.Max-b.Min)
	return math.Min(b.Max, math.Max(b.Min, v))
}

// Urgency ranks the task's due date among the actionable set: the earliest
// due date scores MaxUrgency, the latest MinUrgency, and the rest are
// interpolated by day count. No due date scores MinUrgency. Overdue dates
// count as today.
func (s *Scorer) Urgency(t *task.Task, actionable []*task.Task, now time.Time) float64 {
	return urgencyIn(t, newWindow(actionable, now), now)
}

// Score returns the importance of t among the actionable set. Scoring a
// task that is not active is a caller error.
func (s *Scorer) Score(t *task.Task, actionable []*task.Task, now time.Time) (Importance, error) {
	if t.State != task.StateActive {
		return Importance{}, &task.PreconditionError{
			Op:     "score",
			Reason: fmt.Sprintf("task %s is %s, not active", t.ID, t.State),
		}
	}
	return s.score(t, newWindow(actionable, now), now), nil
}

// ScoreAll scores every task in the actionable set, in input order.
func (s *Scorer) ScoreAll(actionable []*task.Task, now time.Time) ([]Importance, error) {
	w := newWindow(actionable, now)
	out := make([]Importance, 0, len(actionable))
	for _, t := range actionable {
		if t.State != task.StateActive {
			return nil, &task.PreconditionError{
				Op:     "score",
				Reason: fmt.Sprintf("task %s is %s, not active", t.ID, t.State),
			}
		}
		out = append(out, s.score(t, w, now))
	}
	return out, nil
}

func (s *Scorer) score(t *task.Task, w window, now time.Time) Importance {
	u := urgencyIn(t, w, now)
	p := s.EffectivePriority(t)
	return Importance{TaskID: t.ID, Urgency: u, EffectivePriority: p, Score: u * p}
}

// window is the earliest and latest due day (as offsets from today) among
// the tasks that have one.
type window struct {
	earliest, latest int
	ok               bool
}

func newWindow(tasks []*task.Task, now time.Time) window {
	var w window
	for _, t := range tasks {
		if t.DueDate == nil {
			continue
		}
		d := dueOffset(t, now)
		if !w.ok {
			w = window{earliest: d, latest: d, ok: true}
			continue
		}
		w.earliest = min(w.earliest, d)
		w.latest = max(w.latest, d)
	}
	return w
}

func urgencyIn(t *task.Task, w window, now time.Time) float64 {
	if t.DueDate == nil {
		return MinUrgency
	}
	d := dueOffset(t, now)
	if !w.ok || w.latest == w.earliest || d <= w.earliest {
		return MaxUrgency
	}
	if d >= w.latest {
		return MinUrgency
	}
	frac := float64(d-w.earliest) / float64(w.latest-w.earliest)
	return MaxUrgency - frac*(MaxUrgency-MinUrgency)
}

func dueOffset(t *task.Task, now time.Time) int {
	return max(0, task.DaysBetween(now, *t.DueDate))
}
