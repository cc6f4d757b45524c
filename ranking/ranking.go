// Package ranking selects the single task to work on next.
package ranking

import (
	"cmp"
	"slices"
	"time"

	"github.com/GoCodeAlone/focus/priority"
	"github.com/GoCodeAlone/focus/rating"
	"github.com/GoCodeAlone/focus/task"
)

// Kind distinguishes the three possible focus outcomes.
type Kind string

const (
	KindEmpty  Kind = "empty"
	KindSingle Kind = "single"
	KindTied   Kind = "tied"
)

// Scored pairs a task with its importance.
type Scored struct {
	Task       *task.Task          `json:"task"`
	Importance priority.Importance `json:"importance"`
}

// FocusResult is the outcome of SelectFocus. For KindSingle, Task is set;
// for KindTied, Tied holds two or more tasks the user must compare.
type FocusResult struct {
	Kind Kind      `json:"kind"`
	Task *Scored   `json:"task,omitempty"`
	Tied []*Scored `json:"tied,omitempty"`
}

// IDs returns the IDs of every task in the result.
func (r FocusResult) IDs() []string {
	switch r.Kind {
	case KindSingle:
		return []string{r.Task.Task.ID}
	case KindTied:
		ids := make([]string, len(r.Tied))
		for i, s := range r.Tied {
			ids[i] = s.Task.ID
		}
		return ids
	default:
		return nil
	}
}

// Ranker combines the scorer with tie detection.
type Ranker struct {
	scorer  *priority.Scorer
	epsilon float64
}

// NewRanker returns a Ranker that treats scores within epsilon as equal.
func NewRanker(scorer *priority.Scorer, epsilon float64) *Ranker {
	return &Ranker{scorer: scorer, epsilon: epsilon}
}

// SelectFocus scores the actionable tasks and returns the single most
// important one, or every task within epsilon of the maximum when more
// than one qualifies. It never picks among ties on its own. The caller
// must have removed blocked and non-active tasks.
func (r *Ranker) SelectFocus(actionable []*task.Task, now time.Time) (FocusResult, error) {
	if len(actionable) == 0 {
		return FocusResult{Kind: KindEmpty}, nil
	}
	scores, err := r.scorer.ScoreAll(actionable, now)
	if err != nil {
		return FocusResult{}, err
	}
	if len(actionable) == 1 {
		return FocusResult{Kind: KindSingle, Task: &Scored{Task: actionable[0], Importance: scores[0]}}, nil
	}

	best := scores[0].Score
	for _, s := range scores[1:] {
		best = max(best, s.Score)
	}
	var top []*Scored
	for i, s := range scores {
		if rating.Equal(s.Score, best, r.epsilon) {
			top = append(top, &Scored{Task: actionable[i], Importance: s})
		}
	}
	if len(top) == 1 {
		return FocusResult{Kind: KindSingle, Task: top[0]}, nil
	}
	slices.SortStableFunc(top, byScoreDesc)
	return FocusResult{Kind: KindTied, Tied: top}, nil
}

// Rank returns every actionable task ordered by importance, highest first.
// Equal scores keep input order.
func (r *Ranker) Rank(actionable []*task.Task, now time.Time) ([]*Scored, error) {
	scores, err := r.scorer.ScoreAll(actionable, now)
	if err != nil {
		return nil, err
	}
	out := make([]*Scored, len(actionable))
	for i := range actionable {
		out[i] = &Scored{Task: actionable[i], Importance: scores[i]}
	}
	slices.SortStableFunc(out, byScoreDesc)
	return out, nil
}

func byScoreDesc(a, b *Scored) int {
	return cmp.Compare(b.Importance.Score, a.Importance.Score)
}
