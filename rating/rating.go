// Package rating implements the Elo-style pairwise comparison update used
// to break ties between equally important tasks.
package rating

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/focus/task"
)

// Config holds the comparison parameters.
type Config struct {
	KFactorNew         float64
	KFactorEstablished float64
	NewTaskThreshold   int     // comparisons before a task counts as established
	Epsilon            float64 // importance scores within Epsilon are equal
}

// DefaultConfig returns K=32 for new tasks, K=16 after 10 comparisons and
// an epsilon of 0.01.
func DefaultConfig() Config {
	return Config{
		KFactorNew:         32,
		KFactorEstablished: 16,
		NewTaskThreshold:   10,
		Epsilon:            0.01,
	}
}

// Validate rejects non-positive K factors and a negative epsilon.
func (c Config) Validate() error {
	if c.KFactorNew <= 0 || c.KFactorEstablished <= 0 {
		return fmt.Errorf("k factors must be positive (new=%v, established=%v)", c.KFactorNew, c.KFactorEstablished)
	}
	if c.NewTaskThreshold < 0 {
		return fmt.Errorf("new task threshold must not be negative")
	}
	if c.Epsilon < 0 {
		return fmt.Errorf("epsilon must not be negative")
	}
	return nil
}

// Expected is the expected score of a player rated a against one rated b.
func Expected(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

// Update returns the ratings after the player rated w beat the one rated l.
func Update(w, l, kWinner, kLoser float64) (float64, float64) {
	e := Expected(w, l)
	return w + kWinner*(1-e), l + kLoser*(0-(1-e))
}

// Equal reports whether two importance scores are within eps.
func Equal(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// Calculator applies comparison outcomes to tasks.
type Calculator struct {
	cfg Config
}

// NewCalculator returns a Calculator for cfg.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config returns the calculator's parameters.
func (c *Calculator) Config() Config { return c.cfg }

// KFactor is the K value for t, chosen from its own comparison count.
func (c *Calculator) KFactor(t *task.Task) float64 {
	if t.ComparisonCount < c.cfg.NewTaskThreshold {
		return c.cfg.KFactorNew
	}
	return c.cfg.KFactorEstablished
}

// Apply updates winner and loser in place and returns the comparison
// record to persist alongside them.
func (c *Calculator) Apply(winner, loser *task.Task, now time.Time) (task.ComparisonRecord, error) {
	if winner.ID == loser.ID {
		return task.ComparisonRecord{}, &task.PreconditionError{
			Op:     "compare",
			Reason: fmt.Sprintf("task %s cannot be compared with itself", winner.ID),
		}
	}

	kw, kl := c.KFactor(winner), c.KFactor(loser)
	winner.Rating, loser.Rating = Update(winner.Rating, loser.Rating, kw, kl)
	winner.ComparisonCount++
	loser.ComparisonCount++

	return task.ComparisonRecord{
		ID:                uuid.New().String(),
		WinnerID:          winner.ID,
		LoserID:           loser.ID,
		WinnerRatingAfter: winner.Rating,
		LoserRatingAfter:  loser.Rating,
		CreatedAt:         now,
	}, nil
}
