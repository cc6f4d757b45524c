package rating

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/focus/task"
)

func pair(wr, lr float64, wc, lc int) (*task.Task, *task.Task) {
	w, l := task.New("w", task.TierHigh), task.New("l", task.TierHigh)
	w.Rating, l.Rating = wr, lr
	w.ComparisonCount, l.ComparisonCount = wc, lc
	return w, l
}

func TestApply_EqualRatings(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	w, l := pair(1500, 1500, 0, 0)

	rec, err := c.Apply(w, l, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 1516, w.Rating, 1e-9)
	assert.InDelta(t, 1484, l.Rating, 1e-9)
	assert.Equal(t, 1, w.ComparisonCount)
	assert.Equal(t, 1, l.ComparisonCount)
	assert.Equal(t, w.Rating, rec.WinnerRatingAfter)
	assert.Equal(t, l.Rating, rec.LoserRatingAfter)
	assert.Equal(t, w.ID, rec.WinnerID)
	assert.NotEmpty(t, rec.ID)
}

func TestApply_MatchesClosedForm(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	for _, tc := range []struct {
		wr, lr float64
		wc, lc int
	}{
		{1500, 1500, 0, 0},
		{1700, 1300, 3, 20},
		{1200, 1800, 15, 2},
		{1500, 1500, 10, 10},
	} {
		w, l := pair(tc.wr, tc.lr, tc.wc, tc.lc)
		kw, kl := c.KFactor(w), c.KFactor(l)
		e := 1 / (1 + math.Pow(10, (tc.lr-tc.wr)/400))

		_, err := c.Apply(w, l, time.Now())
		require.NoError(t, err)

		dw, dl := w.Rating-tc.wr, l.Rating-tc.lr
		assert.Greater(t, dw, 0.0)
		assert.Less(t, dl, 0.0)
		assert.InDelta(t, kw*(1-e)+kl*(1-e), math.Abs(dw)+math.Abs(dl), 1e-9)
	}
}

func TestKFactor_PerParticipant(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	w, l := pair(1500, 1500, 9, 10)
	assert.Equal(t, 32.0, c.KFactor(w))
	assert.Equal(t, 16.0, c.KFactor(l))

	_, err := c.Apply(w, l, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 1516, w.Rating, 1e-9)
	assert.InDelta(t, 1492, l.Rating, 1e-9)
}

func TestApply_SelfComparisonRejected(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	w := task.New("w", task.TierLow)
	_, err := c.Apply(w, w, time.Now())
	var pre *task.PreconditionError
	assert.ErrorAs(t, err, &pre)
	assert.Equal(t, task.DefaultRating, w.Rating)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(4.5, 4.51, 0.01))
	assert.True(t, Equal(4.51, 4.5, 0.01))
	assert.False(t, Equal(4.5, 4.52, 0.01))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.KFactorNew = 0
	assert.Error(t, bad.Validate())
}
