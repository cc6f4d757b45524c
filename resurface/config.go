package resurface

import (
	"fmt"
	"time"
)

// Config holds the resurfacing intervals and thresholds.
type Config struct {
	DeferredCheckInterval time.Duration
	DelegatedCheckAt      string // "15:04", daily
	SomedayCheckInterval  time.Duration
	SomedayReviewDays     int
	SomedayRenotify       time.Duration
	PostponeCheckAt       string // "15:04", daily
	PostponeThreshold     int
	PostponeWindowDays    int
	StopTimeout           time.Duration
	Location              *time.Location
}

// DefaultConfig returns the stock schedule.
func DefaultConfig() Config {
	return Config{
		DeferredCheckInterval: time.Hour,
		DelegatedCheckAt:      "09:00",
		SomedayCheckInterval:  time.Hour,
		SomedayReviewDays:     7,
		SomedayRenotify:       24 * time.Hour,
		PostponeCheckAt:       "10:00",
		PostponeThreshold:     3,
		PostponeWindowDays:    14,
		StopTimeout:           10 * time.Second,
		Location:              time.Local,
	}
}

// Validate checks that every interval is usable.
func (c Config) Validate() error {
	if c.DeferredCheckInterval <= 0 {
		return fmt.Errorf("deferred check interval must be positive")
	}
	if c.SomedayCheckInterval <= 0 {
		return fmt.Errorf("someday check interval must be positive")
	}
	if c.SomedayReviewDays < 1 {
		return fmt.Errorf("someday review days must be at least 1")
	}
	if c.SomedayRenotify < 0 {
		return fmt.Errorf("someday renotify must not be negative")
	}
	if c.PostponeThreshold < 1 {
		return fmt.Errorf("postpone threshold must be at least 1")
	}
	if c.PostponeWindowDays < 1 {
		return fmt.Errorf("postpone window days must be at least 1")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive")
	}
	if _, err := dailySpec(c.DelegatedCheckAt); err != nil {
		return fmt.Errorf("delegated check time: %w", err)
	}
	if _, err := dailySpec(c.PostponeCheckAt); err != nil {
		return fmt.Errorf("postpone check time: %w", err)
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// dailySpec turns "HH:MM" into a five-field cron expression.
func dailySpec(at string) (string, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return "", fmt.Errorf("invalid time of day %q", at)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
