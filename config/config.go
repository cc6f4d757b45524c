// Package config defines the focus daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/focus/engine"
	"github.com/GoCodeAlone/focus/priority"
	"github.com/GoCodeAlone/focus/rating"
	"github.com/GoCodeAlone/focus/resurface"
	"github.com/GoCodeAlone/focus/task"
)

// Config is the top-level focus configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	DataDir   string          `json:"data_dir" yaml:"data_dir"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9191"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser     string `json:"admin_user" yaml:"admin_user"`
	AdminPassHash string `json:"admin_pass_hash" yaml:"admin_pass_hash"` // bcrypt hash
}

// EngineConfig tunes scoring and comparisons.
type EngineConfig struct {
	KFactorNew         float64              `json:"k_factor_new" yaml:"k_factor_new"`
	KFactorEstablished float64              `json:"k_factor_established" yaml:"k_factor_established"`
	NewTaskThreshold   int                  `json:"new_task_threshold" yaml:"new_task_threshold"`
	ScoreEpsilon       float64              `json:"score_epsilon" yaml:"score_epsilon"`
	RatingCenter       float64              `json:"rating_center" yaml:"rating_center"`
	RatingSpread       float64              `json:"rating_spread" yaml:"rating_spread"`
	Bands              map[string][]float64 `json:"bands" yaml:"bands"` // tier name -> [min, max]
}

// SchedulerConfig controls the resurfacing jobs.
type SchedulerConfig struct {
	DeferredCheckInterval time.Duration `json:"deferred_check_interval" yaml:"deferred_check_interval"`
	DelegatedCheckAt      string        `json:"delegated_check_at" yaml:"delegated_check_at"`
	SomedayCheckInterval  time.Duration `json:"someday_check_interval" yaml:"someday_check_interval"`
	SomedayReviewDays     int           `json:"someday_review_days" yaml:"someday_review_days"`
	SomedayRenotify       time.Duration `json:"someday_renotify" yaml:"someday_renotify"`
	PostponeCheckAt       string        `json:"postpone_check_at" yaml:"postpone_check_at"`
	PostponeThreshold     int           `json:"postpone_threshold" yaml:"postpone_threshold"`
	PostponeWindowDays    int           `json:"postpone_window_days" yaml:"postpone_window_days"`
	StopTimeout           time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
	Timezone              string        `json:"timezone" yaml:"timezone"` // IANA name or "Local"
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	pc := priority.DefaultConfig()
	rc := rating.DefaultConfig()
	sc := resurface.DefaultConfig()
	bands := make(map[string][]float64, len(pc.Bands))
	for tier, b := range pc.Bands {
		bands[tier.String()] = []float64{b.Min, b.Max}
	}
	return &Config{
		Server: ServerConfig{
			Addr: ":9191",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		Engine: EngineConfig{
			KFactorNew:         rc.KFactorNew,
			KFactorEstablished: rc.KFactorEstablished,
			NewTaskThreshold:   rc.NewTaskThreshold,
			ScoreEpsilon:       rc.Epsilon,
			RatingCenter:       pc.RatingCenter,
			RatingSpread:       pc.RatingSpread,
			Bands:              bands,
		},
		Scheduler: SchedulerConfig{
			DeferredCheckInterval: sc.DeferredCheckInterval,
			DelegatedCheckAt:      sc.DelegatedCheckAt,
			SomedayCheckInterval:  sc.SomedayCheckInterval,
			SomedayReviewDays:     sc.SomedayReviewDays,
			SomedayRenotify:       sc.SomedayRenotify,
			PostponeCheckAt:       sc.PostponeCheckAt,
			PostponeThreshold:     sc.PostponeThreshold,
			PostponeWindowDays:    sc.PostponeWindowDays,
			StopTimeout:           sc.StopTimeout,
			Timezone:              "Local",
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	ec, err := c.EngineConfig()
	if err != nil {
		return err
	}
	if err := ec.Priority.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := ec.Rating.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	sc, err := c.SchedulerConfig()
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// Location resolves the scheduler timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Scheduler.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// EngineConfig converts the engine section for engine.New.
func (c *Config) EngineConfig() (engine.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return engine.Config{}, err
	}
	bands := make(map[task.Tier]priority.Band, len(c.Engine.Bands))
	for name, b := range c.Engine.Bands {
		tier, ok := task.ParseTier(name)
		if !ok {
			return engine.Config{}, fmt.Errorf("engine.bands: unknown tier %q", name)
		}
		if len(b) != 2 {
			return engine.Config{}, fmt.Errorf("engine.bands.%s: want [min, max]", name)
		}
		bands[tier] = priority.Band{Min: b[0], Max: b[1]}
	}
	return engine.Config{
		Priority: priority.Config{
			Bands:        bands,
			RatingCenter: c.Engine.RatingCenter,
			RatingSpread: c.Engine.RatingSpread,
		},
		Rating: rating.Config{
			KFactorNew:         c.Engine.KFactorNew,
			KFactorEstablished: c.Engine.KFactorEstablished,
			NewTaskThreshold:   c.Engine.NewTaskThreshold,
			Epsilon:            c.Engine.ScoreEpsilon,
		},
		Location: loc,
	}, nil
}

// SchedulerConfig converts the scheduler section for resurface.NewScheduler.
func (c *Config) SchedulerConfig() (resurface.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return resurface.Config{}, err
	}
	s := c.Scheduler
	return resurface.Config{
		DeferredCheckInterval: s.DeferredCheckInterval,
		DelegatedCheckAt:      s.DelegatedCheckAt,
		SomedayCheckInterval:  s.SomedayCheckInterval,
		SomedayReviewDays:     s.SomedayReviewDays,
		SomedayRenotify:       s.SomedayRenotify,
		PostponeCheckAt:       s.PostponeCheckAt,
		PostponeThreshold:     s.PostponeThreshold,
		PostponeWindowDays:    s.PostponeWindowDays,
		StopTimeout:           s.StopTimeout,
		Location:              loc,
	}, nil
}
