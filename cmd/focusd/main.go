// Command focusd is the focus server daemon. It owns the task database,
// runs the resurfacing scheduler and serves the REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/focus/config"
	"github.com/GoCodeAlone/focus/engine"
	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/internal/version"
	"github.com/GoCodeAlone/focus/resurface"
	"github.com/GoCodeAlone/focus/server"
	"github.com/GoCodeAlone/focus/task"
)

var (
	configPath   = flag.String("config", "focus.yaml", "path to config file")
	hashPassword = flag.String("hash-password", "", "print the bcrypt hash of a password for admin_pass_hash and exit")
	showVersion  = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("focusd"))
		return
	}
	if *hashPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*hashPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		fmt.Println(string(hash))
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	logger.Info("starting focusd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("focusd exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadConfig reads path, falling back to defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	scfg, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}

	store, err := task.NewSQLiteStore(filepath.Join(cfg.DataDir, "focus.db"), ecfg.Location)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewInMemoryBus(logger)
	eng, err := engine.New(store, bus, ecfg, logger)
	if err != nil {
		return err
	}
	sched, err := resurface.NewScheduler(store, bus, scfg, logger)
	if err != nil {
		return err
	}

	if cfg.Auth.AdminPassHash == "" {
		logger.Warn("auth.admin_pass_hash is empty; login is disabled (see -hash-password)")
	}
	srv := server.New(*cfg, version.Version, logger)
	srv.SetEngine(eng)
	srv.SetScheduler(sched)
	srv.SetTaskStore(store)
	srv.SetBus(bus)
	srv.SetLocation(ecfg.Location)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), scfg.StopTimeout)
		defer cancel()
		return errors.Join(
			srv.Stop(shutdownCtx),
			sched.Stop(shutdownCtx),
		)
	})
	return g.Wait()
}
