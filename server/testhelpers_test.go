package server

import (
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/focus/config"
	"github.com/GoCodeAlone/focus/engine"
	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/task"
)

// newTestServer returns a server wired to a temporary SQLite store.
// The admin password is "secret".
func newTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Server.Addr = ":0"
	cfg.Auth = config.AuthConfig{
		AdminUser:     "admin",
		AdminPassHash: string(hash),
		JWTSecret:     "test-secret-key-1234567890",
	}

	f, err := os.CreateTemp("", "focus-server-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })
	store, err := task.NewSQLiteStore(path, time.UTC)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewInMemoryBus(nil)
	ecfg := engine.DefaultConfig()
	ecfg.Location = time.UTC
	eng, err := engine.New(store, bus, ecfg, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	s := New(*cfg, "test", nil)
	s.SetEngine(eng)
	s.SetTaskStore(store)
	s.SetBus(bus)
	s.SetLocation(time.UTC)
	return s
}
