package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/focus/events"
)

func TestSignAndVerifyJWT(t *testing.T) {
	secret := "my-test-secret"
	token, err := signJWT(secret, "alice", time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	subject, err := verifyJWT(secret, token)
	if err != nil {
		t.Fatalf("verifyJWT: %v", err)
	}
	if subject != "alice" {
		t.Errorf("expected subject 'alice', got %q", subject)
	}
}

func TestVerifyJWT_ExpiredToken(t *testing.T) {
	secret := "my-test-secret"
	token, err := signJWT(secret, "alice", time.Now().Add(-2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	if _, err := verifyJWT(secret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyJWT_BadSignature(t *testing.T) {
	token, _ := signJWT("correct-secret", "alice", time.Now(), time.Hour)
	if _, err := verifyJWT("wrong-secret", token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestVerifyJWT_Empty(t *testing.T) {
	if _, err := verifyJWT("secret", ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	body := `{"username":"admin","password":"secret"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["token"] == "" {
		t.Fatal("expected non-empty token in response")
	}
	return resp["token"]
}

func TestHandleLogin_Success(t *testing.T) {
	login(t, newTestServer(t))
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	s := newTestServer(t)

	body := `{"username":"admin","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/focus", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/focus", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res["kind"] != "empty" {
		t.Errorf("expected empty focus, got %v", res["kind"])
	}
}

func TestHandleMe_ReturnsTokenSubject(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["username"] != "admin" {
		t.Errorf("expected admin, got %q", resp["username"])
	}
}

func TestUserFrom(t *testing.T) {
	if _, ok := userFrom(context.Background()); ok {
		t.Error("expected no user on a bare context")
	}
	user, ok := userFrom(withUser(context.Background(), "bob"))
	if !ok || user != "bob" {
		t.Errorf("expected bob, got %q (%v)", user, ok)
	}
}

func TestStatus_IsPublic(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestSSE_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestSSE_StreamsBusEvents(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	// The connected line is written after the subscription exists.
	line, err := reader.ReadString('\n')
	if err != nil || !strings.Contains(line, "connected") {
		t.Fatalf("expected connected event, got %q (%v)", line, err)
	}

	if err := s.bus.Publish(ctx, &events.Event{Kind: events.KindSomedayReviewDue}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			if got := strings.TrimSpace(strings.TrimPrefix(line, "event: ")); got != string(events.KindSomedayReviewDue) {
				t.Fatalf("unexpected event %q", got)
			}
			return
		}
	}
}
