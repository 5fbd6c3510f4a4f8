package web

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"twitchdropsfarmer/internal/config"
	"twitchdropsfarmer/internal/miner"
)

type fakeSource struct{}

func (fakeSource) Status() miner.Status {
	return miner.Status{LoggedInAs: "teststreamer", CurrentState: "IDLE"}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{DataDir: dir}
}

func TestHandleHealthz(t *testing.T) {
	cfg := testConfig(t)
	s := NewServer(cfg, fakeSource{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, err := os.Stat(cfg.HealthcheckPath()); err != nil {
		t.Fatalf("expected healthcheck file to be written: %v", err)
	}
}

func TestHandleStatus(t *testing.T) {
	cfg := testConfig(t)
	s := NewServer(cfg, fakeSource{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("expected a non-empty status body")
	}
}

func TestRateLimitMiddlewareBlocksAfterThreshold(t *testing.T) {
	cfg := testConfig(t)
	s := NewServer(cfg, fakeSource{})
	router := s.Router()

	var last int
	for i := 0; i < 130; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.5:1234"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected the rate limiter to trip after 120 requests, last status was %d", last)
	}
}
