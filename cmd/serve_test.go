package cmd

import (
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/khanhnv2901/tlsinspect/internal/scoring"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"go.uber.org/zap/zaptest"
)

func TestNewAPIServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Serve.AuthToken = "s3cret"
	fake := &fakeInspector{}

	server, jobs, err := newAPIServer(cfg, fake, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newAPIServer: %v", err)
	}
	t.Cleanup(jobs.Close)
	t.Cleanup(server.Close)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready = %d, want 200: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/inspect", strings.NewReader(`{"hostname":"a.example"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("inspect without token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/inspect", strings.NewReader(`{"hostname":"a.example","port":8443}`))
	req.Header.Set("X-Auth-Token", "s3cret")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("inspect = %d, want 200: %s", rec.Code, rec.Body)
	}
	var verdict scoring.Verdict
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if verdict.Host != "a.example" || verdict.Port != 8443 || verdict.Grade != "A" {
		t.Errorf("verdict = %+v", verdict)
	}
}

func TestNewAPIServerRejectsBadRunner(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runner.Concurrency = 0

	_, _, err := newAPIServer(cfg, &fakeInspector{}, zaptest.NewLogger(t))
	if !errors.Is(err, apperrors.ErrInvalidRunnerConfig) {
		t.Fatalf("error = %v, want ErrInvalidRunnerConfig", err)
	}
}

func TestServiceHealth(t *testing.T) {
	cfg := testConfig(t)
	_, jobs, err := newAPIServer(cfg, &fakeInspector{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("newAPIServer: %v", err)
	}

	h := &serviceHealth{inspector: &fakeInspector{}, jobs: jobs}
	if err := h.Check(context.Background()); err != nil {
		t.Errorf("Check = %v", err)
	}
	if err := h.Ready(context.Background()); err != nil {
		t.Errorf("Ready = %v", err)
	}

	jobs.Close()
	if err := h.Ready(context.Background()); err == nil {
		t.Error("Ready should fail once the job manager is closed")
	}
	if err := (&serviceHealth{jobs: jobs}).Ready(context.Background()); err == nil {
		t.Error("Ready should fail without an engine")
	}
}
