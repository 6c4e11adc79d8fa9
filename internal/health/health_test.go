package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Veri5ied/sightline/internal/health"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New(health.Checker{
		Name:  "broken",
		Check: func(context.Context) error { return errors.New("down") },
	})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestReadyz_AllPassing(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "a", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "b", Check: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	checks := body["checks"].(map[string]any)
	if checks["a"] != "ok" || checks["b"] != "ok" {
		t.Errorf("checks = %v, want both ok", checks)
	}
}

func TestReadyz_FailurePropagates(t *testing.T) {
	t.Parallel()

	h := health.New(
		health.Checker{Name: "good", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "bad", Check: func(context.Context) error { return errors.New("no API key configured") }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "fail" {
		t.Errorf("status field = %v, want fail", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["bad"] != "fail: no API key configured" {
		t.Errorf("bad check = %v, want the failure message", checks["bad"])
	}
	if checks["good"] != "ok" {
		t.Errorf("good check = %v, want ok", checks["good"])
	}
}

func TestRegister_Routes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	health.New().Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/api/health", "/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
