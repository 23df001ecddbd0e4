package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestHealthHandler_Healthy(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)

	stats := func() *PoolStats { return &PoolStats{TotalConns: 2, MaxConns: 10, Healthy: true} }
	h := healthHandler(func(context.Context) error { return nil }, stats, time.Second)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status string    `json:"status"`
		Pool   PoolStats `json:"pool"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" || body.Pool.MaxConns != 10 {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHealthHandler_PingFails(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)

	stats := func() *PoolStats { return &PoolStats{TotalConns: 1, Healthy: true} }
	h := healthHandler(func(context.Context) error { return errors.New("connection refused") }, stats, 0)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "unhealthy" || body["error"] != "connection refused" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	pool, _ := body["pool"].(map[string]interface{})
	if pool["healthy"] != false {
		t.Errorf("expected pool marked unhealthy, got %v", pool["healthy"])
	}
}

func TestHealthHandler_PingDeadline(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), httptest.NewRecorder())

	var deadline time.Time
	ping := func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	}
	start := time.Now()
	healthHandler(ping, func() *PoolStats { return &PoolStats{} }, 250*time.Millisecond)(c)

	if deadline.IsZero() || deadline.Sub(start) > time.Second {
		t.Errorf("expected ping deadline near 250ms, got %v", deadline.Sub(start))
	}
}
