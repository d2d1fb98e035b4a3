package application

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/stamp-calculator/internal/cache"
	"github.com/eugenenazirov/stamp-calculator/internal/config"
	"github.com/eugenenazirov/stamp-calculator/internal/storage"
)

func TestNewInitializesDependencies(t *testing.T) {
	cfg := baseTestConfig(":8085")
	logger := zaptest.NewLogger(t)

	app, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	rates, err := app.storage.ListRates(context.Background())
	if err != nil {
		t.Fatalf("ListRates returned error: %v", err)
	}
	if len(rates) != len(storage.DefaultRates) {
		t.Fatalf("expected %d seeded rates, got %d", len(storage.DefaultRates), len(rates))
	}
	if _, ok := app.cache.(cache.Nop); !ok {
		t.Fatalf("expected no-op cache without redis address, got %T", app.cache)
	}
	if app.server == nil || app.router == nil || app.handler == nil || app.planner == nil {
		t.Fatalf("expected server, router, handler and planner to be initialized")
	}
	if app.Server() != app.server {
		t.Fatalf("Server accessor did not return underlying instance")
	}
}

func TestNewLoadsSampleData(t *testing.T) {
	cfg := baseTestConfig(":0")
	cfg.LoadSampleData = true

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	stamps, err := app.storage.ListStamps(context.Background())
	if err != nil {
		t.Fatalf("ListStamps returned error: %v", err)
	}
	if len(stamps) != len(storage.SampleStamps) {
		t.Fatalf("expected %d sample stamps, got %d", len(storage.SampleStamps), len(stamps))
	}
}

func TestNewWithSQLiteSeedsOnlyOnce(t *testing.T) {
	cfg := baseTestConfig(":0")
	cfg.Storage = config.StorageConfig{Backend: storage.BackendSQLite, Path: filepath.Join(t.TempDir(), "stamps.db")}

	first, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := first.storage.DeleteRate(context.Background(), storage.DefaultRates[0].Name); err != nil {
		t.Fatalf("DeleteRate returned error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	second, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error on reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	rates, err := second.storage.ListRates(context.Background())
	if err != nil {
		t.Fatalf("ListRates returned error: %v", err)
	}
	if len(rates) != len(storage.DefaultRates)-1 {
		t.Fatalf("expected reseeding to be skipped, got %d rates", len(rates))
	}
}

func TestNewWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseTestConfig(":0")
	cfg.Redis.Addr = mr.Addr()

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	if _, ok := app.cache.(*cache.RedisCache); !ok {
		t.Fatalf("expected redis cache, got %T", app.cache)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := baseTestConfig(":0")
	cfg.Storage.Backend = "mongo"

	if _, err := New(cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := baseTestConfig("9090")
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	if server.Addr != ":9090" {
		t.Fatalf("expected address :9090, got %s", server.Addr)
	}
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}
}

func TestRootHandlerServesIndexAndAPI(t *testing.T) {
	app, err := New(baseTestConfig(":0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	rec := httptest.NewRecorder()
	app.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for index, got %d", rec.Code)
	}
	var index struct {
		Service   string   `json:"service"`
		Endpoints []string `json:"endpoints"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&index); err != nil {
		t.Fatalf("failed to decode index: %v", err)
	}
	if index.Service != "stamp-calculator" || len(index.Endpoints) == 0 {
		t.Fatalf("unexpected index: %+v", index)
	}

	rec = httptest.NewRecorder()
	app.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rates", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 for rates, got %d", rec.Code)
	}
}

func TestBuildRootHandlerRequiresAPI(t *testing.T) {
	if _, err := BuildRootHandler(nil); err == nil {
		t.Fatalf("expected error for nil api handler")
	}
}

func baseTestConfig(port string) config.Config {
	return config.Config{
		Port:                 port,
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    20 * time.Millisecond,
		WriteTimeout:         30 * time.Millisecond,
		IdleTimeout:          40 * time.Millisecond,
		EnableRequestLogging: false,
		RateLimitRPS:         0,
		RateLimitBurst:       0,
		LogLevel:             "info",
		Storage:              config.StorageConfig{Backend: storage.BackendMemory},
		Redis:                config.RedisConfig{TTL: time.Minute},
		SearchTimeout:        time.Second,
	}
}

func TestBuildRootHandlerRouting(t *testing.T) {
	apiInvoked := false
	handler, err := BuildRootHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stamps/3" {
			t.Fatalf("unexpected path passed to API handler: %s", r.URL.Path)
		}
		apiInvoked = true
		w.WriteHeader(http.StatusNoContent)
	}))
	if err != nil {
		t.Fatalf("BuildRootHandler returned error: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown path, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/stamps/3", nil))
	if rec.Code != http.StatusNoContent || !apiInvoked {
		t.Fatalf("expected API handler to serve /api traffic, got %d", rec.Code)
	}
}
