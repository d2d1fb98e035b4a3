package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eugenenazirov/stamp-calculator/internal/api"
	"github.com/eugenenazirov/stamp-calculator/internal/cache"
	"github.com/eugenenazirov/stamp-calculator/internal/calculator"
	"github.com/eugenenazirov/stamp-calculator/internal/config"
	"github.com/eugenenazirov/stamp-calculator/internal/planner"
	"github.com/eugenenazirov/stamp-calculator/internal/storage"
)

const redisPingTimeout = 2 * time.Second

// App encapsulates the application dependencies and HTTP server.
type App struct {
	storage storage.Storage
	cache   cache.Cache
	planner *planner.Planner
	handler *api.Handler
	router  http.Handler
	logger  *zap.Logger
	server  *http.Server
	closers []func() error
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	ctx := context.Background()

	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	app := &App{
		storage: store,
		logger:  logger,
		closers: []func() error{store.Close},
	}

	if err := app.prepareStorage(ctx, cfg); err != nil {
		_ = app.Close()
		return nil, err
	}

	app.cache = app.newCache(ctx, cfg.Redis)
	app.planner = planner.New(store, calculator.New(), logger,
		planner.WithCache(app.cache),
		planner.WithSearchTimeout(cfg.SearchTimeout),
	)

	app.handler = api.NewHandler(store, app.planner)
	app.router = api.NewRouter(app.handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithTrustedProxies(cfg.TrustedProxies...),
	)

	rootHandler, err := BuildRootHandler(app.router)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}
	app.server = NewServer(cfg, rootHandler)

	return app, nil
}

// prepareStorage seeds the default postage rates on first run and optionally loads the sample collection.
func (a *App) prepareStorage(ctx context.Context, cfg config.Config) error {
	seeded, err := storage.SeedDefaultRates(ctx, a.storage)
	if err != nil {
		return fmt.Errorf("failed to seed postage rates: %w", err)
	}
	if seeded > 0 {
		a.logger.Info("initial postage rates loaded", zap.Int("count", seeded))
	}

	if cfg.LoadSampleData {
		added, err := storage.LoadSampleData(ctx, a.storage)
		if err != nil {
			return fmt.Errorf("failed to load sample data: %w", err)
		}
		a.logger.Info("sample stamps loaded", zap.Int("count", len(added)))
	}

	a.logger.Info("storage ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("path", storagePath(cfg.Storage)),
	)
	return nil
}

// newCache connects to Redis when an address is configured. An unreachable
// Redis is not fatal: the cache's circuit breaker skips it until it recovers.
func (a *App) newCache(ctx context.Context, cfg config.RedisConfig) cache.Cache {
	if strings.TrimSpace(cfg.Addr) == "" {
		return cache.Nop{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("redis unavailable, results will be recomputed until it recovers",
			zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		a.logger.Info("result cache enabled", zap.String("addr", cfg.Addr), zap.Duration("ttl", cfg.TTL))
	}

	rc := cache.NewRedisCache(client, a.logger, cache.WithTTL(cfg.TTL))
	a.closers = append(a.closers, rc.Close)
	return rc
}

// BuildRootHandler constructs the root HTTP handler that routes API requests
// and describes the service at "/".
func BuildRootHandler(apiHandler http.Handler) (http.Handler, error) {
	if apiHandler == nil {
		return nil, errors.New("api handler is required")
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(serviceIndex))
	}))

	return mux, nil
}

const serviceIndex = `{"service":"stamp-calculator","endpoints":[` +
	`"GET /api/health",` +
	`"GET|POST|DELETE /api/stamps",` +
	`"GET|PATCH|DELETE /api/stamps/{id}",` +
	`"POST /api/stamps/consume",` +
	`"GET /api/rates",` +
	`"GET|PUT|DELETE /api/rates/{name}",` +
	`"POST /api/calculate"]}` + "\n"

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Close releases the cache client and the store, in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func storagePath(cfg config.StorageConfig) string {
	if cfg.Backend == storage.BackendMemory {
		return ""
	}
	return cfg.Path
}
