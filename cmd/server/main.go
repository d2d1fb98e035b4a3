package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/stamp-calculator/internal/application"
	"github.com/eugenenazirov/stamp-calculator/internal/config"
	"github.com/eugenenazirov/stamp-calculator/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	overrides, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "invalid command line")

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)

	if err := app.Close(); err != nil {
		logger.Warn("failed to release resources", zap.Error(err))
	}
}

// parseFlags maps command-line flags onto config overrides. Flags left at their
// zero value do not override lower-precedence sources.
func parseFlags(args []string) (*config.CLIOverrides, error) {
	kingpinApp := kingpin.New("stamp-calculator", "Stamp Calculator - tracks a stamp collection and finds stamp combinations that cover a postage rate")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	rateLimitRPS := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed per client (set 0 to disable)").Default("-1").Float64()
	rateLimitBurst := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	storageBackend := kingpinApp.Flag("storage", "Inventory backend").Enum("", "memory", "sqlite", "bolt")
	dbPath := kingpinApp.Flag("db-path", "Database file for the sqlite and bolt backends").String()
	redisAddr := kingpinApp.Flag("redis-addr", "Redis address for the result cache (empty disables caching)").String()
	searchTimeout := kingpinApp.Flag("search-timeout", "Upper bound on a single combination search").Duration()
	loadSampleData := kingpinApp.Flag("load-sample-data", "Populate the inventory with sample stamps on startup").Bool()

	if _, err := kingpinApp.Parse(args); err != nil {
		return nil, err
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
	}
	if *port != "" {
		overrides.Port = port
	}
	if *rateLimitRPS >= 0 {
		overrides.RateLimitRPS = rateLimitRPS
	}
	if *rateLimitBurst >= 0 {
		overrides.RateLimitBurst = rateLimitBurst
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}
	if *storageBackend != "" {
		overrides.StorageBackend = storageBackend
	}
	if *dbPath != "" {
		overrides.DBPath = dbPath
	}
	if *redisAddr != "" {
		overrides.RedisAddr = redisAddr
	}
	if *searchTimeout > 0 {
		overrides.SearchTimeout = searchTimeout
	}
	if *loadSampleData {
		overrides.LoadSampleData = loadSampleData
	}
	return overrides, nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
