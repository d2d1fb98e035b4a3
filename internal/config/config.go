package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/stamp-calculator/internal/cache"
	"github.com/eugenenazirov/stamp-calculator/internal/planner"
	"github.com/eugenenazirov/stamp-calculator/internal/storage"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultLogLevel       = "info"
	defaultDBPath         = "data/stamps.db"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
	// TrustedProxies lists the peers whose X-Forwarded-For header is believed.
	TrustedProxies       []netip.Prefix
	LogLevel             string

	Storage StorageConfig
	Redis   RedisConfig

	SearchTimeout  time.Duration
	LoadSampleData bool
}

// StorageConfig selects the inventory backend.
type StorageConfig struct {
	Backend string
	Path    string
}

// RedisConfig configures the optional result cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
	TrustedProxies       []string      `yaml:"trusted_proxies"`
	LogLevel             string        `yaml:"log_level"`
	Storage              yamlStorage   `yaml:"storage"`
	Redis                yamlRedis     `yaml:"redis"`
	SearchTimeout        string        `yaml:"search_timeout"`
	LoadSampleData       *bool         `yaml:"load_sample_data"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

type yamlStorage struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type yamlRedis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	TTL      string `yaml:"ttl"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	RateLimitRPS   *float64
	RateLimitBurst *int
	LogLevel       *string
	StorageBackend *string
	DBPath         *string
	RedisAddr      *string
	SearchTimeout  *time.Duration
	LoadSampleData *bool
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		LogLevel:             defaultLogLevel,
		Storage: StorageConfig{
			Backend: storage.BackendMemory,
			Path:    defaultDBPath,
		},
		Redis: RedisConfig{
			TTL: cache.DefaultTTL,
		},
		SearchTimeout: planner.DefaultSearchTimeout,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies the keys present in the YAML file.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
		{"search_timeout", yamlCfg.SearchTimeout, &cfg.SearchTimeout},
		{"redis.ttl", yamlCfg.Redis.TTL, &cfg.Redis.TTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
	if yamlCfg.TrustedProxies != nil {
		proxies, err := parseProxies(yamlCfg.TrustedProxies)
		if err != nil {
			return fmt.Errorf("trusted_proxies: %w", err)
		}
		cfg.TrustedProxies = proxies
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.Storage.Backend != "" {
		cfg.Storage.Backend = yamlCfg.Storage.Backend
	}
	if yamlCfg.Storage.Path != "" {
		cfg.Storage.Path = yamlCfg.Storage.Path
	}
	if yamlCfg.Redis.Addr != "" {
		cfg.Redis.Addr = yamlCfg.Redis.Addr
	}
	if yamlCfg.Redis.Password != "" {
		cfg.Redis.Password = yamlCfg.Redis.Password
	}
	if yamlCfg.Redis.DB != nil {
		cfg.Redis.DB = *yamlCfg.Redis.DB
	}
	if yamlCfg.LoadSampleData != nil {
		cfg.LoadSampleData = *yamlCfg.LoadSampleData
	}
	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	if port := env("PORT"); port != "" {
		cfg.Port = port
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		value, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = value
	}

	if burst := env("RATE_LIMIT_BURST"); burst != "" {
		value, err := strconv.Atoi(burst)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = value
	}

	if enabled := env("ENABLE_REQUEST_LOGGING"); enabled != "" {
		value, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("ENABLE_REQUEST_LOGGING: %w", err)
		}
		cfg.EnableRequestLogging = value
	}

	if proxies := env("TRUSTED_PROXIES"); proxies != "" {
		value, err := parseProxies(strings.Split(proxies, ","))
		if err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		cfg.TrustedProxies = value
	}

	if level := env("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if backend := env("STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := env("DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := env("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := env("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if db := env("REDIS_DB"); db != "" {
		value, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Redis.DB = value
	}

	if ttl := env("CACHE_TTL"); ttl != "" {
		value, err := time.ParseDuration(ttl)
		if err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
		cfg.Redis.TTL = value
	}

	if timeout := env("SEARCH_TIMEOUT"); timeout != "" {
		value, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("SEARCH_TIMEOUT: %w", err)
		}
		cfg.SearchTimeout = value
	}

	if sample := env("LOAD_SAMPLE_DATA"); sample != "" {
		value, err := strconv.ParseBool(sample)
		if err != nil {
			return fmt.Errorf("LOAD_SAMPLE_DATA: %w", err)
		}
		cfg.LoadSampleData = value
	}

	return nil
}

// parseProxies accepts CIDR ranges and bare addresses, which cover a single host.
func parseProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.StorageBackend != nil && *overrides.StorageBackend != "" {
		cfg.Storage.Backend = *overrides.StorageBackend
	}
	if overrides.DBPath != nil && *overrides.DBPath != "" {
		cfg.Storage.Path = *overrides.DBPath
	}
	if overrides.RedisAddr != nil && *overrides.RedisAddr != "" {
		cfg.Redis.Addr = *overrides.RedisAddr
	}
	if overrides.SearchTimeout != nil && *overrides.SearchTimeout > 0 {
		cfg.SearchTimeout = *overrides.SearchTimeout
	}
	if overrides.LoadSampleData != nil && *overrides.LoadSampleData {
		cfg.LoadSampleData = true
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	switch cfg.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendSQLite, storage.BackendBolt:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage backend %q requires a database path", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("%w: %q", storage.ErrUnknownBackend, cfg.Storage.Backend)
	}

	if cfg.Redis.DB < 0 {
		return fmt.Errorf("REDIS_DB must be >= 0")
	}
	if cfg.Redis.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if cfg.SearchTimeout < 0 {
		return fmt.Errorf("search timeout must be >= 0")
	}
	return nil
}
