package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"catalogd/internal/domain"
)

// envVarPattern matches ${VAR} references in config files.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("CATALOGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	// baseUrl defaults empty so env overrides bind even without a file entry.
	v.SetDefault("source.baseUrl", "")
	v.SetDefault("source.fetchTimeoutSeconds", int(domain.DefaultFetchTimeout.Seconds()))
	v.SetDefault("source.maxAttempts", domain.DefaultMaxAttempts)
	v.SetDefault("source.retryBaseDelaySeconds", int(domain.DefaultRetryBaseDelay.Seconds()))
	v.SetDefault("cache.catalogTtlSeconds", int(domain.DefaultCatalogTTL.Seconds()))
	v.SetDefault("cache.serviceTtlSeconds", int(domain.DefaultServiceTTL.Seconds()))
	v.SetDefault("cache.categoryTtlSeconds", int(domain.DefaultCategoryTTL.Seconds()))
	v.SetDefault("cache.maxEntries", domain.DefaultMaxCacheEntries)
	v.SetDefault("cache.deltaLogSize", domain.DefaultDeltaLogSize)
	v.SetDefault("cache.sweepIntervalSeconds", int(domain.DefaultSweepInterval.Seconds()))
	v.SetDefault("health.windowHours", int(domain.DefaultHealthWindow.Hours()))
	v.SetDefault("health.bufferSize", domain.DefaultHealthBufferSize)
	v.SetDefault("sync.intervalSeconds", int(domain.DefaultSyncInterval.Seconds()))
	v.SetDefault("sync.runOnStartup", true)
	v.SetDefault("database.path", domain.DefaultDatabasePath)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
	v.SetDefault("observability.enableMetrics", true)
	v.SetDefault("observability.enableHealthz", true)
}

type rawConfig struct {
	Source        rawSourceConfig        `mapstructure:"source"`
	Cache         rawCacheConfig         `mapstructure:"cache"`
	Health        rawHealthConfig        `mapstructure:"health"`
	Sync          rawSyncConfig          `mapstructure:"sync"`
	Database      rawDatabaseConfig      `mapstructure:"database"`
	Observability rawObservabilityConfig `mapstructure:"observability"`
}

type rawSourceConfig struct {
	BaseURL               string `mapstructure:"baseUrl"`
	FetchTimeoutSeconds   int    `mapstructure:"fetchTimeoutSeconds"`
	MaxAttempts           int    `mapstructure:"maxAttempts"`
	RetryBaseDelaySeconds int    `mapstructure:"retryBaseDelaySeconds"`
}

type rawCacheConfig struct {
	CatalogTTLSeconds    int `mapstructure:"catalogTtlSeconds"`
	ServiceTTLSeconds    int `mapstructure:"serviceTtlSeconds"`
	CategoryTTLSeconds   int `mapstructure:"categoryTtlSeconds"`
	MaxEntries           int `mapstructure:"maxEntries"`
	DeltaLogSize         int `mapstructure:"deltaLogSize"`
	SweepIntervalSeconds int `mapstructure:"sweepIntervalSeconds"`
}

type rawHealthConfig struct {
	WindowHours int `mapstructure:"windowHours"`
	BufferSize  int `mapstructure:"bufferSize"`
}

type rawSyncConfig struct {
	IntervalSeconds int  `mapstructure:"intervalSeconds"`
	RunOnStartup    bool `mapstructure:"runOnStartup"`
}

type rawDatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
	EnableMetrics bool   `mapstructure:"enableMetrics"`
	EnableHealthz bool   `mapstructure:"enableHealthz"`
}

// Load reads the config file at path, applies CATALOGD_* environment
// overrides, and returns normalized settings. An empty path loads
// defaults plus environment only.
func (l *Loader) Load(ctx context.Context, path string) (domain.Settings, error) {
	v := newConfigViper()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.Settings{}, fmt.Errorf("read config: %w", err)
		}

		expanded, missing := expandConfigEnv(data)
		if len(missing) > 0 {
			l.logger.Warn("missing environment variables in config",
				zap.String("path", path),
				zap.Strings("missing", missing),
			)
		}

		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return domain.Settings{}, fmt.Errorf("parse config: %w", err)
		}
	}

	var cfg rawConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return domain.Settings{}, err
	}

	settings, errs := normalize(cfg)
	if len(errs) > 0 {
		return domain.Settings{}, errors.New(strings.Join(errs, "; "))
	}
	return settings, nil
}

func normalize(cfg rawConfig) (domain.Settings, []string) {
	var errs []string

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Source.BaseURL), "/")
	if baseURL != "" {
		if parsed, err := url.ParseRequestURI(baseURL); err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			errs = append(errs, "source.baseUrl must be a valid http(s) URL")
		}
	}
	if cfg.Source.FetchTimeoutSeconds <= 0 {
		errs = append(errs, "source.fetchTimeoutSeconds must be > 0")
	}
	if cfg.Source.MaxAttempts < 1 {
		errs = append(errs, "source.maxAttempts must be >= 1")
	}
	if cfg.Source.RetryBaseDelaySeconds < 0 {
		errs = append(errs, "source.retryBaseDelaySeconds must be >= 0")
	}

	if cfg.Cache.CatalogTTLSeconds <= 0 {
		errs = append(errs, "cache.catalogTtlSeconds must be > 0")
	}
	if cfg.Cache.ServiceTTLSeconds <= 0 {
		errs = append(errs, "cache.serviceTtlSeconds must be > 0")
	}
	if cfg.Cache.CategoryTTLSeconds <= 0 {
		errs = append(errs, "cache.categoryTtlSeconds must be > 0")
	}
	if cfg.Cache.MaxEntries < 1 {
		errs = append(errs, "cache.maxEntries must be >= 1")
	}
	if cfg.Cache.DeltaLogSize < 1 {
		errs = append(errs, "cache.deltaLogSize must be >= 1")
	}
	if cfg.Cache.SweepIntervalSeconds <= 0 {
		errs = append(errs, "cache.sweepIntervalSeconds must be > 0")
	}

	if cfg.Health.WindowHours <= 0 {
		errs = append(errs, "health.windowHours must be > 0")
	}
	if cfg.Health.BufferSize < 1 {
		errs = append(errs, "health.bufferSize must be >= 1")
	}

	if cfg.Sync.IntervalSeconds <= 0 {
		errs = append(errs, "sync.intervalSeconds must be > 0")
	}

	dbPath := strings.TrimSpace(cfg.Database.Path)
	if dbPath == "" {
		errs = append(errs, "database.path is required")
	}

	listenAddr := strings.TrimSpace(cfg.Observability.ListenAddress)
	if listenAddr == "" {
		listenAddr = domain.DefaultObservabilityListenAddress
	}

	return domain.Settings{
		Source: domain.SourceSettings{
			BaseURL:               baseURL,
			FetchTimeoutSeconds:   cfg.Source.FetchTimeoutSeconds,
			MaxAttempts:           cfg.Source.MaxAttempts,
			RetryBaseDelaySeconds: cfg.Source.RetryBaseDelaySeconds,
		},
		Cache: domain.CacheSettings{
			CatalogTTLSeconds:    cfg.Cache.CatalogTTLSeconds,
			ServiceTTLSeconds:    cfg.Cache.ServiceTTLSeconds,
			CategoryTTLSeconds:   cfg.Cache.CategoryTTLSeconds,
			MaxEntries:           cfg.Cache.MaxEntries,
			DeltaLogSize:         cfg.Cache.DeltaLogSize,
			SweepIntervalSeconds: cfg.Cache.SweepIntervalSeconds,
		},
		Health: domain.HealthSettings{
			WindowHours: cfg.Health.WindowHours,
			BufferSize:  cfg.Health.BufferSize,
		},
		Sync: domain.SyncSettings{
			IntervalSeconds: cfg.Sync.IntervalSeconds,
			RunOnStartup:    cfg.Sync.RunOnStartup,
		},
		Database: domain.DatabaseSettings{
			Path: dbPath,
		},
		Observability: domain.ObservabilitySettings{
			ListenAddress: listenAddr,
			EnableMetrics: cfg.Observability.EnableMetrics,
			EnableHealthz: cfg.Observability.EnableHealthz,
		},
	}, errs
}

// expandConfigEnv substitutes ${VAR} references with environment values and
// reports the names that were not set.
func expandConfigEnv(data []byte) (string, []string) {
	var missing []string
	seen := make(map[string]struct{})

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
			return ""
		}
		return value
	})
	return expanded, missing
}
