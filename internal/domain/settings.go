package domain

import "time"

// Settings is the normalized runtime configuration for the catalog daemon.
// Durations are carried as seconds/hours integers (matching the config file
// surface) and converted through the helper methods below.
type Settings struct {
	Source        SourceSettings        `json:"source" yaml:"source"`
	Cache         CacheSettings         `json:"cache" yaml:"cache"`
	Health        HealthSettings        `json:"health" yaml:"health"`
	Sync          SyncSettings          `json:"sync" yaml:"sync"`
	Database      DatabaseSettings      `json:"database" yaml:"database"`
	Observability ObservabilitySettings `json:"observability" yaml:"observability"`
}

type SourceSettings struct {
	BaseURL               string `json:"baseUrl" yaml:"baseUrl"`
	FetchTimeoutSeconds   int    `json:"fetchTimeoutSeconds" yaml:"fetchTimeoutSeconds"`
	MaxAttempts           int    `json:"maxAttempts" yaml:"maxAttempts"`
	RetryBaseDelaySeconds int    `json:"retryBaseDelaySeconds" yaml:"retryBaseDelaySeconds"`
}

type CacheSettings struct {
	CatalogTTLSeconds    int `json:"catalogTtlSeconds" yaml:"catalogTtlSeconds"`
	ServiceTTLSeconds    int `json:"serviceTtlSeconds" yaml:"serviceTtlSeconds"`
	CategoryTTLSeconds   int `json:"categoryTtlSeconds" yaml:"categoryTtlSeconds"`
	MaxEntries           int `json:"maxEntries" yaml:"maxEntries"`
	DeltaLogSize         int `json:"deltaLogSize" yaml:"deltaLogSize"`
	SweepIntervalSeconds int `json:"sweepIntervalSeconds" yaml:"sweepIntervalSeconds"`
}

type HealthSettings struct {
	WindowHours int `json:"windowHours" yaml:"windowHours"`
	BufferSize  int `json:"bufferSize" yaml:"bufferSize"`
}

type SyncSettings struct {
	IntervalSeconds int  `json:"intervalSeconds" yaml:"intervalSeconds"`
	RunOnStartup    bool `json:"runOnStartup" yaml:"runOnStartup"`
}

type DatabaseSettings struct {
	Path string `json:"path" yaml:"path"`
}

type ObservabilitySettings struct {
	ListenAddress string `json:"listenAddress" yaml:"listenAddress"`
	EnableMetrics bool   `json:"enableMetrics" yaml:"enableMetrics"`
	EnableHealthz bool   `json:"enableHealthz" yaml:"enableHealthz"`
}

// FetchTimeout returns the external fetch timeout, defaulting when unset.
func (s SourceSettings) FetchTimeout() time.Duration {
	if s.FetchTimeoutSeconds <= 0 {
		return DefaultFetchTimeout
	}
	return time.Duration(s.FetchTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the linear backoff base delay, defaulting when unset.
func (s SourceSettings) RetryBaseDelay() time.Duration {
	if s.RetryBaseDelaySeconds <= 0 {
		return DefaultRetryBaseDelay
	}
	return time.Duration(s.RetryBaseDelaySeconds) * time.Second
}

// CatalogTTL returns the full-catalog cache TTL, defaulting when unset.
func (s CacheSettings) CatalogTTL() time.Duration {
	if s.CatalogTTLSeconds <= 0 {
		return DefaultCatalogTTL
	}
	return time.Duration(s.CatalogTTLSeconds) * time.Second
}

// ServiceTTL returns the single-entry cache TTL, defaulting when unset.
func (s CacheSettings) ServiceTTL() time.Duration {
	if s.ServiceTTLSeconds <= 0 {
		return DefaultServiceTTL
	}
	return time.Duration(s.ServiceTTLSeconds) * time.Second
}

// CategoryTTL returns the category breakdown cache TTL, defaulting when unset.
func (s CacheSettings) CategoryTTL() time.Duration {
	if s.CategoryTTLSeconds <= 0 {
		return DefaultCategoryTTL
	}
	return time.Duration(s.CategoryTTLSeconds) * time.Second
}

// SweepInterval returns the background sweep interval, defaulting when unset.
func (s CacheSettings) SweepInterval() time.Duration {
	if s.SweepIntervalSeconds <= 0 {
		return DefaultSweepInterval
	}
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// Window returns the sync-health observation window, defaulting when unset.
func (s HealthSettings) Window() time.Duration {
	if s.WindowHours <= 0 {
		return DefaultHealthWindow
	}
	return time.Duration(s.WindowHours) * time.Hour
}

// Interval returns the periodic sync interval, defaulting when unset.
func (s SyncSettings) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return DefaultSyncInterval
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}
