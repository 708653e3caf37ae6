package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Workers WorkerConfig
	Breaker BreakerConfig
	Replay  ReplayConfig
	Browser BrowserConfig
	Proxy   ProxyConfig
	Redis   RedisConfig
	Debug   DebugConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type WorkerConfig struct {
	Count         int
	JobTimeout    time.Duration
	GraceBuffer   time.Duration
	ResultTTL     time.Duration
	ReapInterval  time.Duration
	QueueCapacity int
}

type BreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

type ReplayConfig struct {
	MaxEntries   int
	TTL          time.Duration
	SnapshotPath string
}

type BrowserConfig struct {
	Headless        bool
	NavTimeout      time.Duration
	PoolSize        int
	ContextTTL      time.Duration
	ContextMaxUses  int
	StorageStateDir string
	Locale          string
	TimezoneID      string
}

type ProxyConfig struct {
	List           []string
	Cooldown       time.Duration
	MinSuccessRate float64
	MinSamples     int
	ProbeURL       string
	ProbeTimeout   time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// AlertChannel is the pub/sub channel breaker trip alerts go to.
	AlertChannel string
}

type DebugConfig struct {
	Enabled bool
	Dir     string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8085"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Workers: WorkerConfig{
			Count:         getIntOrDefault("LINKGEN_WORKERS", 2),
			JobTimeout:    getDurationOrDefault("LINKGEN_JOB_TIMEOUT", 180*time.Second),
			GraceBuffer:   getDurationOrDefault("LINKGEN_GRACE_BUFFER", 10*time.Second),
			ResultTTL:     getDurationOrDefault("LINKGEN_RESULT_TTL", time.Hour),
			ReapInterval:  getDurationOrDefault("LINKGEN_REAP_INTERVAL", time.Hour),
			QueueCapacity: getIntOrDefault("LINKGEN_QUEUE_CAPACITY", 1000),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getIntOrDefault("BREAKER_FAILURE_THRESHOLD", 3),
			OpenDuration:     getDurationOrDefault("BREAKER_OPEN_DURATION", 5*time.Minute),
		},
		Replay: ReplayConfig{
			MaxEntries:   getIntOrDefault("REPLAY_CACHE_MAX", 50),
			TTL:          getDurationOrDefault("REPLAY_CACHE_TTL", time.Hour),
			SnapshotPath: getEnvOrDefault("REPLAY_SNAPSHOT_PATH", "replay_cache.json"),
		},
		Browser: BrowserConfig{
			Headless:        getBoolOrDefault("BROWSER_HEADLESS", true),
			NavTimeout:      getDurationOrDefault("BROWSER_NAV_TIMEOUT", 30*time.Second),
			PoolSize:        getIntOrDefault("BROWSER_POOL_SIZE", 2),
			ContextTTL:      getDurationOrDefault("BROWSER_CONTEXT_TTL", 15*time.Minute),
			ContextMaxUses:  getIntOrDefault("BROWSER_CONTEXT_MAX_USES", 20),
			StorageStateDir: getEnvOrDefault("BROWSER_STORAGE_STATE_DIR", "storage_states"),
			Locale:          getEnvOrDefault("BROWSER_LOCALE", "ru-RU"),
			TimezoneID:      getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Moscow"),
		},
		Proxy: ProxyConfig{
			List:           getStringSliceOrDefault("PROXY_LIST", []string{}),
			Cooldown:       getDurationOrDefault("PROXY_COOLDOWN", 30*time.Second),
			MinSuccessRate: getFloatOrDefault("PROXY_MIN_SUCCESS_RATE", 50.0),
			MinSamples:     getIntOrDefault("PROXY_MIN_SAMPLES", 10),
			ProbeURL:       getEnvOrDefault("PROXY_PROBE_URL", "https://httpbin.org/ip"),
			ProbeTimeout:   getDurationOrDefault("PROXY_PROBE_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			AlertChannel: getEnvOrDefault("REDIS_ALERT_CHANNEL", "linkgen:alerts"),
		},
		Debug: DebugConfig{
			Enabled: getBoolOrDefault("DEBUG_ARTIFACTS", true),
			Dir:     getEnvOrDefault("DEBUG_DIR", "debug"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Workers.Count < 1 {
		return fmt.Errorf("LINKGEN_WORKERS must be at least 1")
	}

	if c.Workers.JobTimeout <= 0 {
		return fmt.Errorf("LINKGEN_JOB_TIMEOUT must be positive")
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}

	if c.Replay.MaxEntries < 1 {
		return fmt.Errorf("REPLAY_CACHE_MAX must be at least 1")
	}

	if c.Browser.PoolSize < 1 {
		return fmt.Errorf("BROWSER_POOL_SIZE must be at least 1")
	}

	if c.Proxy.MinSuccessRate < 0 || c.Proxy.MinSuccessRate > 100 {
		return fmt.Errorf("PROXY_MIN_SUCCESS_RATE must be between 0 and 100")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
