package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	GRPC        GRPCConfig
	Worker      WorkerConfig
	Alerts      AlertsConfig
	Broadcast   BroadcastConfig
	Telegram    TelegramConfig
	Weather     WeatherConfig
	DB          DatabaseConfig
	Subscribers SubscribersConfig
	Media       MediaConfig
	Logging     LoggingConfig

	ShutdownGrace time.Duration
	CycleTimeout  time.Duration
	RateLimitRPS  float64
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host string
	Port int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type AlertsConfig struct {
	URL            string
	Token          string
	CacheTTL       time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
	PollInterval   time.Duration
	PollingEnabled bool
}

type BroadcastConfig struct {
	Enabled  bool
	Location string
	ChatIDs  []string
	Interval time.Duration
}

type TelegramConfig struct {
	Token          string
	APIURL         string
	Timeout        time.Duration
	PollingEnabled bool
}

type WeatherConfig struct {
	APIKey  string
	URL     string
	Timeout time.Duration
}

type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

type SubscribersConfig struct {
	CacheTTL time.Duration
}

type MediaConfig struct {
	AlertURLs []string
	ClearURLs []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	pollInterval := getEnvDuration("POLL_INTERVAL", 30*time.Second)

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 3002),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 4),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Alerts: AlertsConfig{
			URL:            getEnv("ALERTS_API_URL", "https://api.alerts.in.ua/v1/alerts/active.json"),
			Token:          getEnv("ALERTS_API_TOKEN", ""),
			CacheTTL:       getEnvDuration("ALERTS_CACHE_TTL", 15*time.Second),
			MaxRetries:     getEnvInt("ALERTS_MAX_RETRIES", 3),
			RetryBaseDelay: getEnvDuration("ALERTS_RETRY_BASE_DELAY", time.Second),
			Timeout:        getEnvDuration("ALERTS_TIMEOUT", 10*time.Second),
			PollInterval:   pollInterval,
			PollingEnabled: getEnvBool("POLLING_ENABLED", true),
		},
		Broadcast: BroadcastConfig{
			Enabled:  getEnvBool("BROADCAST_ENABLED", true),
			Location: getEnv("BROADCAST_LOCATION", "24"),
			ChatIDs:  getEnvList("BROADCAST_CHAT_IDS", getEnvList("TELEGRAM_CHAT_IDS", nil)),
			Interval: getEnvDuration("BROADCAST_INTERVAL", pollInterval),
		},
		Telegram: TelegramConfig{
			Token:          getEnv("TELEGRAM_BOT_TOKEN", ""),
			APIURL:         getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			Timeout:        getEnvDuration("TELEGRAM_TIMEOUT", 10*time.Second),
			PollingEnabled: getEnvBool("BOT_POLLING_ENABLED", false),
		},
		Weather: WeatherConfig{
			APIKey:  getEnv("OPENWEATHERMAP_API_KEY", ""),
			URL:     getEnv("OPENWEATHERMAP_URL", "https://api.openweathermap.org/data/2.5/weather"),
			Timeout: getEnvDuration("OPENWEATHERMAP_TIMEOUT", 10*time.Second),
		},
		DB: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite"),
			Path:   getEnv("DB_PATH", "./data/raid-alerts.db"),
			DSN:    getEnv("DB_DSN", ""),
		},
		Subscribers: SubscribersConfig{
			CacheTTL: getEnvDuration("SUBSCRIBER_CACHE_TTL", 5*time.Second),
		},
		Media: MediaConfig{
			AlertURLs: getEnvList("MEDIA_ALERT_URLS", nil),
			ClearURLs: getEnvList("MEDIA_CLEAR_URLS", nil),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", 500*time.Millisecond),
		CycleTimeout:  getEnvDuration("CYCLE_TIMEOUT", 25*time.Second),
		RateLimitRPS:  getEnvFloat("RATE_LIMIT_RPS", 5),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("invalid log format: %s", c.Logging.Format))
	}

	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite"))
		}
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("DB_DSN is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver: %s", c.DB.Driver))
	}

	if c.Alerts.PollingEnabled && c.Alerts.Token == "" {
		errs = append(errs, errors.New("ALERTS_API_TOKEN is required when polling is enabled"))
	}
	if c.Alerts.PollInterval < 5*time.Second {
		errs = append(errs, errors.New("poll interval must be at least 5 seconds"))
	}
	if c.Broadcast.Interval < 5*time.Second {
		errs = append(errs, errors.New("broadcast interval must be at least 5 seconds"))
	}
	if c.Alerts.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("invalid max retries: %d", c.Alerts.MaxRetries))
	}
	if c.CycleTimeout <= 0 {
		errs = append(errs, errors.New("cycle timeout must be positive"))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid rate limit: %v", c.RateLimitRPS))
	}
	if c.Telegram.PollingEnabled && c.Telegram.Token == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required for bot polling"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
