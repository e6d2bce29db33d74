package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	NodeID      int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CasinoConfigPath string

	Rollover RolloverConfig
	Metrics  MetricsConfig
}

// RolloverConfig selects how visits crossing the gaming day cutoff are closed.
type RolloverConfig struct {
	Mode      string
	Interval  time.Duration
	BatchSize int
}

// MetricsConfig carries the OTLP exporter settings shared by metrics and tracing.
type MetricsConfig struct {
	Enabled        bool
	TracingEnabled bool
	Endpoint       string
	Protocol       string
}

const (
	RolloverModeLazy  = "lazy"
	RolloverModeEager = "eager"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCasinoConfigHolder),
	fx.Provide(ProvideTenantSettings),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "pitboss"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		NodeID:      getenvInt64("SNOWFLAKE_NODE", 1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "pitboss"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "pitboss.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		CasinoConfigPath: strings.TrimSpace(getenv("CASINO_CONFIG_PATH", "")),

		Rollover: RolloverConfig{
			Mode:      normalizeRolloverMode(getenv("ROLLOVER_MODE", RolloverModeLazy)),
			Interval:  getenvDuration("ROLLOVER_INTERVAL", time.Minute),
			BatchSize: int(getenvInt64("ROLLOVER_BATCH_SIZE", 100)),
		},
		Metrics: MetricsConfig{
			Enabled:        getenvBool("OTEL_METRICS_ENABLED", false),
			TracingEnabled: getenvBool("OTEL_TRACES_ENABLED", false),
			Endpoint:       strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			Protocol:       strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		},
	}
}

func (c Config) EagerRollover() bool {
	return c.Rollover.Mode == RolloverModeEager
}

func normalizeRolloverMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RolloverModeEager:
		return RolloverModeEager
	default:
		return RolloverModeLazy
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
