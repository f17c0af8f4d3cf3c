package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig tags configuration errors; binaries exit with code 2 on it.
var ErrInvalidConfig = errors.New("invalid_config")

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	AuthJWTSecret string
	AuthJWTIssuer string
	AuthJWTTTL    time.Duration

	Telemetry TelemetryConfig

	DBType            string
	DatabaseURL       string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Vault       VaultConfig
	Advisor     AdvisorConfig
	Integration IntegrationConfig
	Import      ImportConfig
	Scheduler   SchedulerConfig
	Notify      NotifyConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	FactorsFile string
}

// VaultConfig carries the credential encryption key set.
type VaultConfig struct {
	// Keys maps key id to raw key material.
	Keys        map[string][]byte
	ActiveKeyID string
	StateSecret string
}

type AdvisorConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	RateLimit int
	RateBurst int
}

type IntegrationConfig struct {
	Timeout       time.Duration
	RefreshMargin time.Duration
	RedirectBase  string
}

type ImportConfig struct {
	StageTimeout  time.Duration
	FutureHorizon time.Duration
	BatchSize     int
	SampleRows    int
	Retention     time.Duration
	Workers       int
}

type SchedulerConfig struct {
	Timezone string
	Workers  int
	Tick     time.Duration
	Jobs     []string
}

// TelemetryConfig controls log encoding and OTLP export of traces and
// meters. Protocol is grpc or http.
type TelemetryConfig struct {
	LogFormat      string
	OTLPEndpoint   string
	Protocol       string
	TraceEnabled   bool
	MetricsEnabled bool
	SampleRatio    float64
}

type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_NAME", "greenledger"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer: getenv("AUTH_JWT_ISSUER", "greenledger"),
		AuthJWTTTL:    getenvDuration("AUTH_JWT_TTL", 12*time.Hour),

		DBType:            strings.ToLower(getenv("DB_TYPE", "postgres")),
		DatabaseURL:       strings.TrimSpace(getenv("DATABASE_URL", "")),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "greenledger"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONNS", 5),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONNS", 20),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DB_AUTO_MIGRATE", true),

		Vault: VaultConfig{
			ActiveKeyID: strings.TrimSpace(getenv("VAULT_ACTIVE_KEY_ID", "")),
			StateSecret: strings.TrimSpace(getenv("OAUTH_STATE_SECRET", "")),
		},
		Advisor: AdvisorConfig{
			APIKey:    strings.TrimSpace(getenv("ADVISOR_API_KEY", "")),
			BaseURL:   strings.TrimRight(getenv("ADVISOR_BASE_URL", "https://api.mistral.ai"), "/"),
			Model:     getenv("ADVISOR_MODEL", "mistral-small-latest"),
			Timeout:   getenvDuration("ADVISOR_TIMEOUT", 30*time.Second),
			RateLimit: getenvInt("ADVISOR_RATE_LIMIT", 0),
			RateBurst: getenvInt("ADVISOR_RATE_BURST", 10),
		},
		Integration: IntegrationConfig{
			Timeout:       getenvDuration("INTEGRATION_TIMEOUT", 15*time.Second),
			RefreshMargin: getenvDuration("INTEGRATION_REFRESH_MARGIN", 5*time.Minute),
			RedirectBase:  strings.TrimRight(getenv("INTEGRATION_REDIRECT_BASE", "http://localhost:8080"), "/"),
		},
		Import: ImportConfig{
			StageTimeout:  getenvDuration("IMPORT_STAGE_TIMEOUT", 60*time.Second),
			FutureHorizon: time.Duration(getenvInt("IMPORT_FUTURE_HORIZON_DAYS", 0)) * 24 * time.Hour,
			BatchSize:     getenvInt("IMPORT_BATCH_SIZE", 500),
			SampleRows:    getenvInt("IMPORT_SAMPLE_ROWS", 20),
			Retention:     time.Duration(getenvInt("IMPORT_RETENTION_DAYS", 30)) * 24 * time.Hour,
			Workers:       getenvInt("IMPORT_WORKERS", 2),
		},
		Scheduler: SchedulerConfig{
			Timezone: getenv("SCHEDULER_TZ", "UTC"),
			Workers:  getenvInt("SCHEDULER_WORKERS", 4),
			Tick:     getenvDuration("SCHEDULER_TICK", time.Minute),
			Jobs:     splitList(getenv("SCHEDULER_JOBS", "")),
		},
		Notify: NotifyConfig{
			WebhookURL: strings.TrimSpace(getenv("NOTIFY_WEBHOOK_URL", "")),
			Timeout:    getenvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			LogFormat:    strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTLPEndpoint: strings.TrimSpace(getenv("OTLP_ENDPOINT", "")),
			Protocol:     strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_PROTOCOL", "grpc"))),
			SampleRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),
		FactorsFile:   strings.TrimSpace(getenv("FACTORS_FILE", "")),
	}
	cfg.Vault.Keys = parseKeys(getenv("VAULT_KEYS", ""))
	cfg.Telemetry.TraceEnabled = getenvBool("OTEL_ENABLED", cfg.Telemetry.OTLPEndpoint != "")
	cfg.Telemetry.MetricsEnabled = getenvBool("OTEL_METRICS_ENABLED", cfg.Telemetry.TraceEnabled)

	return cfg
}

// Validate reports configuration that would make the process unusable.
func (c Config) Validate() error {
	switch c.DBType {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("%w: unsupported DB_TYPE %q", ErrInvalidConfig, c.DBType)
	}
	if c.Vault.Keys == nil {
		return fmt.Errorf("%w: VAULT_KEYS is malformed", ErrInvalidConfig)
	}
	if len(c.Vault.Keys) > 0 {
		if c.Vault.ActiveKeyID == "" {
			return fmt.Errorf("%w: VAULT_ACTIVE_KEY_ID is required when VAULT_KEYS is set", ErrInvalidConfig)
		}
		if _, ok := c.Vault.Keys[c.Vault.ActiveKeyID]; !ok {
			return fmt.Errorf("%w: active key %q not in VAULT_KEYS", ErrInvalidConfig, c.Vault.ActiveKeyID)
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("%w: SCHEDULER_TZ: %v", ErrInvalidConfig, err)
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("%w: IMPORT_BATCH_SIZE must be positive", ErrInvalidConfig)
	}
	switch c.Telemetry.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unsupported LOG_FORMAT %q", ErrInvalidConfig, c.Telemetry.LogFormat)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("%w: unsupported OTEL_EXPORTER_PROTOCOL %q", ErrInvalidConfig, c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: OTEL_SAMPLING_RATIO must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// parseKeys reads "kid:base64key,kid2:base64key". A nil map means the value
// was present but malformed.
func parseKeys(raw string) map[string][]byte {
	keys := map[string][]byte{}
	for _, part := range splitList(raw) {
		kid, encoded, ok := strings.Cut(part, ":")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" {
			return nil
		}
		key, err := decodeKey(strings.TrimSpace(encoded))
		if err != nil || len(key) < 16 {
			return nil
		}
		keys[kid] = key
	}
	return keys
}

func decodeKey(encoded string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return key, nil
	}
	return base64.RawURLEncoding.DecodeString(encoded)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
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
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
