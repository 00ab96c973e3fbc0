package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Kafka    KafkaConfig
	SLA      SLAConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. KeyPrefix namespaces lease keys; empty
// keeps the default prefix.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// KafkaConfig configures ticket-event intake and SLA notification output.
// Empty Brokers disables both.
type KafkaConfig struct {
	Brokers            []string
	TicketEventsTopic  string
	NotificationsTopic string
	GroupID            string
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// SLAConfig tunes the tracker and its scheduled tick.
type SLAConfig struct {
	TickSchedule   string
	TickTimeout    time.Duration
	BatchSize      int
	MaxBatches     int
	WarningWindow  time.Duration
	LeaseTTL       time.Duration
	LeaseName      string
	Timezone       string
	CatalogFile    string
	BackfillLimit  int
	NearingLimit   int
	EscalationSize int
}

// Location resolves the default calendar timezone.
func (s SLAConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-sla"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: os.Getenv("REDIS_KEY_PREFIX"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Kafka: KafkaConfig{
			Brokers:            getEnvAsList("KAFKA_BROKERS"),
			TicketEventsTopic:  getEnv("KAFKA_TICKET_EVENTS_TOPIC", "tickets.lifecycle"),
			NotificationsTopic: getEnv("KAFKA_NOTIFICATIONS_TOPIC", "sla.notifications"),
			GroupID:            getEnv("KAFKA_GROUP_ID", "ticket-sla"),
		},
		SLA: SLAConfig{
			TickSchedule:   getEnv("SLA_TICK_SCHEDULE", "@every 5m"),
			TickTimeout:    getEnvAsDuration("SLA_TICK_TIMEOUT", 4*time.Minute),
			BatchSize:      getEnvAsInt("SLA_TICK_BATCH_SIZE", 500),
			MaxBatches:     getEnvAsInt("SLA_TICK_MAX_BATCHES", 20),
			WarningWindow:  getEnvAsDuration("SLA_WARNING_WINDOW", time.Hour),
			LeaseTTL:       getEnvAsDuration("SLA_LEASE_TTL", 5*time.Minute),
			LeaseName:      getEnv("SLA_LEASE_NAME", "sla-tick"),
			Timezone:       getEnv("SLA_TIMEZONE", "UTC"),
			CatalogFile:    os.Getenv("SLA_CATALOG_FILE"),
			BackfillLimit:  getEnvAsInt("SLA_BACKFILL_LIMIT", 200),
			NearingLimit:   getEnvAsInt("SLA_NEARING_LIMIT", 500),
			EscalationSize: getEnvAsInt("SLA_ESCALATION_BATCH_SIZE", 500),
		},
	}

	if err := cfg.SLA.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (s SLAConfig) validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("SLA_TICK_BATCH_SIZE must be positive, got %d", s.BatchSize)
	}
	if s.MaxBatches <= 0 {
		return fmt.Errorf("SLA_TICK_MAX_BATCHES must be positive, got %d", s.MaxBatches)
	}
	if s.NearingLimit <= 0 {
		return fmt.Errorf("SLA_NEARING_LIMIT must be positive, got %d", s.NearingLimit)
	}
	if s.EscalationSize <= 0 {
		return fmt.Errorf("SLA_ESCALATION_BATCH_SIZE must be positive, got %d", s.EscalationSize)
	}
	// zero turns the backfill off
	if s.BackfillLimit < 0 {
		return fmt.Errorf("SLA_BACKFILL_LIMIT must not be negative, got %d", s.BackfillLimit)
	}
	if s.WarningWindow < 0 {
		return fmt.Errorf("SLA_WARNING_WINDOW must not be negative")
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("invalid SLA_TIMEZONE: %w", err)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
