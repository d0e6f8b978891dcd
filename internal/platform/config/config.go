package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full runtime configuration, read once at startup.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Workers  WorkersConfig
	Logging  LoggingConfig
	Trust    TrustConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AdminToken      string // guards /admin; empty disables the admin routes
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ProfileTTL   time.Duration
}

type KafkaConfig struct {
	Brokers        string
	GroupID        string
	PaymentsTopic  string // inbound payment_completed
	RewardsTopic   string // inbound award_coins
	EventsTopic    string // outbound payment.succeeded
	ProducerAcks   string
	ProducerRetry  int
	DeliverTimeout time.Duration
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return strings.TrimSpace(k.Brokers) != "" }

type WorkersConfig struct {
	OverdueSchedule    string // cron spec
	OverdueGracePeriod time.Duration
	OverdueBatchSize   int
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxRetention    time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string // json | text
}

// TrustConfig holds knobs of the reward policy.
type TrustConfig struct {
	CoinsPerPayment decimal.Decimal
}

// FromEnv builds a Config from environment variables so main stays lean.
// Malformed values fall back to defaults rather than failing startup.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getString("BNPL_ADDR", ":8080"),
			Environment:     getString("ENVIRONMENT", "development"),
			ReadTimeout:     getDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
			AdminToken:      os.Getenv("ADMIN_API_TOKEN"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getBool("DATABASE_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			ProfileTTL:   getDuration("PROFILE_CACHE_TTL", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        os.Getenv("KAFKA_BROKERS"),
			GroupID:        getString("KAFKA_GROUP_ID", "bnpl-trust"),
			PaymentsTopic:  getString("KAFKA_PAYMENTS_TOPIC", "payments.completed"),
			RewardsTopic:   getString("KAFKA_REWARDS_TOPIC", "rewards.coins"),
			EventsTopic:    getString("KAFKA_EVENTS_TOPIC", "bnpl.events"),
			ProducerAcks:   getString("KAFKA_PRODUCER_ACKS", "all"),
			ProducerRetry:  getInt("KAFKA_PRODUCER_RETRIES", 3),
			DeliverTimeout: getDuration("KAFKA_DELIVERY_TIMEOUT", 30*time.Second),
		},
		Workers: WorkersConfig{
			OverdueSchedule:    getString("OVERDUE_SWEEP_SCHEDULE", "@every 1h"),
			OverdueGracePeriod: getDuration("OVERDUE_GRACE_PERIOD", 0),
			OverdueBatchSize:   getInt("OVERDUE_BATCH_SIZE", 500),
			OutboxPollInterval: getDuration("OUTBOX_POLL_INTERVAL", time.Second),
			OutboxBatchSize:    getInt("OUTBOX_BATCH_SIZE", 100),
			OutboxRetention:    getDuration("OUTBOX_RETENTION", 7*24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getString("LOG_LEVEL", "info"),
			Format: getString("LOG_FORMAT", "json"),
		},
		Trust: TrustConfig{
			CoinsPerPayment: getDecimal("COINS_PER_PAYMENT", decimal.NewFromInt(10)),
		},
	}
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

func getInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(os.Getenv(key)); err == nil && !d.IsNegative() {
		return d
	}
	return def
}
