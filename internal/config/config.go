package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingRequiredEnv is wrapped by Load when mandatory variables are unset.
var ErrMissingRequiredEnv = errors.New("missing required environment variables")

// Change sources, record stores and follower caches the service can run with.
const (
	SourceFirestore = "firestore"
	SourceAMQP      = "amqp"
	SourceKafka     = "kafka"

	StoreFirestore = "firestore"
	StorePostgres  = "postgres"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds follow notifier configuration loaded from the environment.
type Config struct {
	AppName   string
	LogLevel  string
	LogFormat string
	HTTPPort  string

	ChangeSource  string
	RecordStore   string
	FollowerCache string

	FirebaseProjectID       string
	FirebaseCredentialsFile string
	UsersCollection         string

	RabbitURL     string
	ChangeQueue   string
	ChangeDLQ     string
	PrefetchCount int

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	DatabaseURL string
	UsersTable  string
	StatusTable string

	RedisURL         string
	TokenSuppressTTL time.Duration
	DedupeTTL        time.Duration

	BatchBuffer               int
	DispatchConcurrency       int
	SendTimeout               time.Duration
	DrainTimeout              time.Duration
	ResubscribeInitialBackoff time.Duration
	ResubscribeMaxBackoff     time.Duration
	ConnectMaxAttempts        int
	ConnectInitialBackoff     time.Duration

	NotifyTitle      string
	NotifyBody       string
	NotifySound      string
	AndroidChannelID string
	NotifyBadgeCount int
}

// Load loads configuration and performs basic validation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:   getEnv("APP_NAME", "follow_notifier"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		HTTPPort:  getEnv("HTTP_PORT", "3000"),

		ChangeSource:  strings.ToLower(getEnv("CHANGE_SOURCE", SourceFirestore)),
		RecordStore:   strings.ToLower(getEnv("RECORD_STORE", StoreFirestore)),
		FollowerCache: strings.ToLower(getEnv("FOLLOWER_CACHE", CacheMemory)),

		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		UsersCollection:         getEnv("USERS_COLLECTION", "users"),

		RabbitURL:     getEnv("RABBITMQ_URL", ""),
		ChangeQueue:   getEnv("CHANGE_QUEUE", "records.changes.users"),
		ChangeDLQ:     getEnv("CHANGE_DLQ", "records.changes.failed"),
		PrefetchCount: getEnvAsInt("PREFETCH_COUNT", 50),

		KafkaBrokers: getEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "users.changes"),
		KafkaGroup:   getEnv("KAFKA_GROUP", "follow-notifier"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		UsersTable:  getEnv("USERS_TABLE", "users"),
		StatusTable: getEnv("STATUS_TABLE", "follow_notification_statuses"),

		RedisURL:         getEnv("REDIS_URL", ""),
		TokenSuppressTTL: getEnvAsDuration("TOKEN_SUPPRESS_TTL", 24*time.Hour),
		DedupeTTL:        getEnvAsDuration("DEDUPE_TTL", time.Hour),

		BatchBuffer:               getEnvAsInt("BATCH_BUFFER", 64),
		DispatchConcurrency:       getEnvAsInt("DISPATCH_CONCURRENCY", 16),
		SendTimeout:               getEnvAsDuration("SEND_TIMEOUT", 5*time.Second),
		DrainTimeout:              getEnvAsDuration("DRAIN_TIMEOUT", 10*time.Second),
		ResubscribeInitialBackoff: getEnvAsDuration("RESUBSCRIBE_INITIAL_BACKOFF", time.Second),
		ResubscribeMaxBackoff:     getEnvAsDuration("RESUBSCRIBE_MAX_BACKOFF", time.Minute),
		ConnectMaxAttempts:        getEnvAsInt("CONNECT_MAX_ATTEMPTS", 5),
		ConnectInitialBackoff:     getEnvAsDuration("CONNECT_INITIAL_BACKOFF", time.Second),

		NotifyTitle:      getEnv("NOTIFY_TITLE", "Yeni Takipçin Var!"),
		NotifyBody:       getEnv("NOTIFY_BODY", "{{name}} seni takip etmeye başladı."),
		NotifySound:      getEnv("NOTIFY_SOUND", "default"),
		AndroidChannelID: getEnv("ANDROID_CHANNEL_ID", "followers"),
		NotifyBadgeCount: getEnvAsInt("NOTIFY_BADGE_COUNT", 1),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UsesFirestore reports whether any component needs a Firestore client.
func (c *Config) UsesFirestore() bool {
	return c.ChangeSource == SourceFirestore || c.RecordStore == StoreFirestore
}

func (c *Config) validate() error {
	switch c.ChangeSource {
	case SourceFirestore, SourceAMQP, SourceKafka:
	default:
		return fmt.Errorf("unsupported CHANGE_SOURCE %q", c.ChangeSource)
	}
	switch c.RecordStore {
	case StoreFirestore, StorePostgres:
	default:
		return fmt.Errorf("unsupported RECORD_STORE %q", c.RecordStore)
	}
	switch c.FollowerCache {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("unsupported FOLLOWER_CACHE %q", c.FollowerCache)
	}

	var missing []string
	if c.FirebaseProjectID == "" {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}
	if c.ChangeSource == SourceAMQP && c.RabbitURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if c.ChangeSource == SourceKafka && len(c.KafkaBrokers) == 0 {
		missing = append(missing, "KAFKA_BROKERS")
	}
	if c.RecordStore == StorePostgres && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.FollowerCache == CacheRedis && c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingRequiredEnv, missing)
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
