package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName string

	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Population store: "postgres", "sqlite" or "memory"
	StoreDriver   string
	SQLitePath    string
	SnapshotPath  string
	CatalogPath   string
	StoreReadOnly bool

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers        []string
	KafkaGroupID        string
	EvaluateTopic       string
	MaterializedTopic   string
	KafkaConsumeEnabled bool

	// OIDC
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string

	// API rate limit; RateLimitRPS <= 0 disables it
	RateLimitRPS   int
	RateLimitBurst int

	// Evaluation
	CohortCacheTTL     time.Duration
	EvaluationTimeout  time.Duration
	MaterializeWorkers int
}

func Load() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "cohort-service"),

		ServerPort:     getEnv("SERVER_PORT", "8087"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "reporting"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "reporting"),
		PostgresDB:       getEnv("POSTGRES_DB", "reporting"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		SQLitePath:    getEnv("SQLITE_PATH", "reporting.db"),
		SnapshotPath:  getEnv("SNAPSHOT_PATH", ""),
		CatalogPath:   getEnv("TERMINOLOGY_CATALOG", ""),
		StoreReadOnly: getBoolEnv("STORE_READ_ONLY", true),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "reporting-cohort"),
		EvaluateTopic:       getEnv("KAFKA_EVALUATE_TOPIC", "cohort.evaluate.requested"),
		MaterializedTopic:   getEnv("KAFKA_MATERIALIZED_TOPIC", "cohort.materialized"),
		KafkaConsumeEnabled: getBoolEnv("KAFKA_CONSUME_ENABLED", false),

		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		CohortCacheTTL:     getDuration("COHORT_CACHE_TTL", 5*time.Minute),
		EvaluationTimeout:  getDuration("EVALUATION_TIMEOUT", 2*time.Minute),
		MaterializeWorkers: getIntEnv("MATERIALIZE_WORKERS", 2),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
