// Package config holds service configuration loaded from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                       string
	Port                          int
	LogLevel                      string
	PrettyLogs                    bool
	HttpServerWriteTimeoutSeconds int
	HttpServerReadTimeoutSeconds  int
	HttpServerIdleTimeoutSeconds  int
	MaxHeaderBytes                int
	AllowOrigins                  []string
	AllowMethods                  []string

	// PostgreSQL
	DatabaseDriver                string
	DatabaseHost                  string
	DatabasePort                  string
	DatabaseUserName              string
	DatabasePassword              string
	DatabaseName                  string
	DatabaseSSLMode               string
	DatabaseMaxOpenConns          int
	DatabaseMaxIdleConns          int
	DatabaseConnMaxLifetime       time.Duration
	DatabaseMigrationFolderPath   string
	DatabaseMigrationVersion      int
	DatabaseMigrationForce        int
	DatabaseMigrationAutoRollback bool

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Kafka producer
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaMatchTopic   string
	KafkaBatchSize    int
	KafkaBatchTimeout int
	KafkaRequiredAcks int
	KafkaCompression  string

	// Matching
	MatchMaxCandidates int
	MatchMinScore      float64
	MatchStoredMatches int
	MatchWorkerCount   int
	MatchBatchLimit    int
	AddressMinJaccard  float64
	CEPPrefixMinDigits int

	// Refinement
	RefineBatchLimit     int
	RefineLockTTLSeconds int

	// Geocoding (Nominatim)
	GeocodeBaseURL        string
	GeocodeUserAgent      string
	GeocodeTimeoutSeconds int
	GeocodeMinIntervalMS  int
	GeocodeCacheTTLHours  int
	GeocodeCoordPrecision int

	// Stats
	StatsCacheTTLSeconds int
}

// Load reads configuration from .env files and the process environment.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		AppName:                       v.GetString("APP_NAME"),
		Port:                          v.GetInt("PORT"),
		LogLevel:                      v.GetString("LOG_LEVEL"),
		PrettyLogs:                    v.GetBool("PRETTY_LOGS"),
		HttpServerWriteTimeoutSeconds: v.GetInt("HTTP_SERVER_WRITE_TIMEOUT_SECONDS"),
		HttpServerReadTimeoutSeconds:  v.GetInt("HTTP_SERVER_READ_TIMEOUT_SECONDS"),
		HttpServerIdleTimeoutSeconds:  v.GetInt("HTTP_SERVER_IDLE_TIMEOUT_SECONDS"),
		MaxHeaderBytes:                v.GetInt("HTTP_SERVER_MAX_HEADER_BYTES"),
		AllowOrigins:                  v.GetStringSlice("HTTP_SERVER_ALLOW_ORIGINS"),
		AllowMethods:                  v.GetStringSlice("HTTP_SERVER_ALLOW_METHODS"),

		DatabaseDriver:                v.GetString("DB_DRIVER"),
		DatabaseHost:                  v.GetString("DB_HOST"),
		DatabasePort:                  v.GetString("DB_PORT"),
		DatabaseUserName:              v.GetString("DB_USER_NAME"),
		DatabasePassword:              v.GetString("DB_PASSWORD"),
		DatabaseName:                  v.GetString("DB_NAME"),
		DatabaseSSLMode:               v.GetString("DB_SSL_MODE"),
		DatabaseMaxOpenConns:          v.GetInt("DB_MAX_OPEN_CONNS"),
		DatabaseMaxIdleConns:          v.GetInt("DB_MAX_IDLE_CONNS"),
		DatabaseConnMaxLifetime:       v.GetDuration("DB_CONN_MAX_LIFETIME"),
		DatabaseMigrationFolderPath:   v.GetString("DB_MIGRATION_FOLDER_PATH"),
		DatabaseMigrationVersion:      v.GetInt("DB_MIGRATION_VERSION"),
		DatabaseMigrationForce:        v.GetInt("DB_MIGRATION_FORCE"),
		DatabaseMigrationAutoRollback: v.GetBool("DB_MIGRATION_AUTO_ROLLBACK"),

		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetInt("REDIS_PORT"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		KafkaEnabled:      v.GetBool("KAFKA_ENABLED"),
		KafkaBrokers:      v.GetStringSlice("KAFKA_BROKERS"),
		KafkaMatchTopic:   v.GetString("KAFKA_MATCH_TOPIC"),
		KafkaBatchSize:    v.GetInt("KAFKA_BATCH_SIZE"),
		KafkaBatchTimeout: v.GetInt("KAFKA_BATCH_TIMEOUT_MS"),
		KafkaRequiredAcks: v.GetInt("KAFKA_REQUIRED_ACKS"),
		KafkaCompression:  v.GetString("KAFKA_COMPRESSION"),

		MatchMaxCandidates: v.GetInt("MATCH_MAX_CANDIDATES"),
		MatchMinScore:      v.GetFloat64("MATCH_MIN_SCORE"),
		MatchStoredMatches: v.GetInt("MATCH_STORED_MATCHES"),
		MatchWorkerCount:   v.GetInt("MATCH_WORKER_COUNT"),
		MatchBatchLimit:    v.GetInt("MATCH_BATCH_LIMIT"),
		AddressMinJaccard:  v.GetFloat64("ADDRESS_MIN_JACCARD"),
		CEPPrefixMinDigits: v.GetInt("CEP_PREFIX_MIN_DIGITS"),

		RefineBatchLimit:     v.GetInt("REFINE_BATCH_LIMIT"),
		RefineLockTTLSeconds: v.GetInt("REFINE_LOCK_TTL_SECONDS"),

		GeocodeBaseURL:        v.GetString("GEOCODE_BASE_URL"),
		GeocodeUserAgent:      v.GetString("GEOCODE_USER_AGENT"),
		GeocodeTimeoutSeconds: v.GetInt("GEOCODE_TIMEOUT_SECONDS"),
		GeocodeMinIntervalMS:  v.GetInt("GEOCODE_MIN_INTERVAL_MS"),
		GeocodeCacheTTLHours:  v.GetInt("GEOCODE_CACHE_TTL_HOURS"),
		GeocodeCoordPrecision: v.GetInt("GEOCODE_COORD_PRECISION"),

		StatsCacheTTLSeconds: v.GetInt("STATS_CACHE_TTL_SECONDS"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "vinculo-api")
	v.SetDefault("PORT", 3010)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PRETTY_LOGS", false)
	v.SetDefault("HTTP_SERVER_WRITE_TIMEOUT_SECONDS", 30)
	v.SetDefault("HTTP_SERVER_READ_TIMEOUT_SECONDS", 10)
	v.SetDefault("HTTP_SERVER_IDLE_TIMEOUT_SECONDS", 10)
	v.SetDefault("HTTP_SERVER_MAX_HEADER_BYTES", 64000)
	v.SetDefault("HTTP_SERVER_ALLOW_ORIGINS", []string{"*"})
	v.SetDefault("HTTP_SERVER_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE"})

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER_NAME", "")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "vinculo")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "10m")
	v.SetDefault("DB_MIGRATION_FOLDER_PATH", "db/pg")
	v.SetDefault("DB_MIGRATION_VERSION", 0)
	v.SetDefault("DB_MIGRATION_FORCE", 0)
	v.SetDefault("DB_MIGRATION_AUTO_ROLLBACK", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KAFKA_ENABLED", true)
	v.SetDefault("KAFKA_BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA_MATCH_TOPIC", "customer-match-events")
	v.SetDefault("KAFKA_BATCH_SIZE", 100)
	v.SetDefault("KAFKA_BATCH_TIMEOUT_MS", 100)
	v.SetDefault("KAFKA_REQUIRED_ACKS", 1)
	v.SetDefault("KAFKA_COMPRESSION", "snappy")

	v.SetDefault("MATCH_MAX_CANDIDATES", 200)
	v.SetDefault("MATCH_MIN_SCORE", 15.0)
	v.SetDefault("MATCH_STORED_MATCHES", 3)
	v.SetDefault("MATCH_WORKER_COUNT", 8)
	v.SetDefault("MATCH_BATCH_LIMIT", 1000)
	v.SetDefault("ADDRESS_MIN_JACCARD", 0.15)
	v.SetDefault("CEP_PREFIX_MIN_DIGITS", 5)

	v.SetDefault("REFINE_BATCH_LIMIT", 100)
	v.SetDefault("REFINE_LOCK_TTL_SECONDS", 30)

	v.SetDefault("GEOCODE_BASE_URL", "https://nominatim.openstreetmap.org")
	v.SetDefault("GEOCODE_USER_AGENT", "vinculo/1.0")
	v.SetDefault("GEOCODE_TIMEOUT_SECONDS", 10)
	v.SetDefault("GEOCODE_MIN_INTERVAL_MS", 1100)
	v.SetDefault("GEOCODE_CACHE_TTL_HOURS", 720)
	v.SetDefault("GEOCODE_COORD_PRECISION", 4)

	v.SetDefault("STATS_CACHE_TTL_SECONDS", 60)
}

func validate(cfg *Config) error {
	if cfg.DatabaseHost == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if cfg.DatabaseName == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if cfg.MatchStoredMatches < 1 {
		return fmt.Errorf("MATCH_STORED_MATCHES must be at least 1")
	}
	if cfg.RefineBatchLimit < 1 {
		return fmt.Errorf("REFINE_BATCH_LIMIT must be at least 1")
	}
	return nil
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}
