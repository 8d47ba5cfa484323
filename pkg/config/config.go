package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Cache backends understood by AggregationConfig.CacheBackend.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	CORS        CORSConfig
	Log         LogConfig
	Aggregation AggregationConfig
	Batch       BatchConfig
	Exports     ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AggregationConfig governs the statistics engine and its advisory result cache.
type AggregationConfig struct {
	SchemaVersion               string
	CacheEnabled                bool
	CacheBackend                string
	CacheTTL                    time.Duration
	CacheMaxEntries             int
	ScaleLevel                  int
	DiscriminationMinSampleSize int
}

// BatchConfig sizes the batch recalculation worker pool.
type BatchConfig struct {
	WorkerConcurrency int
	QueueSize         int
	QueueRetries      int
}

// ExportsConfig toggles CSV/PDF report exports.
type ExportsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("AGGREGATION_CACHE_BACKEND")))
	if backend != CacheBackendRedis {
		backend = CacheBackendMemory
	}
	scale := v.GetInt("AGGREGATION_SCALE_LEVEL")
	if scale < 2 {
		scale = 5
	}
	minSample := v.GetInt("AGGREGATION_DISCRIMINATION_MIN_SAMPLE")
	if minSample < 2 {
		minSample = 10
	}
	cfg.Aggregation = AggregationConfig{
		SchemaVersion:               v.GetString("AGGREGATION_SCHEMA_VERSION"),
		CacheEnabled:                v.GetBool("AGGREGATION_CACHE_ENABLED"),
		CacheBackend:                backend,
		CacheTTL:                    parseDuration(v.GetString("AGGREGATION_CACHE_TTL"), 5*time.Minute),
		CacheMaxEntries:             v.GetInt("AGGREGATION_CACHE_MAX_ENTRIES"),
		ScaleLevel:                  scale,
		DiscriminationMinSampleSize: minSample,
	}

	workers := v.GetInt("BATCH_WORKER_CONCURRENCY")
	if workers <= 0 {
		workers = 1
	}
	cfg.Batch = BatchConfig{
		WorkerConcurrency: workers,
		QueueSize:         v.GetInt("BATCH_QUEUE_SIZE"),
		QueueRetries:      v.GetInt("BATCH_QUEUE_RETRIES"),
	}

	cfg.Exports = ExportsConfig{Enabled: v.GetBool("ENABLE_EXPORTS")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "assessment_stats")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AGGREGATION_SCHEMA_VERSION", "v1.2")
	v.SetDefault("AGGREGATION_CACHE_ENABLED", true)
	v.SetDefault("AGGREGATION_CACHE_BACKEND", CacheBackendMemory)
	v.SetDefault("AGGREGATION_CACHE_TTL", "5m")
	v.SetDefault("AGGREGATION_CACHE_MAX_ENTRIES", 1024)
	v.SetDefault("AGGREGATION_SCALE_LEVEL", 5)
	v.SetDefault("AGGREGATION_DISCRIMINATION_MIN_SAMPLE", 10)

	v.SetDefault("BATCH_WORKER_CONCURRENCY", 4)
	v.SetDefault("BATCH_QUEUE_SIZE", 16)
	v.SetDefault("BATCH_QUEUE_RETRIES", 0)

	v.SetDefault("ENABLE_EXPORTS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
