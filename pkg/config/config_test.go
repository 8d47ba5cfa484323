package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "v1.2", cfg.Aggregation.SchemaVersion)
	assert.Equal(t, CacheBackendMemory, cfg.Aggregation.CacheBackend)
	assert.Equal(t, 5*time.Minute, cfg.Aggregation.CacheTTL)
	assert.Equal(t, 5, cfg.Aggregation.ScaleLevel)
	assert.Equal(t, 10, cfg.Aggregation.DiscriminationMinSampleSize)
	assert.Equal(t, 4, cfg.Batch.WorkerConcurrency)
	assert.Equal(t, 0, cfg.Batch.QueueRetries)
}

func TestFromViperSanitisesAggregationValues(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("AGGREGATION_CACHE_BACKEND", " Redis ")
	v.Set("AGGREGATION_CACHE_TTL", "not-a-duration")
	v.Set("AGGREGATION_SCALE_LEVEL", 1)
	v.Set("BATCH_WORKER_CONCURRENCY", 0)
	v.Set("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := fromViper(v)
	assert.Equal(t, CacheBackendRedis, cfg.Aggregation.CacheBackend)
	assert.Equal(t, 5*time.Minute, cfg.Aggregation.CacheTTL)
	assert.Equal(t, 5, cfg.Aggregation.ScaleLevel)
	assert.Equal(t, 1, cfg.Batch.WorkerConcurrency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
