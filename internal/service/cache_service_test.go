package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCacheRepo struct{}

func (failingCacheRepo) Get(context.Context, string, interface{}) error {
	return errors.New("redis down")
}

func (failingCacheRepo) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("redis down")
}

func (failingCacheRepo) DeleteByPattern(context.Context, string) error {
	return errors.New("redis down")
}

func TestMakeAggregationCacheKey(t *testing.T) {
	assert.Equal(t, "aggregation:G4-2025:report:REGIONAL", makeAggregationCacheKey("G4-2025", "report", "REGIONAL", ""))
	assert.Equal(t, "aggregation:G4-2025:report:SCHOOL:S1", makeAggregationCacheKey("G4-2025", "report", "SCHOOL", "S1"))
	assert.Equal(t, "aggregation:G4-2025:*", makeAggregationCacheKey("G4-2025", "*"))
}

func TestCacheServiceRoundTrip(t *testing.T) {
	metrics := NewMetricsService()
	svc := NewCacheService(&stubCacheRepo{}, metrics, time.Minute, nil, true)
	ctx := context.Background()

	var out map[string]int
	hit, err := svc.Get(ctx, "aggregation:G4-2025:overview", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "aggregation:G4-2025:overview", map[string]int{"students": 6}, 0))
	hit, err = svc.Get(ctx, "aggregation:G4-2025:overview", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 6, out["students"])

	require.NoError(t, svc.InvalidateBatch(ctx, "G4-2025"))
	hit, _ = svc.Get(ctx, "aggregation:G4-2025:overview", &out)
	assert.False(t, hit)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(2), snapshot.CacheMisses)
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := &stubCacheRepo{}
	disabled := NewCacheService(repo, nil, 0, nil, false)
	var nilService *CacheService

	for _, svc := range []*CacheService{disabled, nilService} {
		assert.False(t, svc.Enabled())
		require.NoError(t, svc.Set(ctx, "k", 1, time.Minute))
		hit, err := svc.Get(ctx, "k", new(int))
		require.NoError(t, err)
		assert.False(t, hit)
		require.NoError(t, svc.InvalidateBatch(ctx, testBatch))
	}
	assert.Empty(t, repo.store)
}

func TestCacheServiceSurfacesBackendErrors(t *testing.T) {
	svc := NewCacheService(failingCacheRepo{}, nil, time.Minute, nil, true)
	ctx := context.Background()

	hit, err := svc.Get(ctx, "k", new(int))
	assert.Error(t, err)
	assert.False(t, hit)
	assert.Error(t, svc.Set(ctx, "k", 1, 0))
	assert.Error(t, svc.Invalidate(ctx, "aggregation:*"))
}
