package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestMemoryCache(max int) (*MemoryCacheRepository, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	repo := NewMemoryCacheRepository(max)
	repo.now = clock.now
	return repo, clock
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTestMemoryCache(4)

	require.NoError(t, repo.Set(ctx, "aggregation:G9:regional", map[string]int{"students": 15}, time.Minute))

	var got map[string]int
	require.NoError(t, repo.Get(ctx, "aggregation:G9:regional", &got))
	assert.Equal(t, 15, got["students"])

	clock.t = clock.t.Add(time.Minute)
	err := repo.Get(ctx, "aggregation:G9:regional", &got)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.Equal(t, 0, repo.Len())
}

func TestMemoryCacheBoundedEntries(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTestMemoryCache(2)

	require.NoError(t, repo.Set(ctx, "a", 1, time.Minute))
	clock.t = clock.t.Add(time.Second)
	require.NoError(t, repo.Set(ctx, "b", 2, time.Minute))
	require.NoError(t, repo.Set(ctx, "c", 3, time.Minute))

	assert.Equal(t, 2, repo.Len())
	var v int
	assert.ErrorIs(t, repo.Get(ctx, "a", &v), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Get(ctx, "c", &v))
	assert.Equal(t, 3, v)

	// overwriting an existing key never evicts
	require.NoError(t, repo.Set(ctx, "b", 20, time.Minute))
	assert.Equal(t, 2, repo.Len())
}

func TestMemoryCacheSweepsExpiredBeforeEvicting(t *testing.T) {
	ctx := context.Background()
	repo, clock := newTestMemoryCache(2)

	require.NoError(t, repo.Set(ctx, "short", 1, time.Second))
	require.NoError(t, repo.Set(ctx, "long", 2, time.Hour))
	clock.t = clock.t.Add(2 * time.Second)
	require.NoError(t, repo.Set(ctx, "new", 3, time.Hour))

	var v int
	require.NoError(t, repo.Get(ctx, "long", &v))
	require.NoError(t, repo.Get(ctx, "new", &v))
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestMemoryCache(10)

	require.NoError(t, repo.Set(ctx, "aggregation:G9-2025:regional", 1, 0))
	require.NoError(t, repo.Set(ctx, "aggregation:G9-2025:school:sch-1", 2, 0))
	require.NoError(t, repo.Set(ctx, "aggregation:G4-2025:regional", 3, 0))

	require.NoError(t, repo.DeleteByPattern(ctx, "aggregation:G9-2025:*"))
	assert.Equal(t, 1, repo.Len())

	assert.Error(t, repo.DeleteByPattern(ctx, "aggregation:[G9"))
}

func TestRedisCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewRedisCacheRepository(nil, nil)
	var v int
	assert.ErrorIs(t, repo.Get(context.Background(), "k", &v), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "k", 1, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(context.Background(), "k*"))
	assert.NoError(t, repo.Close())
}
