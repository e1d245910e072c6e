package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ezmove/internal/tracking/cache"
	"github.com/example/ezmove/internal/tracking/domain"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func sampleLocation(driverID uuid.UUID, lat float64) domain.DriverLocation {
	accuracy := 4.5
	return domain.DriverLocation{
		DriverID:  driverID,
		Latitude:  lat,
		Longitude: 13.4,
		Accuracy:  &accuracy,
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestCachesOverwriteAndDelete(t *testing.T) {
	client, _ := newRedisClient(t)
	caches := map[string]domain.LocationCache{
		"memory": cache.NewMemoryCache(),
		"redis":  cache.NewRedisCache(client, ""),
	}
	for name, c := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			driverID := uuid.New()

			_, ok, err := c.Get(ctx, driverID)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, c.Set(ctx, sampleLocation(driverID, 52.1)))
			require.NoError(t, c.Set(ctx, sampleLocation(driverID, 52.2)))

			got, ok, err := c.Get(ctx, driverID)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, 52.2, got.Latitude)
			require.NotNil(t, got.Accuracy)
			require.Equal(t, 4.5, *got.Accuracy)
			require.True(t, got.Timestamp.Equal(sampleLocation(driverID, 0).Timestamp))

			require.NoError(t, c.Delete(ctx, driverID))
			_, ok, err = c.Get(ctx, driverID)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, c.Delete(ctx, driverID))
		})
	}
}

func TestRedisCacheKeyLayout(t *testing.T) {
	client, mr := newRedisClient(t)
	c := cache.NewRedisCache(client, "ezmove:")
	driverID := uuid.New()
	require.NoError(t, c.Set(context.Background(), sampleLocation(driverID, 1)))
	require.True(t, mr.Exists("ezmove:"+driverID.String()+":location"))
}

func TestEvictorRemovesAfterGrace(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()
	driverID := uuid.New()
	require.NoError(t, c.Set(ctx, sampleLocation(driverID, 1)))

	ev := cache.NewEvictor(c, 20*time.Millisecond, nil)
	t.Cleanup(ev.Stop)
	ev.Schedule(driverID)
	require.True(t, ev.Pending(driverID))

	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, driverID)
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.False(t, ev.Pending(driverID))
}

func TestEvictorCancelKeepsEntry(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()
	driverID := uuid.New()
	require.NoError(t, c.Set(ctx, sampleLocation(driverID, 1)))

	ev := cache.NewEvictor(c, 30*time.Millisecond, nil)
	t.Cleanup(ev.Stop)
	ev.Schedule(driverID)
	ev.Cancel(driverID)
	require.False(t, ev.Pending(driverID))

	time.Sleep(90 * time.Millisecond)
	_, ok, err := c.Get(ctx, driverID)
	require.NoError(t, err)
	require.True(t, ok)

	ev.Cancel(uuid.New())
}

func TestEvictorRescheduleExtendsGrace(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()
	driverID := uuid.New()
	require.NoError(t, c.Set(ctx, sampleLocation(driverID, 1)))

	ev := cache.NewEvictor(c, 200*time.Millisecond, nil)
	t.Cleanup(ev.Stop)
	ev.Schedule(driverID)
	time.Sleep(120 * time.Millisecond)
	ev.Schedule(driverID)
	time.Sleep(120 * time.Millisecond)

	_, ok, err := c.Get(ctx, driverID)
	require.NoError(t, err)
	require.True(t, ok, "second schedule should restart the grace period")

	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, driverID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestEvictorKeepsEntryWrittenAfterSchedule(t *testing.T) {
	c := cache.NewMemoryCache()
	ctx := context.Background()
	driverID, other := uuid.New(), uuid.New()
	require.NoError(t, c.Set(ctx, sampleLocation(driverID, 1)))
	require.NoError(t, c.Set(ctx, sampleLocation(other, 1)))

	ev := cache.NewEvictor(c, 30*time.Millisecond, nil)
	t.Cleanup(ev.Stop)
	ev.Schedule(driverID)
	ev.Schedule(other)
	require.NoError(t, c.Set(ctx, sampleLocation(driverID, 2)))

	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, other)
		return !ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !ev.Pending(driverID) }, time.Second, 5*time.Millisecond)

	got, ok, err := c.Get(ctx, driverID)
	require.NoError(t, err)
	require.True(t, ok, "a write after Schedule must outlive the timer")
	require.Equal(t, 2.0, got.Latitude)
}

func TestRedisExpiryArmsAndCancels(t *testing.T) {
	client, mr := newRedisClient(t)
	c := cache.NewRedisCache(client, "")
	ctx := context.Background()
	driverID := uuid.New()
	require.NoError(t, c.Set(ctx, sampleLocation(driverID, 1)))

	exp := cache.NewRedisExpiry(c, time.Minute, nil)
	exp.Schedule(driverID)
	require.True(t, exp.Pending(driverID))
	exp.Cancel(driverID)
	require.False(t, exp.Pending(driverID))

	mr.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, driverID)
	require.NoError(t, err)
	require.True(t, ok)

	exp.Schedule(driverID)
	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, driverID)
	require.NoError(t, err)
	require.False(t, ok)

	exp.Schedule(uuid.New())
	exp.Cancel(uuid.New())
}

func TestRedisExpirySharedAcrossInstances(t *testing.T) {
	client, mr := newRedisClient(t)
	shared := cache.NewRedisCache(client, "")
	ctx := context.Background()
	driverID := uuid.New()

	instanceA := cache.NewRedisExpiry(shared, time.Minute, nil)
	instanceB := cache.NewRedisExpiry(shared, time.Minute, nil)

	require.NoError(t, shared.Set(ctx, sampleLocation(driverID, 1)))
	instanceA.Schedule(driverID)
	require.True(t, instanceB.Pending(driverID))

	require.NoError(t, shared.Set(ctx, sampleLocation(driverID, 2)))
	require.False(t, instanceA.Pending(driverID), "a fresh write clears the expiry armed elsewhere")

	mr.FastForward(2 * time.Minute)
	got, ok, err := shared.Get(ctx, driverID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2.0, got.Latitude)

	instanceA.Schedule(driverID)
	instanceB.Cancel(driverID)
	mr.FastForward(2 * time.Minute)
	_, ok, err = shared.Get(ctx, driverID)
	require.NoError(t, err)
	require.True(t, ok)
}
