package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/config"
)

func newMiniredisClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

var errBoom = errors.New("boom")

func TestKey_DistinguishesStringAndNumber(t *testing.T) {
	k1, err := Key("p", map[string]any{"v": "1"})
	require.NoError(t, err)
	k2, err := Key("p", map[string]any{"v": 1})
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

func TestKey_StableAcrossCalls(t *testing.T) {
	args := struct {
		Query string
		Num   int
	}{Query: "golang", Num: 3}
	k1, err := Key("search", args)
	require.NoError(t, err)
	k2, err := Key("search", args)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestGetOrSet_WithoutStoreAlwaysRecomputes(t *testing.T) {
	c := New(config.CacheConfig{TTLSeconds: 60}, nil)
	calls := 0
	fn := func() (string, error) {
		calls++
		return "value", nil
	}
	v1, err := GetOrSet(context.Background(), c, "k", fn)
	require.NoError(t, err)
	require.Equal(t, "value", v1)
	v2, err := GetOrSet(context.Background(), c, "k", fn)
	require.NoError(t, err)
	require.Equal(t, "value", v2)
	require.Equal(t, 2, calls, "without a backing store every call is a miss")
}

func TestGetOrSet_PropagatesFnError(t *testing.T) {
	c := New(config.CacheConfig{TTLSeconds: 60}, nil)
	_, err := GetOrSet(context.Background(), c, "k", func() (string, error) {
		return "", errBoom
	})
	require.ErrorIs(t, err, errBoom)
}

func TestGetOrSet_WithRedisBackedStoreSecondCallIsAHit(t *testing.T) {
	c := New(config.CacheConfig{TTLSeconds: 60}, newMiniredisClient(t))
	calls := 0
	fn := func() (string, error) {
		calls++
		return "value", nil
	}
	v1, err := GetOrSet(context.Background(), c, "k", fn)
	require.NoError(t, err)
	require.Equal(t, "value", v1)

	v2, err := GetOrSet(context.Background(), c, "k", fn)
	require.NoError(t, err)
	require.Equal(t, "value", v2)
	require.Equal(t, 1, calls, "second call within TTL must be served from the store without invoking fn")
}

func TestGetOrSet_WithRedisBackedStoreDistinctKeysDoNotCollide(t *testing.T) {
	c := New(config.CacheConfig{TTLSeconds: 60}, newMiniredisClient(t))
	v1, err := GetOrSet(context.Background(), c, "k1", func() (string, error) { return "one", nil })
	require.NoError(t, err)
	v2, err := GetOrSet(context.Background(), c, "k2", func() (string, error) { return "two", nil })
	require.NoError(t, err)
	require.Equal(t, "one", v1)
	require.Equal(t, "two", v2)
}
