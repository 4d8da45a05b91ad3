package ratelimit

import (
	"context"
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

func TestCheckDaily_AdminBypasses(t *testing.T) {
	l := New(config.RateLimitConfig{DailyRequestLimit: 1, AdminUserIDs: []string{"admin-1"}}, nil)
	d := l.CheckDaily(context.Background(), "admin-1")
	require.True(t, d.Allowed)
}

func TestCheckDaily_FailsOpenWithoutStore(t *testing.T) {
	l := New(config.RateLimitConfig{DailyRequestLimit: 1}, nil)
	// No Redis client configured: every call must fail open.
	for i := 0; i < 5; i++ {
		d := l.CheckDaily(context.Background(), "user-1")
		require.True(t, d.Allowed)
	}
}

func TestCheckGlobal_FailsOpenWithoutStore(t *testing.T) {
	l := New(config.RateLimitConfig{GlobalMax: 1, GlobalWindowMillis: 1000}, nil)
	d := l.CheckGlobal(context.Background(), 2)
	require.True(t, d.Allowed)
}

func TestAdmit_WithoutStoreFallsThroughToGlobal(t *testing.T) {
	// With no store, daily always allows, so Admit falls through to the
	// global check, which also allows without a store.
	l := New(config.RateLimitConfig{DailyRequestLimit: 0, GlobalMax: 10, GlobalWindowMillis: 1000}, nil)
	d := l.Admit(context.Background(), "user-1", 0)
	require.True(t, d.Allowed)
}

func TestCheckDaily_WithRedisBackedStoreDeniesPastLimit(t *testing.T) {
	l := New(config.RateLimitConfig{DailyRequestLimit: 2}, newMiniredisClient(t))
	require.True(t, l.CheckDaily(context.Background(), "user-1").Allowed)
	require.True(t, l.CheckDaily(context.Background(), "user-1").Allowed)
	d := l.CheckDaily(context.Background(), "user-1")
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
}

func TestCheckDaily_WithRedisBackedStoreCountersAreIndependentPerUser(t *testing.T) {
	l := New(config.RateLimitConfig{DailyRequestLimit: 1}, newMiniredisClient(t))
	require.True(t, l.CheckDaily(context.Background(), "user-1").Allowed)
	require.False(t, l.CheckDaily(context.Background(), "user-1").Allowed)
	require.True(t, l.CheckDaily(context.Background(), "user-2").Allowed)
}

func TestAdmit_WithRedisBackedStoreDailyDenialLeavesGlobalCounterUnchanged(t *testing.T) {
	l := New(config.RateLimitConfig{DailyRequestLimit: 0, GlobalMax: 10, GlobalWindowMillis: 1000}, newMiniredisClient(t))
	d := l.Admit(context.Background(), "user-1", 0)
	require.False(t, d.Allowed, "daily limit of 0 must deny the first request")
	g := l.checkGlobalOnce(context.Background())
	require.Equal(t, 9, g.Remaining, "the daily denial must not have incremented the global counter")
}

func TestCheckGlobal_WithRedisBackedStoreDeniesPastLimit(t *testing.T) {
	l := New(config.RateLimitConfig{GlobalMax: 1, GlobalWindowMillis: 60000}, newMiniredisClient(t))
	require.True(t, l.CheckGlobal(context.Background(), 0).Allowed)
	require.False(t, l.CheckGlobal(context.Background(), 0).Allowed)
}
