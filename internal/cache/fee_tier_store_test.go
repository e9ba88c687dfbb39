package cache

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.values[key] = value.([]byte)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type fixedTier uint8

func (t fixedTier) GetFeeTierID(uuid.UUID, int64) uint8 { return uint8(t) }

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func newStore(rdb redisClient) *FeeTierStore {
	s := NewFeeTierStore(rdb, "")
	s.now = func() time.Time { return now }
	return s
}

func TestFeeTierStore_PutSetsTTLToExpiry(t *testing.T) {
	rdb := newFakeRedis()
	s := newStore(rdb)
	acc := uuid.New()

	require.NoError(t, s.Put(context.Background(), acc, Assignment{TierID: 3, Expiry: now.Add(time.Hour).UnixMicro()}))
	assert.Equal(t, time.Hour, rdb.ttls["perp:feetier:"+acc.String()])

	a, ok, err := s.Get(context.Background(), acc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint8(3), a.TierID)
}

func TestFeeTierStore_ExpiredAssignmentDeletes(t *testing.T) {
	rdb := newFakeRedis()
	s := newStore(rdb)
	acc := uuid.New()

	require.NoError(t, s.Put(context.Background(), acc, Assignment{TierID: 3, Expiry: now.Add(time.Hour).UnixMicro()}))
	require.NoError(t, s.Put(context.Background(), acc, Assignment{TierID: 3, Expiry: now.Add(-time.Second).UnixMicro()}))
	assert.Empty(t, rdb.values)

	_, ok, err := s.Get(context.Background(), acc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFeeTierStore_TierOfFallsBackToEngine(t *testing.T) {
	rdb := newFakeRedis()
	s := newStore(rdb)
	acc := uuid.New()

	assert.Equal(t, uint8(7), s.TierOf(context.Background(), acc, fixedTier(7)), "miss reads the engine")

	require.NoError(t, s.Put(context.Background(), acc, Assignment{TierID: 2, Expiry: now.Add(time.Minute).UnixMicro()}))
	assert.Equal(t, uint8(2), s.TierOf(context.Background(), acc, fixedTier(7)))

	rdb.getErr = errors.New("connection reset")
	assert.Equal(t, uint8(7), s.TierOf(context.Background(), acc, fixedTier(7)), "redis errors read the engine")
}

func TestFeeTierStore_OnCommitMirrorsAssignments(t *testing.T) {
	rdb := newFakeRedis()
	s := newStore(rdb)
	acc := uuid.New()

	s.OnCommit(context.Background(), []core.CoreOutput{
		{Event: &event.PriceUpdated{Market: "BTC-USD-PERP", Price: 1, PriceSequence: 1}},
		{Event: &event.FeeTierAssigned{AccountID: acc, TierID: 4, Expiry: now.Add(24 * time.Hour).UnixMicro()}},
	})

	require.Len(t, rdb.values, 1)
	a, ok, err := s.Get(context.Background(), acc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint8(4), a.TierID)
}
