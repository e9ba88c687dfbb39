package cache

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	"PerpLiquidator/internal/observability"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// redisClient is the subset of *redis.Client the store uses
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Assignment is the cached form of a fee-tier assignment
type Assignment struct {
	TierID uint8 `json:"tier_id"`
	Expiry int64 `json:"expiry"` // epoch micros
}

// FeeTierStore mirrors committed fee-tier assignments into Redis with a TTL
// equal to the time left until expiry, so an expired assignment disappears
// on its own. The engine stays the source of truth; the store serves the
// read path and other services that need an account's tier.
type FeeTierStore struct {
	rdb    redisClient
	prefix string
	now    func() time.Time
	logger zerolog.Logger
}

func NewFeeTierStore(rdb redisClient, prefix string) *FeeTierStore {
	if prefix == "" {
		prefix = "perp:feetier"
	}
	return &FeeTierStore{
		rdb:    rdb,
		prefix: prefix,
		now:    time.Now,
		logger: observability.NewLogger("feetier-cache"),
	}
}

func (s *FeeTierStore) key(accountID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", s.prefix, accountID)
}

// Put stores an assignment. An already expired assignment removes the key.
func (s *FeeTierStore) Put(ctx context.Context, accountID uuid.UUID, a Assignment) error {
	ttl := time.UnixMicro(a.Expiry).Sub(s.now())
	if ttl <= 0 {
		return s.rdb.Del(ctx, s.key(accountID)).Err()
	}

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(accountID), data, ttl).Err()
}

// Get returns the cached assignment; ok is false on a miss or when the
// cached assignment has expired.
func (s *FeeTierStore) Get(ctx context.Context, accountID uuid.UUID) (Assignment, bool, error) {
	data, err := s.rdb.Get(ctx, s.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Assignment{}, false, nil
	}
	if err != nil {
		return Assignment{}, false, err
	}

	var a Assignment
	if err := json.Unmarshal(data, &a); err != nil {
		return Assignment{}, false, fmt.Errorf("decode fee tier %s: %w", accountID, err)
	}
	if a.Expiry <= s.now().UnixMicro() {
		return Assignment{}, false, nil
	}
	return a, true, nil
}

// OnCommit mirrors FeeTierAssigned outputs; its signature matches
// persistence.CommitHook. Redis failures are logged and skipped.
func (s *FeeTierStore) OnCommit(ctx context.Context, outputs []core.CoreOutput) {
	for _, out := range outputs {
		assigned, ok := out.Event.(*event.FeeTierAssigned)
		if !ok {
			continue
		}
		if err := s.Put(ctx, assigned.AccountID, Assignment{TierID: assigned.TierID, Expiry: assigned.Expiry}); err != nil {
			s.logger.Warn().Err(err).Str("account_id", assigned.AccountID.String()).Msg("fee tier mirror failed")
		}
	}
}

// TierSource answers fee-tier lookups from the live engine
type TierSource interface {
	GetFeeTierID(accountID uuid.UUID, now int64) uint8
}

// TierOf reads through the cache and falls back to the engine on a miss
// or a Redis error.
func (s *FeeTierStore) TierOf(ctx context.Context, accountID uuid.UUID, engine TierSource) uint8 {
	a, ok, err := s.Get(ctx, accountID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("fee tier cache read failed")
	}
	if ok {
		return a.TierID
	}
	return engine.GetFeeTierID(accountID, s.now().UnixMicro())
}

// NewRedisClient parses a redis:// URL
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}
