package compliance

import (
	"context"
	"fmt"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisStore reads blacklist/DNC state maintained by the external compliance
// service and keeps the rolling attempt counters.
//
// Key layout (owned by the compliance service, read here):
// - dnc:blacklist                  SET of normalized numbers
// - dnc:list:<country>:<number>    expiry unix seconds (0 = never), key TTL
//                                  mirrors the entry TTL
// - dialer:attempts:1d:<number>    rolling counter, 24h window
// - dialer:attempts:7d:<number>    rolling counter, 7d window
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

const (
	blacklistKey      = "dnc:blacklist"
	dayCounterPrefix  = "dialer:attempts:1d:"
	weekCounterPrefix = "dialer:attempts:7d:"
)

func dncKey(country, number string) string {
	return fmt.Sprintf("dnc:list:%s:%s", country, number)
}

func (s *RedisStore) IsBlacklisted(ctx context.Context, number string) (bool, error) {
	return s.rdb.SIsMember(ctx, blacklistKey, number).Result()
}

func (s *RedisStore) DncLookup(ctx context.Context, number, country string) (DncEntry, bool, error) {
	v, err := s.rdb.Get(ctx, dncKey(country, number)).Int64()
	if err == redis.Nil {
		return DncEntry{}, false, nil
	}
	if err != nil {
		return DncEntry{}, false, err
	}
	e := DncEntry{}
	if v > 0 {
		e.ExpiresAt = time.Unix(v, 0)
	}
	return e, true, nil
}

func (s *RedisStore) AttemptCounts(ctx context.Context, number string) (int, int, error) {
	day, err := utils.GetWindowCounter(ctx, s.rdb, dayCounterPrefix+number)
	if err != nil {
		return 0, 0, err
	}
	week, err := utils.GetWindowCounter(ctx, s.rdb, weekCounterPrefix+number)
	if err != nil {
		return 0, 0, err
	}
	return int(day), int(week), nil
}

func (s *RedisStore) RecordAttempt(ctx context.Context, number string) error {
	if _, err := utils.IncrWindowCounter(ctx, s.rdb, dayCounterPrefix+number, 24*time.Hour); err != nil {
		return err
	}
	_, err := utils.IncrWindowCounter(ctx, s.rdb, weekCounterPrefix+number, 7*24*time.Hour)
	return err
}
