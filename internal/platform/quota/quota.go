package quota

import (
	"context"
	"time"

	"alttext/internal/logger"
	rds "alttext/internal/platform/redis"

	redisv8 "github.com/go-redis/redis/v8"
)

// Limits holds the monthly generation allowance per plan tier.
// A negative limit means unlimited.
type Limits struct {
	Free int
	Pro  int
}

// Service enforces per-account monthly generation quotas on top of Redis.
// The billing collaborator owns tier assignment; we only read it.
type Service struct {
	redis  *rds.Service
	limits Limits
	log    *logger.Logger
}

func New(redis *rds.Service, limits Limits) *Service {
	return &Service{redis: redis, limits: limits, log: logger.New("Quota")}
}

// CheckAndReserve atomically reserves n generation credits for the account's
// current month. Returns false when the reservation would exceed the tier
// limit; the reservation is rolled back in that case.
func (s *Service) CheckAndReserve(ctx context.Context, account string, n int) (bool, error) {
	limit := s.limitFor(ctx, account)
	if limit < 0 {
		return true, nil
	}

	key := usageKey(account)
	used, err := s.redis.Client().IncrBy(ctx, key, int64(n)).Result()
	if err != nil {
		return false, err
	}
	if used == int64(n) {
		// First reservation this month; expire after the billing window.
		_ = s.redis.Client().Expire(ctx, key, 40*24*time.Hour).Err()
	}
	if used > int64(limit) {
		_ = s.redis.Client().DecrBy(ctx, key, int64(n)).Err()
		s.log.LogDebugf("quota exhausted account=%s used=%d limit=%d", account, used-int64(n), limit)
		return false, nil
	}
	return true, nil
}

// Usage returns the account's reserved credits for the current month.
func (s *Service) Usage(ctx context.Context, account string) (int, error) {
	v, err := s.redis.Client().Get(ctx, usageKey(account)).Int()
	if err == redisv8.Nil {
		return 0, nil
	}
	return v, err
}

func (s *Service) limitFor(ctx context.Context, account string) int {
	tier, err := s.redis.Client().Get(ctx, "tier:"+account).Result()
	if err != nil {
		tier = "free"
	}
	if tier == "pro" {
		return s.limits.Pro
	}
	return s.limits.Free
}

func usageKey(account string) string {
	return "quota:" + account + ":" + time.Now().UTC().Format("200601")
}
