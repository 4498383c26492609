package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	repo "product-order-api/internal/repository"

	"github.com/go-redis/redis/v8"
)

const pendingMarker = "pending"

// Idempotency-Keyの保存先（Redis）。
// 値は処理中なら "pending"、完了後は作成した注文ID。
type IdempotencyRedis struct {
	rdb redis.Cmdable
	ttl time.Duration
}

var _ repo.IdempotencyStore = (*IdempotencyRedis)(nil)

func NewIdempotencyRedis(rdb redis.Cmdable, ttl time.Duration) *IdempotencyRedis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyRedis{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string {
	return fmt.Sprintf("idempotency:order:%s", key)
}

func (s *IdempotencyRedis) Reserve(ctx context.Context, key string) (int64, bool, error) {
	k := redisKey(key)

	ok, err := s.rdb.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}

	val, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		//SETNXとGETの間に期限切れ。もう一度だけ予約を試す
		ok, err = s.rdb.SetNX(ctx, k, pendingMarker, s.ttl).Result()
		if err != nil {
			return 0, false, err
		}
		if ok {
			return 0, true, nil
		}
		return 0, false, repo.ErrIdempotencyInProgress
	}
	if err != nil {
		return 0, false, err
	}
	if val == pendingMarker {
		return 0, false, repo.ErrIdempotencyInProgress
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency value %q: %w", val, err)
	}
	return id, false, nil
}

func (s *IdempotencyRedis) Complete(ctx context.Context, key string, orderID int64) error {
	return s.rdb.Set(ctx, redisKey(key), strconv.FormatInt(orderID, 10), s.ttl).Err()
}

func (s *IdempotencyRedis) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKey(key)).Err()
}

// REDIS_ADDRからクライアントを作る
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
