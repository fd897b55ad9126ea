package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// hitScript はHitの規則をRedis上でアトミックに適用する。
// 戻り値は超過時1、許可時0。
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'count', 'start_ms')
local count = tonumber(state[1])
local start = tonumber(state[2])

if count == nil or start == nil or now_ms - start > window_ms then
	count = 0
	start = now_ms
end

local exceeded = 0
if count >= limit then
	exceeded = 1
else
	count = count + 1
end

redis.call('HSET', key, 'count', count, 'start_ms', start)
redis.call('PEXPIRE', key, window_ms + 1000)

return exceeded
`)

// RedisStore はRedisのハッシュでバケットを保持するCounterStore。
// 複数インスタンスで同じRedisを参照すれば制限を共有できる。
type RedisStore struct {
	client redis.Scripter
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// Hit はCounterStoreを実装する。
func (s *RedisStore) Hit(ctx context.Context, key string, policy Policy, now time.Time) (bool, error) {
	res, err := hitScript.Run(ctx, s.client, []string{redisKeyPrefix + key},
		now.UnixMilli(),
		policy.Limit,
		policy.Window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return res == 1, nil
}

// compile-time interface check
var _ CounterStore = (*RedisStore)(nil)
