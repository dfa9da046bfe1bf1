package middleware

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript はトークンバケットの補充と消費をRedis上で原子的に行う。
// KEYS[1] = バケットキー
// ARGV[1] = 補充レート（tokens/sec）
// ARGV[2] = 容量
// ARGV[3] = 現在時刻（UNIX秒、マイクロ秒精度）
// ARGV[4] = キーの有効期限（秒）
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return allowed
`)

// redisKeyPrefix はレート制限バケットのキー接頭辞。
const redisKeyPrefix = "habitloop:ratelimit:"

// RedisLimiterStore はRedisにバケットを保持するLimiterStore。
// 複数のAPIレプリカでレート制限を共有する場合に使用する。
type RedisLimiterStore struct {
	client redis.Scripter
}

// NewRedisLimiterStore はRedisLimiterStoreを生成する。
func NewRedisLimiterStore(client redis.Scripter) *RedisLimiterStore {
	return &RedisLimiterStore{client: client}
}

// Allow はLuaスクリプトでバケットを更新し、消費できた場合にtrueを返す。
func (s *RedisLimiterStore) Allow(ctx context.Context, key string, policy Policy) (bool, error) {
	rate := float64(policy.Rate)
	if rate <= 0 {
		rate = 1.0
	}
	// 空のバケットが満杯に戻るまでの時間を有効期限とする
	ttl := int(math.Ceil(float64(policy.Burst)/rate)) + 1
	now := float64(time.Now().UnixMicro()) / 1e6

	allowed, err := tokenBucketScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + key}, rate, policy.Burst, now, ttl,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}
	return allowed == 1, nil
}

var _ LimiterStore = (*RedisLimiterStore)(nil)
