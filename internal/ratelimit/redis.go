package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces bucket keys.
const DefaultRedisPrefix = "rentguard:ratelimit:"

// The bucket is a hash {tokens, ts}; ts is in milliseconds. Refill and
// consumption happen in one script so concurrent callers on any instance see
// a single bucket per key.
var takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens"))
local ts = tonumber(redis.call("HGET", KEYS[1], "ts"))
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(ts))
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// RedisLimiter is a Limiter whose buckets live in Redis, shared by every
// instance that points at the same server.
type RedisLimiter struct {
	client   redis.Scripter
	policies map[Class]Policy
	prefix   string
}

// NewRedisLimiter validates policies and returns a limiter. Keys expire once
// the bucket would have refilled completely.
func NewRedisLimiter(client redis.Scripter, policies map[Class]Policy, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if _, ok := policies[ClassGeneral]; !ok {
		return nil, errors.New("general policy is required")
	}
	for class, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%s policy: %w", class, err)
		}
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLimiter{client: client, policies: policies, prefix: prefix}, nil
}

func (r *RedisLimiter) policy(class Class) (Class, Policy) {
	if p, ok := r.policies[class]; ok {
		return class, p
	}
	return ClassGeneral, r.policies[ClassGeneral]
}

// Key returns the Redis key of a bucket.
func (r *RedisLimiter) Key(identity string, class Class) string {
	return r.prefix + string(class) + ":" + identity
}

// Admit implements Limiter.
func (r *RedisLimiter) Admit(ctx context.Context, identity string, class Class, now time.Time) (Decision, error) {
	class, p := r.policy(class)
	ttl := int64(math.Ceil(float64(p.FillDuration())/float64(time.Millisecond))) + 1000

	res, err := takeTokenScript.Run(ctx, r.client,
		[]string{r.Key(identity, class)},
		p.Capacity, p.RefillPerSecond, now.UnixMilli(), ttl,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis bucket script failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected redis bucket response: %v", res)
	}

	allowed, ok := res[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("invalid redis allow flag: %v", res[0])
	}
	raw, ok := res[1].(string)
	if !ok {
		return Decision{}, fmt.Errorf("invalid redis token count: %v", res[1])
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("invalid redis token count: %w", err)
	}

	return decide(p, allowed == 1, tokens), nil
}
