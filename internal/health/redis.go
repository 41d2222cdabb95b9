package health

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Lua scripts for atomic breaker operations. State transitions touch several
// keys and must not interleave across gateway instances.

// allowScript checks whether a request is allowed and moves open to
// half-open when the cooldown elapsed.
// Keys: [state_key, last_failure_key, successes_key]
// Args: [cooldown_seconds]
// Returns: current state as string
var allowScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local cooldown = tonumber(ARGV[1])

if state == 'open' then
    local lastFailure = tonumber(redis.call('GET', KEYS[2]) or '0')
    local now = tonumber(redis.call('TIME')[1])

    if (now - lastFailure) >= cooldown then
        redis.call('SET', KEYS[1], 'half-open')
        redis.call('SET', KEYS[3], '0')
        return 'half-open'
    end
    return 'open'
end

return state
`)

// recordSuccessScript records a success and closes from half-open once the
// threshold is reached.
// Keys: [state_key, failures_key, successes_key]
// Args: [success_threshold]
// Returns: new state as string
var recordSuccessScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'

if state == 'closed' then
    redis.call('SET', KEYS[2], '0')
    return 'closed'
end

if state == 'half-open' then
    local successes = redis.call('INCR', KEYS[3])
    local threshold = tonumber(ARGV[1])

    if successes >= threshold then
        redis.call('SET', KEYS[1], 'closed')
        redis.call('SET', KEYS[2], '0')
        redis.call('SET', KEYS[3], '0')
        return 'closed'
    end
    return 'half-open'
end

return state
`)

// recordFailureScript records a failure, counting toward open from closed
// and reopening immediately from half-open.
// Keys: [state_key, failures_key, last_failure_key, successes_key]
// Args: [failure_threshold]
// Returns: new state as string
var recordFailureScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local now = redis.call('TIME')[1]

redis.call('SET', KEYS[3], now)

if state == 'closed' then
    local failures = redis.call('INCR', KEYS[2])
    local threshold = tonumber(ARGV[1])

    if failures >= threshold then
        redis.call('SET', KEYS[1], 'open')
        return 'open'
    end
    return 'closed'
end

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'open')
    redis.call('SET', KEYS[4], '0')
    return 'open'
end

return state
`)

// RedisBreaker shares breaker state across gateway instances.
type RedisBreaker struct {
	client     *redis.Client
	providerID string
	config     Config
	keyPrefix  string
}

func NewRedis(redisURL string, providerID string, cfg Config) (*RedisBreaker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBreaker{
		client:     client,
		providerID: providerID,
		config:     cfg,
		keyPrefix:  fmt.Sprintf("health:%s:", providerID),
	}, nil
}

// NewRedisWithClient shares an existing connection pool across breakers.
func NewRedisWithClient(client *redis.Client, providerID string, cfg Config) *RedisBreaker {
	return &RedisBreaker{
		client:     client,
		providerID: providerID,
		config:     cfg,
		keyPrefix:  fmt.Sprintf("health:%s:", providerID),
	}
}

func (b *RedisBreaker) stateKey() string       { return b.keyPrefix + "state" }
func (b *RedisBreaker) failuresKey() string    { return b.keyPrefix + "failures" }
func (b *RedisBreaker) successesKey() string   { return b.keyPrefix + "successes" }
func (b *RedisBreaker) lastFailureKey() string { return b.keyPrefix + "last_failure" }

func (b *RedisBreaker) Allow(ctx context.Context) error {
	keys := []string{b.stateKey(), b.lastFailureKey(), b.successesKey()}
	args := []interface{}{int(b.config.Cooldown.Seconds())}

	result, err := allowScript.Run(ctx, b.client, keys, args...).Text()
	if err != nil {
		// On Redis error, fail open and allow the request.
		return nil
	}

	if result == "open" {
		return domain.ErrProviderUnhealthy
	}
	return nil
}

func (b *RedisBreaker) RecordSuccess(ctx context.Context) {
	keys := []string{b.stateKey(), b.failuresKey(), b.successesKey()}
	args := []interface{}{b.config.SuccessThreshold}

	recordSuccessScript.Run(ctx, b.client, keys, args...)
}

func (b *RedisBreaker) RecordFailure(ctx context.Context) {
	keys := []string{b.stateKey(), b.failuresKey(), b.lastFailureKey(), b.successesKey()}
	args := []interface{}{b.config.FailureThreshold}

	recordFailureScript.Run(ctx, b.client, keys, args...)
}

func (b *RedisBreaker) State(ctx context.Context) State {
	result, err := b.client.Get(ctx, b.stateKey()).Result()
	if err != nil {
		return StateClosed
	}
	return parseState(result)
}

func (b *RedisBreaker) Failures(ctx context.Context) int {
	result, err := b.client.Get(ctx, b.failuresKey()).Result()
	if err != nil {
		return 0
	}
	failures, _ := strconv.Atoi(result)
	return failures
}

// Reset returns the breaker to closed. Useful for manual intervention.
func (b *RedisBreaker) Reset(ctx context.Context) error {
	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.stateKey(), "closed", 0)
	pipe.Set(ctx, b.failuresKey(), "0", 0)
	pipe.Set(ctx, b.successesKey(), "0", 0)
	pipe.Del(ctx, b.lastFailureKey())
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBreaker) Close() error {
	return b.client.Close()
}

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}
