package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "botfactory:claim:"

// KEYS[1] claim key
// ARGV[1] claim id, ARGV[2] now (ms), ARGV[3] lease (ms)
var claimScript = redis.NewScript(`
local key = KEYS[1]
local status = redis.call("HGET", key, "status")
if status == "complete" or status == "processing" then
    return 0
end
if status == "retry_ready" then
    local retry_at = tonumber(redis.call("HGET", key, "retry_at") or "0")
    if tonumber(ARGV[2]) < retry_at then
        return 0
    end
end
local attempts = tonumber(redis.call("HGET", key, "attempts") or "0") + 1
redis.call("DEL", key)
redis.call("HSET", key, "status", "processing", "claim_id", ARGV[1], "lease_ms", ARGV[3], "attempts", attempts)
redis.call("PEXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// KEYS[1] claim key
// ARGV[1] claim id, ARGV[2] next status, ARGV[3] retry_at (ms), ARGV[4] ttl (ms)
var settleScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", key, "claim_id") ~= ARGV[1] then
    return 0
end
if redis.call("HGET", key, "status") ~= "processing" then
    return 0
end
redis.call("HSET", key, "status", ARGV[2], "retry_at", ARGV[3])
redis.call("PEXPIRE", key, tonumber(ARGV[4]))
return 1
`)

// KEYS[1] claim key
// Returns status, retry_at (ms) and the remaining ttl (ms).
var stateScript = redis.NewScript(`
local key = KEYS[1]
local status = redis.call("HGET", key, "status")
if not status then
    return {"", 0, 0}
end
local retry_at = tonumber(redis.call("HGET", key, "retry_at") or "0")
return {status, retry_at, redis.call("PTTL", key)}
`)

// RedisStore shares claims between processor replicas. A processing claim
// expires with its lease, so a crashed worker never blocks redelivery.
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.Scripter, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("idempotency: redis client is required")
	}
	store := &RedisStore{
		client: client,
		prefix: redisKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// NewRedisClient opens a client from a redis:// url.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, "idempotency: invalid redis url", core.ErrorBadRequest, nil)
	}
	return redis.NewClient(options), nil
}

func (s *RedisStore) Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, core.BadInputError("idempotency: key is required", nil)
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	redisKey := s.prefix + key
	claimID := redisKey + "#" + uuid.NewString()
	accepted, err := claimScript.Run(ctx, s.client, []string{redisKey},
		claimID, s.now().UnixMilli(), lease.Milliseconds()).Int64()
	if err != nil {
		return "", false, redisWrap(err, "idempotency: claim", key)
	}
	if accepted != 1 {
		return "", false, nil
	}
	return claimID, true, nil
}

func (s *RedisStore) State(ctx context.Context, key string) (core.ClaimState, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.ClaimState{}, core.BadInputError("idempotency: key is required", nil)
	}
	raw, err := stateScript.Run(ctx, s.client, []string{s.prefix + key}).Slice()
	if err != nil {
		return core.ClaimState{}, redisWrap(err, "idempotency: read claim", key)
	}
	return stateFromReply(raw, s.now()), nil
}

// stateFromReply decodes the state script reply taken at now.
func stateFromReply(raw []any, now time.Time) core.ClaimState {
	if len(raw) != 3 {
		return core.ClaimState{}
	}
	status, _ := raw[0].(string)
	retryAt, _ := raw[1].(int64)
	ttl, _ := raw[2].(int64)
	state := core.ClaimState{Status: core.ClaimStatus(status)}
	switch state.Status {
	case core.ClaimStatusNone:
	case core.ClaimStatusRetryReady:
		state.Until = time.UnixMilli(retryAt).UTC()
	default:
		if ttl > 0 {
			state.Until = now.Add(time.Duration(ttl) * time.Millisecond)
		}
	}
	return state
}

// Complete keeps the completed marker for the claim lease so duplicates
// arriving within that window are skipped.
func (s *RedisStore) Complete(ctx context.Context, claimID string) error {
	redisKey, err := claimKey(claimID)
	if err != nil {
		return err
	}
	ttl, err := s.leaseOf(ctx, redisKey)
	if err != nil {
		return err
	}
	return s.settle(ctx, redisKey, claimID, string(core.ClaimStatusComplete), 0, ttl)
}

func (s *RedisStore) Fail(ctx context.Context, claimID string, _ error, retryAt time.Time) error {
	redisKey, err := claimKey(claimID)
	if err != nil {
		return err
	}
	ttl, err := s.leaseOf(ctx, redisKey)
	if err != nil {
		return err
	}
	now := s.now()
	if retryAt.IsZero() || retryAt.Before(now) {
		retryAt = now
	}
	ttl += retryAt.Sub(now).Milliseconds()
	return s.settle(ctx, redisKey, claimID, string(core.ClaimStatusRetryReady), retryAt.UnixMilli(), ttl)
}

func (s *RedisStore) settle(ctx context.Context, redisKey string, claimID string, status string, retryAt int64, ttl int64) error {
	if ttl <= 0 {
		ttl = DefaultLease.Milliseconds()
	}
	if _, err := settleScript.Run(ctx, s.client, []string{redisKey}, claimID, status, retryAt, ttl).Int64(); err != nil {
		return redisWrap(err, "idempotency: settle claim", strings.TrimPrefix(redisKey, s.prefix))
	}
	return nil
}

func (s *RedisStore) leaseOf(ctx context.Context, redisKey string) (int64, error) {
	client, ok := s.client.(redis.Cmdable)
	if !ok {
		return DefaultLease.Milliseconds(), nil
	}
	raw, err := client.HGet(ctx, redisKey, "lease_ms").Int64()
	if err == redis.Nil {
		return DefaultLease.Milliseconds(), nil
	}
	if err != nil {
		return 0, redisWrap(err, "idempotency: read lease", strings.TrimPrefix(redisKey, s.prefix))
	}
	return raw, nil
}

func claimKey(claimID string) (string, error) {
	claimID = strings.TrimSpace(claimID)
	idx := strings.LastIndex(claimID, "#")
	if idx <= 0 {
		return "", core.BadInputError("idempotency: claim id is invalid", map[string]any{"claim_id": claimID})
	}
	return claimID[:idx], nil
}

func redisWrap(err error, message string, key string) error {
	return core.WrapError(err, goerrors.CategoryExternal, message, core.ErrorInternal, map[string]any{"key": key})
}

var _ core.IdempotencyClaimStore = (*RedisStore)(nil)
