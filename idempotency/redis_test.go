package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/google/uuid"
)

// TestRedisStore_Integration requires a running Redis on localhost.
func TestRedisStore_Integration(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	store, err := NewRedisStore(client, WithKeyPrefix("botfactory:test:"+uuid.NewString()+":"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	claimID, accepted, err := store.Claim(ctx, "relay::SimpBot::m-1", time.Minute)
	if err != nil || !accepted {
		t.Fatalf("expected first claim, got accepted=%v err=%v", accepted, err)
	}
	if _, accepted, _ := store.Claim(ctx, "relay::SimpBot::m-1", time.Minute); accepted {
		t.Fatalf("expected duplicate claim to be rejected")
	}
	if state, err := store.State(ctx, "relay::SimpBot::m-1"); err != nil || state.Status != core.ClaimStatusProcessing {
		t.Fatalf("expected processing state, got %+v %v", state, err)
	}
	if err := store.Fail(ctx, claimID, errors.New("boom"), time.Now()); err != nil {
		t.Fatalf("fail: %v", err)
	}
	retryID, accepted, err := store.Claim(ctx, "relay::SimpBot::m-1", time.Minute)
	if err != nil || !accepted {
		t.Fatalf("expected retry claim, got accepted=%v err=%v", accepted, err)
	}
	if err := store.Complete(ctx, retryID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, accepted, _ := store.Claim(ctx, "relay::SimpBot::m-1", time.Minute); accepted {
		t.Fatalf("expected completed claim to reject duplicates")
	}
	if state, err := store.State(ctx, "relay::SimpBot::m-1"); err != nil || state.Status != core.ClaimStatusComplete {
		t.Fatalf("expected complete state, got %+v %v", state, err)
	}
}

func TestStateFromReply(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if state := stateFromReply([]any{"", int64(0), int64(0)}, now); state.Status != core.ClaimStatusNone {
		t.Fatalf("expected empty state, got %+v", state)
	}
	processing := stateFromReply([]any{"processing", int64(0), int64(30000)}, now)
	if processing.Status != core.ClaimStatusProcessing || !processing.Until.Equal(now.Add(30*time.Second)) {
		t.Fatalf("unexpected processing state %+v", processing)
	}
	retryAt := now.Add(5 * time.Second)
	retry := stateFromReply([]any{"retry_ready", retryAt.UnixMilli(), int64(65000)}, now)
	if retry.Status != core.ClaimStatusRetryReady || !retry.Until.Equal(retryAt) {
		t.Fatalf("unexpected retry state %+v", retry)
	}
	if state := stateFromReply([]any{"processing"}, now); state.Status != core.ClaimStatusNone {
		t.Fatalf("expected malformed reply to read as no claim, got %+v", state)
	}
}

func TestClaimKeyParsing(t *testing.T) {
	key, err := claimKey("botfactory:claim:relay::SimpBot::m%231#abc")
	if err != nil {
		t.Fatalf("claim key: %v", err)
	}
	if key != "botfactory:claim:relay::SimpBot::m%231" {
		t.Fatalf("unexpected key %q", key)
	}
	if _, err := claimKey("no-separator"); err == nil {
		t.Fatalf("expected invalid claim id error")
	}
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	if _, err := NewRedisClient("http://nope"); err == nil {
		t.Fatalf("expected invalid redis url error")
	}
}
