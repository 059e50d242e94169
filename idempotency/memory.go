package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/google/uuid"
)

// DefaultLease bounds how long a processing claim blocks duplicates.
const DefaultLease = 10 * time.Minute

type memoryClaim struct {
	status   core.ClaimStatus
	claimID  string
	attempts int
	lease    time.Duration
	retryAt  time.Time
	expires  time.Time
}

// MemoryStore keeps claims in process with the same lifecycle as RedisStore:
// every record expires like a redis key, a processing claim after its lease,
// a completed one a lease after completion, a failed one a lease after its
// retry time.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	Now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: map[string]memoryClaim{}}
}

func (s *MemoryStore) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, core.BadInputError("idempotency: key is required", nil)
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	current := s.claims[key]
	switch current.status {
	case core.ClaimStatusComplete, core.ClaimStatusProcessing:
		return "", false, nil
	case core.ClaimStatusRetryReady:
		if now.Before(current.retryAt) {
			return "", false, nil
		}
	}
	claimID := key + "#" + uuid.NewString()
	s.claims[key] = memoryClaim{
		status:   core.ClaimStatusProcessing,
		claimID:  claimID,
		attempts: current.attempts + 1,
		lease:    lease,
		expires:  now.Add(lease),
	}
	return claimID, true, nil
}

// State reports the live record of key. Expired records read as
// ClaimStatusNone.
func (s *MemoryStore) State(_ context.Context, key string) (core.ClaimState, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.ClaimState{}, core.BadInputError("idempotency: key is required", nil)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	current, ok := s.claims[key]
	if !ok {
		return core.ClaimState{}, nil
	}
	state := core.ClaimState{Status: current.status, Until: current.expires}
	if current.status == core.ClaimStatusRetryReady {
		state.Until = current.retryAt
	}
	return state, nil
}

func (s *MemoryStore) Complete(_ context.Context, claimID string) error {
	return s.settle(claimID, func(c *memoryClaim, now time.Time) {
		c.status = core.ClaimStatusComplete
		c.expires = now.Add(c.lease)
	})
}

func (s *MemoryStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	return s.settle(claimID, func(c *memoryClaim, now time.Time) {
		if retryAt.IsZero() || retryAt.Before(now) {
			retryAt = now
		}
		c.status = core.ClaimStatusRetryReady
		c.retryAt = retryAt.UTC()
		c.expires = c.retryAt.Add(c.lease)
	})
}

// Attempts reports how many times key has been claimed while its record
// lived.
func (s *MemoryStore) Attempts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[strings.TrimSpace(key)].attempts
}

// settle applies next to the claim owned by claimID. Claims that were
// superseded or expired are ignored.
func (s *MemoryStore) settle(claimID string, next func(c *memoryClaim, now time.Time)) error {
	key, err := claimKey(claimID)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.claims[key]
	if !ok || current.claimID != strings.TrimSpace(claimID) || current.status != core.ClaimStatusProcessing {
		return nil
	}
	if !now.Before(current.expires) {
		delete(s.claims, key)
		return nil
	}
	next(&current, now)
	s.claims[key] = current
	return nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, c := range s.claims {
		if !now.Before(c.expires) {
			delete(s.claims, key)
		}
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.IdempotencyClaimStore = (*MemoryStore)(nil)
