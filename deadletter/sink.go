package deadletter

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/core"
)

// Purger removes every archived dead letter of a tenant.
type Purger interface {
	Purge(ctx context.Context, tenant string) error
}

// Store persists dead letters for inspection and replay.
type Store interface {
	SaveDeadLetter(ctx context.Context, letter core.DeadLetter) error
	ListDeadLetters(ctx context.Context, tenant string) ([]core.DeadLetter, error)
	DeleteDeadLetters(ctx context.Context, tenant string) error
}

// StoreSink archives dead letters into a Store.
type StoreSink struct {
	store Store
}

func NewStoreSink(store Store) *StoreSink {
	if store == nil {
		store = NewMemoryStore()
	}
	return &StoreSink{store: store}
}

func (s *StoreSink) Publish(ctx context.Context, letter core.DeadLetter) error {
	if letter.FailedAt.IsZero() {
		letter.FailedAt = time.Now().UTC()
	}
	return s.store.SaveDeadLetter(ctx, letter)
}

func (s *StoreSink) List(ctx context.Context, tenant string) ([]core.DeadLetter, error) {
	return s.store.ListDeadLetters(ctx, tenant)
}

func (s *StoreSink) Purge(ctx context.Context, tenant string) error {
	return s.store.DeleteDeadLetters(ctx, tenant)
}

// LogSink reports dead letters as delivery expired errors.
type LogSink struct {
	observer *core.Observer
}

func NewLogSink(observer *core.Observer) *LogSink {
	if observer == nil {
		observer = core.NopObserver()
	}
	return &LogSink{observer: observer}
}

func (s *LogSink) Publish(ctx context.Context, letter core.DeadLetter) error {
	err := core.DeliveryExpiredError(letter.Tenant, letter.MessageID, letter.Attempts)
	s.observer.Observe(ctx, letter.FailedAt, "dead_letter", err, map[string]any{
		"tenant":     letter.Tenant,
		"queue":      letter.QueueID,
		"message_id": letter.MessageID,
		"attempts":   letter.Attempts,
		"reason":     letter.Reason,
	})
	return nil
}

// FanOut publishes to every sink and reports all failures together.
type FanOut []core.DeadLetterSink

func (f FanOut) Publish(ctx context.Context, letter core.DeadLetter) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, letter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f FanOut) Purge(ctx context.Context, tenant string) error {
	var errs []error
	for _, sink := range f {
		if purger, ok := sink.(Purger); ok {
			if err := purger.Purge(ctx, tenant); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

type MemoryStore struct {
	mu      sync.Mutex
	letters map[string][]core.DeadLetter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{letters: map[string][]core.DeadLetter{}}
}

func (s *MemoryStore) SaveDeadLetter(_ context.Context, letter core.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	letter.Payload = append([]byte(nil), letter.Payload...)
	s.letters[letter.Tenant] = append(s.letters[letter.Tenant], letter)
	return nil
}

func (s *MemoryStore) ListDeadLetters(_ context.Context, tenant string) ([]core.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.DeadLetter(nil), s.letters[tenant]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteDeadLetters(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.letters, tenant)
	return nil
}

var (
	_ core.DeadLetterSink = (*StoreSink)(nil)
	_ core.DeadLetterSink = (*LogSink)(nil)
	_ core.DeadLetterSink = FanOut(nil)
	_ Purger              = (*StoreSink)(nil)
	_ Purger              = FanOut(nil)
	_ Store               = (*MemoryStore)(nil)
)
