package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueEmpty     = errors.New("relay: no visible message")
	ErrQueueNotFound  = errors.New("relay: queue not found")
	ErrReceiptExpired = errors.New("relay: receipt handle is no longer valid")
)

// QueueRecord is the persisted definition of a tenant queue.
type QueueRecord struct {
	ID                string
	Tenant            string
	KeyAlias          string
	DeadLetterID      string
	VisibilityTimeout time.Duration
	MaxAttempts       int
	CreatedAt         time.Time
}

// StoredMessage is a message as held at rest. Body is always ciphertext.
type StoredMessage struct {
	ID             string
	QueueID        string
	Tenant         string
	Body           []byte
	IdempotencyKey string
	Attempts       int
	EnqueuedAt     time.Time
	VisibleAt      time.Time
	ReceiptHandle  string
	Reason         string
}

// Store persists queues and their messages.
type Store interface {
	CreateQueue(ctx context.Context, record QueueRecord) (created bool, err error)
	GetQueue(ctx context.Context, queueID string) (QueueRecord, error)
	// DeleteQueue removes the queue and purges its messages.
	DeleteQueue(ctx context.Context, queueID string) error
	Insert(ctx context.Context, msg StoredMessage) error
	// Receive leases the oldest visible message until now+visibility,
	// increments its attempt count and issues a fresh receipt handle.
	Receive(ctx context.Context, queueID string, now time.Time, visibility time.Duration) (StoredMessage, error)
	Delete(ctx context.Context, queueID string, receipt string) error
	Release(ctx context.Context, queueID string, receipt string, visibleAt time.Time) error
	Depth(ctx context.Context, queueID string) (int, error)
	List(ctx context.Context, queueID string) ([]StoredMessage, error)
}

type MemoryStore struct {
	mu       sync.Mutex
	queues   map[string]QueueRecord
	messages map[string][]StoredMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues:   map[string]QueueRecord{},
		messages: map[string][]StoredMessage{},
	}
}

func (s *MemoryStore) CreateQueue(_ context.Context, record QueueRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[record.ID]; ok {
		return false, nil
	}
	s.queues[record.ID] = record
	return true, nil
}

func (s *MemoryStore) GetQueue(_ context.Context, queueID string) (QueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.queues[queueID]
	if !ok {
		return QueueRecord{}, ErrQueueNotFound
	}
	return record, nil
}

func (s *MemoryStore) DeleteQueue(_ context.Context, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[queueID]; !ok {
		return ErrQueueNotFound
	}
	delete(s.queues, queueID)
	delete(s.messages, queueID)
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, msg StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[msg.QueueID]; !ok {
		return ErrQueueNotFound
	}
	msg.Body = append([]byte(nil), msg.Body...)
	s.messages[msg.QueueID] = append(s.messages[msg.QueueID], msg)
	return nil
}

func (s *MemoryStore) Receive(_ context.Context, queueID string, now time.Time, visibility time.Duration) (StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[queueID]; !ok {
		return StoredMessage{}, ErrQueueNotFound
	}
	messages := s.messages[queueID]
	for i := range messages {
		if messages[i].VisibleAt.After(now) {
			continue
		}
		messages[i].Attempts++
		messages[i].VisibleAt = now.Add(visibility)
		messages[i].ReceiptHandle = uuid.NewString()
		out := messages[i]
		out.Body = append([]byte(nil), out.Body...)
		return out, nil
	}
	return StoredMessage{}, ErrQueueEmpty
}

func (s *MemoryStore) Delete(_ context.Context, queueID string, receipt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.messages[queueID]
	for i := range messages {
		if messages[i].ReceiptHandle == receipt && receipt != "" {
			s.messages[queueID] = append(messages[:i:i], messages[i+1:]...)
			return nil
		}
	}
	return ErrReceiptExpired
}

func (s *MemoryStore) Release(_ context.Context, queueID string, receipt string, visibleAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.messages[queueID]
	for i := range messages {
		if messages[i].ReceiptHandle == receipt && receipt != "" {
			messages[i].VisibleAt = visibleAt
			messages[i].ReceiptHandle = ""
			return nil
		}
	}
	return ErrReceiptExpired
}

func (s *MemoryStore) Depth(_ context.Context, queueID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[queueID]; !ok {
		return 0, ErrQueueNotFound
	}
	return len(s.messages[queueID]), nil
}

func (s *MemoryStore) List(_ context.Context, queueID string) ([]StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredMessage, len(s.messages[queueID]))
	copy(out, s.messages[queueID])
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
