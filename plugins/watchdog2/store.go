package watchdog2

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrContactNotFound is returned by ContactStore.Get for unregistered users.
var ErrContactNotFound = errors.New("watchdog2: contact not found")

// Contact is one row of the contact_info table, keyed by Discord user.
type Contact struct {
	Tenant      string
	DiscordUser string
	PhoneNumber string
	UpdatedAt   time.Time
}

type ContactStore interface {
	Upsert(ctx context.Context, contact Contact) error
	Get(ctx context.Context, tenant string, discordUser string) (Contact, error)
	List(ctx context.Context, tenant string) ([]Contact, error)
	DeleteTenant(ctx context.Context, tenant string) error
}

type MemoryStore struct {
	mu       sync.Mutex
	contacts map[string]Contact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contacts: map[string]Contact{}}
}

func contactKey(tenant string, user string) string {
	return tenant + "\x00" + user
}

func (s *MemoryStore) Upsert(_ context.Context, contact Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contactKey(contact.Tenant, contact.DiscordUser)] = contact
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenant string, discordUser string) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[contactKey(tenant, discordUser)]
	if !ok {
		return Contact{}, ErrContactNotFound
	}
	return contact, nil
}

func (s *MemoryStore) List(_ context.Context, tenant string) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contact, 0)
	for _, contact := range s.contacts {
		if contact.Tenant == tenant {
			out = append(out, contact)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscordUser < out[j].DiscordUser })
	return out, nil
}

func (s *MemoryStore) DeleteTenant(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, contact := range s.contacts {
		if contact.Tenant == tenant {
			delete(s.contacts, key)
		}
	}
	return nil
}

var _ ContactStore = (*MemoryStore)(nil)
