package credentials

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/core"
)

var (
	ErrSecretNotFound = errors.New("credentials: secret not found")
	ErrSecretExists   = errors.New("credentials: secret already exists")
)

// SecretRecord is the persisted, encrypted tenant secret.
type SecretRecord struct {
	Name       string
	Tenant     string
	KeyAlias   string
	Ciphertext []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Grant allows one principal to read one secret.
type Grant struct {
	SecretName string
	Tenant     string
	Role       core.Role
	Principal  string
	CreatedAt  time.Time
}

type Store interface {
	GetSecret(ctx context.Context, name string) (SecretRecord, error)
	CreateSecret(ctx context.Context, record SecretRecord) error
	UpdateSecret(ctx context.Context, record SecretRecord) error
	DeleteSecret(ctx context.Context, name string) error
	PutGrant(ctx context.Context, grant Grant) error
	ListGrants(ctx context.Context, secretName string) ([]Grant, error)
	DeleteGrants(ctx context.Context, secretName string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]SecretRecord
	grants  map[string]map[string]Grant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: map[string]SecretRecord{},
		grants:  map[string]map[string]Grant{},
	}
}

func (s *MemoryStore) GetSecret(_ context.Context, name string) (SecretRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.secrets[name]
	if !ok {
		return SecretRecord{}, ErrSecretNotFound
	}
	record.Ciphertext = append([]byte(nil), record.Ciphertext...)
	return record, nil
}

func (s *MemoryStore) CreateSecret(_ context.Context, record SecretRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[record.Name]; ok {
		return ErrSecretExists
	}
	record.Ciphertext = append([]byte(nil), record.Ciphertext...)
	s.secrets[record.Name] = record
	return nil
}

func (s *MemoryStore) UpdateSecret(_ context.Context, record SecretRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.secrets[record.Name]
	if !ok {
		return ErrSecretNotFound
	}
	existing.Ciphertext = append([]byte(nil), record.Ciphertext...)
	existing.UpdatedAt = record.UpdatedAt
	s.secrets[record.Name] = existing
	return nil
}

func (s *MemoryStore) DeleteSecret(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[name]; !ok {
		return ErrSecretNotFound
	}
	delete(s.secrets, name)
	return nil
}

func (s *MemoryStore) PutGrant(_ context.Context, grant Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.grants[grant.SecretName]
	if grants == nil {
		grants = map[string]Grant{}
		s.grants[grant.SecretName] = grants
	}
	if _, ok := grants[grant.Principal]; !ok {
		grants[grant.Principal] = grant
	}
	return nil
}

func (s *MemoryStore) ListGrants(_ context.Context, secretName string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Grant, 0, len(s.grants[secretName]))
	for _, grant := range s.grants[secretName] {
		out = append(out, grant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Principal < out[j].Principal })
	return out, nil
}

func (s *MemoryStore) DeleteGrants(_ context.Context, secretName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, secretName)
	return nil
}

var _ Store = (*MemoryStore)(nil)
