package security

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var ErrKeyNotFound = errors.New("security: key not found")

// KeyRecord is the persisted state of one tenant key. Key material is derived
// from the master key, the salt and the version, and is never stored.
type KeyRecord struct {
	Alias     string
	Tenant    string
	Version   int
	Salt      []byte
	CreatedAt time.Time
	RotatedAt time.Time
}

type KeyStore interface {
	GetKey(ctx context.Context, alias string) (KeyRecord, error)
	SaveKey(ctx context.Context, record KeyRecord) error
	DeleteKey(ctx context.Context, alias string) error
}

type KeyRingOption func(*KeyRing)

func WithRotationPeriod(period time.Duration) KeyRingOption {
	return func(ring *KeyRing) {
		ring.rotation = period
	}
}

func WithKeyRingClock(now func() time.Time) KeyRingOption {
	return func(ring *KeyRing) {
		if now != nil {
			ring.now = now
		}
	}
}

// KeyRing manages tenant scoped rotating keys. Destroying a key makes every
// ciphertext sealed under any of its versions unreadable.
type KeyRing struct {
	mu       sync.Mutex
	store    KeyStore
	master   []byte
	rotation time.Duration
	now      func() time.Time
}

func NewKeyRing(master []byte, store KeyStore, opts ...KeyRingOption) (*KeyRing, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("security: master key is required")
	}
	if store == nil {
		store = NewMemoryKeyStore()
	}
	ring := &KeyRing{
		store:    store,
		master:   stretchKey(master),
		rotation: 90 * 24 * time.Hour,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ring)
		}
	}
	return ring, nil
}

// Ensure creates the key when absent. created is false when it already existed.
func (r *KeyRing) Ensure(ctx context.Context, tenant string, alias string) (KeyRecord, bool, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return KeyRecord{}, false, fmt.Errorf("security: key alias is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.GetKey(ctx, alias)
	if err == nil {
		if existing.Tenant != tenant {
			return KeyRecord{}, false, fmt.Errorf("security: key %q belongs to another tenant", alias)
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return KeyRecord{}, false, err
	}
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return KeyRecord{}, false, fmt.Errorf("security: salt generation failed: %w", err)
	}
	now := r.now()
	record := KeyRecord{
		Alias:     alias,
		Tenant:    tenant,
		Version:   1,
		Salt:      salt,
		CreatedAt: now,
		RotatedAt: now,
	}
	if err := r.store.SaveKey(ctx, record); err != nil {
		return KeyRecord{}, false, err
	}
	return record, true, nil
}

func (r *KeyRing) Rotate(ctx context.Context, alias string) (KeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked(ctx, alias)
}

func (r *KeyRing) rotateLocked(ctx context.Context, alias string) (KeyRecord, error) {
	record, err := r.store.GetKey(ctx, alias)
	if err != nil {
		return KeyRecord{}, err
	}
	record.Version++
	record.RotatedAt = r.now()
	if err := r.store.SaveKey(ctx, record); err != nil {
		return KeyRecord{}, err
	}
	return record, nil
}

// Provider returns a sealer for the current version of alias, rotating first
// when the rotation period has elapsed. Every earlier version stays readable.
// The sealer stops sealing once its version is due for rotation.
func (r *KeyRing) Provider(ctx context.Context, alias string) (*VersionedSealer, error) {
	r.mu.Lock()
	record, err := r.store.GetKey(ctx, alias)
	if err == nil && r.rotation > 0 && !r.now().Before(record.RotatedAt.Add(r.rotation)) {
		record, err = r.rotateLocked(ctx, alias)
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	opts := []SealerOption{
		WithTenant(record.Tenant),
		WithReadableVersions(1, record.Version),
		WithSealerClock(r.now),
	}
	if r.rotation > 0 {
		opts = append(opts, WithSealWindow(record.Version, SealWindow{NotAfter: record.RotatedAt.Add(r.rotation)}))
	}
	return NewVersionedSealer(ringService{ring: r}, alias, record.Version, opts...)
}

// Destroy removes alias. Destroying a missing key is not an error.
func (r *KeyRing) Destroy(ctx context.Context, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.store.DeleteKey(ctx, alias)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	return err
}

func (r *KeyRing) Lookup(ctx context.Context, alias string) (KeyRecord, error) {
	return r.store.GetKey(ctx, alias)
}

func (r *KeyRing) material(record KeyRecord, version int) []byte {
	mac := hmac.New(sha256.New, r.master)
	mac.Write(record.Salt)
	mac.Write([]byte{0})
	mac.Write([]byte(record.Alias))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(version))
	mac.Write(buf[:])
	return mac.Sum(nil)
}

// ringService is the KeyService backed by the key ring.
type ringService struct {
	ring *KeyRing
}

// versionKey returns the key material and the associated data binding a
// payload to alias, version and tenant.
func (c ringService) versionKey(ctx context.Context, alias string, version int, tenant string) ([]byte, []byte, error) {
	record, err := c.ring.store.GetKey(ctx, alias)
	if err != nil {
		return nil, nil, err
	}
	if record.Tenant != tenant {
		return nil, nil, fmt.Errorf("security: key %q is not owned by tenant %q", alias, tenant)
	}
	if version <= 0 || version > record.Version {
		return nil, nil, fmt.Errorf("security: key %q has no version %d", alias, version)
	}
	aad := fmt.Appendf(nil, "%s|%d|%s", alias, version, record.Tenant)
	return c.ring.material(record, version), aad, nil
}

func (c ringService) Seal(ctx context.Context, req SealRequest) ([]byte, error) {
	key, aad, err := c.versionKey(ctx, req.Alias, req.Version, req.Tenant)
	if err != nil {
		return nil, err
	}
	return sealGCM(key, req.Plaintext, aad)
}

func (c ringService) Open(ctx context.Context, req OpenRequest) ([]byte, error) {
	key, aad, err := c.versionKey(ctx, req.Alias, req.Version, req.Tenant)
	if err != nil {
		return nil, err
	}
	return openGCM(key, req.Ciphertext, aad)
}

type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]KeyRecord
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: map[string]KeyRecord{}}
}

func (s *MemoryKeyStore) GetKey(_ context.Context, alias string) (KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.keys[alias]
	if !ok {
		return KeyRecord{}, ErrKeyNotFound
	}
	record.Salt = append([]byte(nil), record.Salt...)
	return record, nil
}

func (s *MemoryKeyStore) SaveKey(_ context.Context, record KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Salt = append([]byte(nil), record.Salt...)
	s.keys[record.Alias] = record
	return nil
}

func (s *MemoryKeyStore) DeleteKey(_ context.Context, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[alias]; !ok {
		return ErrKeyNotFound
	}
	delete(s.keys, alias)
	return nil
}

var (
	_ KeyService = ringService{}
	_ KeyStore   = (*MemoryKeyStore)(nil)
)
