package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/core"
)

// SealRequest asks a KeyService to seal plaintext under one version of alias.
type SealRequest struct {
	Alias     string
	Version   int
	Tenant    string
	Plaintext []byte
}

// OpenRequest is the inverse of SealRequest.
type OpenRequest struct {
	Alias      string
	Version    int
	Tenant     string
	Ciphertext []byte
}

// KeyService holds tenant key material and performs the raw cryptography.
// Material never leaves the service; callers only see sealed bytes.
type KeyService interface {
	Seal(ctx context.Context, req SealRequest) ([]byte, error)
	Open(ctx context.Context, req OpenRequest) ([]byte, error)
}

// SealWindow bounds the period in which a key version may seal new data.
// A zero bound is open.
type SealWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w SealWindow) Contains(at time.Time) bool {
	at = at.UTC()
	if !w.NotBefore.IsZero() && at.Before(w.NotBefore.UTC()) {
		return false
	}
	return w.NotAfter.IsZero() || !at.After(w.NotAfter.UTC())
}

type SealerOption func(*VersionedSealer)

// WithTenant binds the sealer to tenant. Envelopes sealed for another tenant
// are refused on open.
func WithTenant(tenant string) SealerOption {
	return func(s *VersionedSealer) {
		s.tenant = strings.TrimSpace(tenant)
	}
}

// WithReadableVersions lets the sealer open envelopes from versions first..last.
func WithReadableVersions(first, last int) SealerOption {
	return func(s *VersionedSealer) {
		for version := max(first, 1); version <= last; version++ {
			s.readable[version] = struct{}{}
		}
	}
}

func WithSealWindow(version int, window SealWindow) SealerOption {
	return func(s *VersionedSealer) {
		if version > 0 {
			s.windows[version] = window
		}
	}
}

func WithSealerClock(now func() time.Time) SealerOption {
	return func(s *VersionedSealer) {
		if now != nil {
			s.now = now
		}
	}
}

// VersionedSealer seals with the current version of one key alias and opens
// any readable version of the same alias.
type VersionedSealer struct {
	service  KeyService
	alias    string
	current  int
	tenant   string
	readable map[int]struct{}
	windows  map[int]SealWindow
	now      func() time.Time
}

func NewVersionedSealer(service KeyService, alias string, current int, opts ...SealerOption) (*VersionedSealer, error) {
	alias = strings.TrimSpace(alias)
	switch {
	case service == nil:
		return nil, fmt.Errorf("security: key service is required")
	case alias == "":
		return nil, fmt.Errorf("security: key alias is required")
	case current <= 0:
		return nil, fmt.Errorf("security: key %q version must be positive, got %d", alias, current)
	}
	s := &VersionedSealer{
		service:  service,
		alias:    alias,
		current:  current,
		readable: map[int]struct{}{current: {}},
		windows:  map[int]SealWindow{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *VersionedSealer) Alias() string { return s.alias }
func (s *VersionedSealer) Version() int { return s.current }
func (s *VersionedSealer) Tenant() string { return s.tenant }

func (s *VersionedSealer) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	if window, ok := s.windows[s.current]; ok && !window.Contains(s.now()) {
		return nil, fmt.Errorf("security: key %q version %d may no longer seal", s.alias, s.current)
	}
	sealed, err := s.service.Seal(ctx, SealRequest{
		Alias:     s.alias,
		Version:   s.current,
		Tenant:    s.tenant,
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("security: seal with %q: %w", s.alias, err)
	}
	if len(sealed) == 0 {
		return nil, fmt.Errorf("security: key service returned no ciphertext for %q", s.alias)
	}
	return encodeEnvelope(envelope{
		KeyID:     s.alias,
		Version:   s.current,
		Algorithm: envelopeAlgorithmKeyRing,
		Scope:     s.tenant,
		Sealed:    sealed,
	})
}

func (s *VersionedSealer) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	switch {
	case env.Algorithm != envelopeAlgorithmKeyRing:
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", env.Algorithm)
	case env.KeyID != s.alias:
		return nil, fmt.Errorf("security: envelope sealed with %q, not %q", env.KeyID, s.alias)
	case env.Scope != s.tenant:
		return nil, fmt.Errorf("security: envelope belongs to tenant %q", env.Scope)
	}
	if _, ok := s.readable[env.Version]; !ok {
		return nil, fmt.Errorf("security: key %q version %d is not readable", s.alias, env.Version)
	}
	plaintext, err := s.service.Open(ctx, OpenRequest{
		Alias:      s.alias,
		Version:    env.Version,
		Tenant:     env.Scope,
		Ciphertext: env.Sealed,
	})
	if err != nil {
		return nil, fmt.Errorf("security: open with %q: %w", s.alias, err)
	}
	return plaintext, nil
}

var _ core.SecretProvider = (*VersionedSealer)(nil)
