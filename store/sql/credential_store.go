package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/credentials"
	"github.com/goliatone/go-botfactory/security"
	"github.com/uptrace/bun"
)

// CredentialStore persists encrypted tenant secrets and their read grants.
type CredentialStore struct {
	db *bun.DB
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &CredentialStore{db: db}, nil
}

func (s *CredentialStore) GetSecret(ctx context.Context, name string) (credentials.SecretRecord, error) {
	if s == nil || s.db == nil {
		return credentials.SecretRecord{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	record := &secretRecord{}
	err := s.db.NewSelect().Model(record).Where("?TableAlias.name = ?", strings.TrimSpace(name)).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.SecretRecord{}, credentials.ErrSecretNotFound
	}
	if err != nil {
		return credentials.SecretRecord{}, err
	}
	return credentials.SecretRecord{
		Name:       record.Name,
		Tenant:     record.Tenant,
		KeyAlias:   record.KeyAlias,
		Ciphertext: append([]byte(nil), record.Ciphertext...),
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}, nil
}

func (s *CredentialStore) CreateSecret(ctx context.Context, in credentials.SecretRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	now := time.Now().UTC()
	record := &secretRecord{
		Name:       strings.TrimSpace(in.Name),
		Tenant:     in.Tenant,
		KeyAlias:   in.KeyAlias,
		Ciphertext: append([]byte(nil), in.Ciphertext...),
		CreatedAt:  nonZero(in.CreatedAt, now),
		UpdatedAt:  nonZero(in.UpdatedAt, now),
	}
	result, err := s.db.NewInsert().Model(record).On("CONFLICT (name) DO NOTHING").Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return credentials.ErrSecretExists
	}
	return nil
}

func (s *CredentialStore) UpdateSecret(ctx context.Context, in credentials.SecretRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*secretRecord)(nil)).
		Set("ciphertext = ?", in.Ciphertext).
		Set("updated_at = ?", nonZero(in.UpdatedAt, time.Now().UTC())).
		Where("name = ?", strings.TrimSpace(in.Name)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return credentials.ErrSecretNotFound
	}
	return nil
}

func (s *CredentialStore) DeleteSecret(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*secretRecord)(nil)).
		Where("name = ?", strings.TrimSpace(name)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return credentials.ErrSecretNotFound
	}
	return nil
}

func (s *CredentialStore) PutGrant(ctx context.Context, grant credentials.Grant) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	record := &grantRecord{
		SecretName: grant.SecretName,
		Role:       string(grant.Role),
		Tenant:     grant.Tenant,
		Principal:  grant.Principal,
		CreatedAt:  nonZero(grant.CreatedAt, time.Now().UTC()),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (secret_name, role) DO UPDATE").
		Set("principal = EXCLUDED.principal").
		Exec(ctx)
	return err
}

func (s *CredentialStore) ListGrants(ctx context.Context, secretName string) ([]credentials.Grant, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	var records []grantRecord
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.secret_name = ?", secretName).
		OrderExpr("?TableAlias.role ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]credentials.Grant, 0, len(records))
	for _, record := range records {
		out = append(out, credentials.Grant{
			SecretName: record.SecretName,
			Tenant:     record.Tenant,
			Role:       core.Role(record.Role),
			Principal:  record.Principal,
			CreatedAt:  record.CreatedAt,
		})
	}
	return out, nil
}

func (s *CredentialStore) DeleteGrants(ctx context.Context, secretName string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*grantRecord)(nil)).
		Where("secret_name = ?", secretName).
		Exec(ctx)
	return err
}

// KeyStore persists key ring state. Key material itself is never stored.
type KeyStore struct {
	db *bun.DB
}

func NewKeyStore(db *bun.DB) (*KeyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &KeyStore{db: db}, nil
}

func (s *KeyStore) GetKey(ctx context.Context, alias string) (security.KeyRecord, error) {
	if s == nil || s.db == nil {
		return security.KeyRecord{}, fmt.Errorf("sqlstore: key store is not configured")
	}
	record := &keyRecord{}
	err := s.db.NewSelect().Model(record).Where("?TableAlias.alias = ?", alias).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return security.KeyRecord{}, security.ErrKeyNotFound
	}
	if err != nil {
		return security.KeyRecord{}, err
	}
	return security.KeyRecord{
		Alias:     record.Alias,
		Tenant:    record.Tenant,
		Version:   record.Version,
		Salt:      append([]byte(nil), record.Salt...),
		CreatedAt: record.CreatedAt,
		RotatedAt: record.RotatedAt,
	}, nil
}

func (s *KeyStore) SaveKey(ctx context.Context, in security.KeyRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: key store is not configured")
	}
	now := time.Now().UTC()
	record := &keyRecord{
		Alias:     in.Alias,
		Tenant:    in.Tenant,
		Version:   in.Version,
		Salt:      append([]byte(nil), in.Salt...),
		CreatedAt: nonZero(in.CreatedAt, now),
		RotatedAt: nonZero(in.RotatedAt, now),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (alias) DO UPDATE").
		Set("version = EXCLUDED.version").
		Set("salt = EXCLUDED.salt").
		Set("rotated_at = EXCLUDED.rotated_at").
		Exec(ctx)
	return err
}

func (s *KeyStore) DeleteKey(ctx context.Context, alias string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: key store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*keyRecord)(nil)).
		Where("alias = ?", alias).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return security.ErrKeyNotFound
	}
	return nil
}
