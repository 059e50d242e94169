package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/composer"
	"github.com/goliatone/go-botfactory/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// TenantStore is the SQL composition ledger: bot_tenants plus the
// tenant_resources ownership edges.
type TenantStore struct {
	db   *bun.DB
	repo repository.Repository[*tenantRecord]
}

func NewTenantStore(db *bun.DB) (*TenantStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tenantRecord](db, uuidHandlers[tenantRecord]())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid tenant repository wiring: %w", err)
		}
	}
	return &TenantStore{db: db, repo: repo}, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *TenantStore) CreateTenant(ctx context.Context, in composer.TenantRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	key := nameKey(in.Name)
	if key == "" {
		return fmt.Errorf("sqlstore: tenant name is required")
	}
	if _, err := s.find(ctx, key); err == nil {
		return composer.ErrTenantExists
	} else if !errors.Is(err, composer.ErrTenantNotFound) {
		return err
	}
	now := time.Now().UTC()
	record := &tenantRecord{
		ID:        tenantID(key),
		Name:      strings.TrimSpace(in.Name),
		NameKey:   key,
		Plugin:    in.Plugin,
		DNSZone:   in.DNSZone,
		Settings:  core.CloneEnv(in.Settings),
		Naming:    in.Naming,
		Status:    in.Status,
		CreatedAt: nonZero(in.CreatedAt, now),
		UpdatedAt: nonZero(in.UpdatedAt, now),
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *TenantStore) GetTenant(ctx context.Context, name string) (composer.TenantRecord, error) {
	if s == nil || s.repo == nil {
		return composer.TenantRecord{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	record, err := s.find(ctx, nameKey(name))
	if err != nil {
		return composer.TenantRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *TenantStore) find(ctx context.Context, key string) (*tenantRecord, error) {
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("name_key", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, composer.ErrTenantNotFound
	}
	return records[0], nil
}

func (s *TenantStore) UpdateTenantStatus(ctx context.Context, name string, status string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*tenantRecord)(nil)).
		Set("status = ?", strings.TrimSpace(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("name_key = ?", nameKey(name)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return composer.ErrTenantNotFound
	}
	return nil
}

func (s *TenantStore) ListTenants(ctx context.Context) ([]composer.TenantRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("name ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]composer.TenantRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *TenantStore) DeleteTenant(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	key := nameKey(name)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &tenantRecord{}
		err := tx.NewSelect().Model(record).Where("?TableAlias.name_key = ?", key).Limit(1).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*resourceEdgeRecord)(nil)).
			Where("tenant = ?", record.Name).
			Exec(ctx); err != nil {
			return err
		}
		_, err = tx.NewDelete().
			Model((*tenantRecord)(nil)).
			Where("name_key = ?", key).
			Exec(ctx)
		return err
	})
}

func (s *TenantStore) AppendEdge(ctx context.Context, edge core.ResourceEdge) (core.ResourceEdge, error) {
	if s == nil || s.db == nil {
		return core.ResourceEdge{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	if strings.TrimSpace(edge.Tenant) == "" || strings.TrimSpace(edge.ResourceID) == "" {
		return core.ResourceEdge{}, fmt.Errorf("sqlstore: edge tenant and resource id are required")
	}
	edge.CreatedAt = nonZero(edge.CreatedAt, time.Now().UTC())
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var maxSeq int
		if err := tx.NewSelect().
			Model((*resourceEdgeRecord)(nil)).
			ColumnExpr("COALESCE(MAX(seq), 0)").
			Where("?TableAlias.tenant = ?", edge.Tenant).
			Scan(ctx, &maxSeq); err != nil {
			return err
		}
		edge.Seq = maxSeq + 1
		record := &resourceEdgeRecord{
			Tenant:     edge.Tenant,
			Seq:        edge.Seq,
			Kind:       string(edge.Kind),
			ResourceID: edge.ResourceID,
			Metadata:   core.CloneEnv(edge.Metadata),
			CreatedAt:  edge.CreatedAt,
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return core.ResourceEdge{}, err
	}
	return edge, nil
}

func (s *TenantStore) Edges(ctx context.Context, tenant string) ([]core.ResourceEdge, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	var records []resourceEdgeRecord
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant = ?", tenant).
		OrderExpr("?TableAlias.seq ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.ResourceEdge, 0, len(records))
	for _, record := range records {
		out = append(out, core.ResourceEdge{
			Tenant:     record.Tenant,
			Kind:       core.EdgeKind(record.Kind),
			ResourceID: record.ResourceID,
			Seq:        record.Seq,
			Metadata:   core.CloneEnv(record.Metadata),
			CreatedAt:  record.CreatedAt,
		})
	}
	return out, nil
}

func (s *TenantStore) DeleteEdge(ctx context.Context, tenant string, seq int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*resourceEdgeRecord)(nil)).
		Where("tenant = ?", tenant).
		Where("seq = ?", seq).
		Exec(ctx)
	return err
}

func (r *tenantRecord) toDomain() composer.TenantRecord {
	return composer.TenantRecord{
		Name:      r.Name,
		Plugin:    r.Plugin,
		DNSZone:   r.DNSZone,
		Settings:  core.CloneEnv(r.Settings),
		Naming:    r.Naming,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func nonZero(value time.Time, fallback time.Time) time.Time {
	if value.IsZero() {
		return fallback
	}
	return value.UTC()
}
