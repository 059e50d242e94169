package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-botfactory/plugins/simpbot"
	"github.com/goliatone/go-botfactory/plugins/watchdog2"
	"github.com/uptrace/bun"
)

// PointsStore is the SimpBot points table shared by every tenant.
type PointsStore struct {
	db *bun.DB
}

func NewPointsStore(db *bun.DB) (*PointsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &PointsStore{db: db}, nil
}

// AddTransaction ignores a transaction id that is already stored and reports
// whether the row was inserted.
func (s *PointsStore) AddTransaction(ctx context.Context, tx simpbot.Transaction) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: points store is not configured")
	}
	record := &pointsRecord{
		TransactionID:   tx.TransactionID,
		Tenant:          tx.Tenant,
		DiscordUser:     tx.DiscordUser,
		Points:          tx.Points,
		Issuer:          tx.Issuer,
		CreatedDatetime: nonZero(tx.CreatedAt, time.Now().UTC()),
	}
	result, err := s.db.NewInsert().Model(record).On("CONFLICT (transaction_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PointsStore) Balances(ctx context.Context, tenant string) ([]simpbot.Balance, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: points store is not configured")
	}
	var records []pointsRecord
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant = ?", tenant).
		OrderExpr("?TableAlias.created_datetime ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	txs := make([]simpbot.Transaction, 0, len(records))
	for _, record := range records {
		txs = append(txs, simpbot.Transaction{
			TransactionID: record.TransactionID,
			Tenant:        record.Tenant,
			DiscordUser:   record.DiscordUser,
			Points:        record.Points,
			CreatedAt:     record.CreatedDatetime,
			Issuer:        record.Issuer,
		})
	}
	return simpbot.Aggregate(tenant, txs), nil
}

func (s *PointsStore) DeleteTenant(ctx context.Context, tenant string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: points store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*pointsRecord)(nil)).
		Where("tenant = ?", tenant).
		Exec(ctx)
	return err
}

// ContactStore is the Watchdog2 contact_info table, keyed per tenant by
// Discord user.
type ContactStore struct {
	db *bun.DB
}

func NewContactStore(db *bun.DB) (*ContactStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ContactStore{db: db}, nil
}

func (s *ContactStore) Upsert(ctx context.Context, contact watchdog2.Contact) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: contact store is not configured")
	}
	record := &contactRecord{
		Tenant:      contact.Tenant,
		DiscordUser: contact.DiscordUser,
		PhoneNumber: contact.PhoneNumber,
		UpdatedAt:   nonZero(contact.UpdatedAt, time.Now().UTC()),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (tenant, discord_user) DO UPDATE").
		Set("phone_number = EXCLUDED.phone_number").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *ContactStore) Get(ctx context.Context, tenant string, discordUser string) (watchdog2.Contact, error) {
	if s == nil || s.db == nil {
		return watchdog2.Contact{}, fmt.Errorf("sqlstore: contact store is not configured")
	}
	record := &contactRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant = ?", tenant).
		Where("?TableAlias.discord_user = ?", discordUser).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return watchdog2.Contact{}, watchdog2.ErrContactNotFound
	}
	if err != nil {
		return watchdog2.Contact{}, err
	}
	return record.toDomain(), nil
}

func (s *ContactStore) List(ctx context.Context, tenant string) ([]watchdog2.Contact, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: contact store is not configured")
	}
	var records []contactRecord
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant = ?", tenant).
		OrderExpr("?TableAlias.discord_user ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]watchdog2.Contact, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ContactStore) DeleteTenant(ctx context.Context, tenant string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: contact store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*contactRecord)(nil)).
		Where("tenant = ?", tenant).
		Exec(ctx)
	return err
}

func (r contactRecord) toDomain() watchdog2.Contact {
	return watchdog2.Contact{
		Tenant:      r.Tenant,
		DiscordUser: r.DiscordUser,
		PhoneNumber: r.PhoneNumber,
		UpdatedAt:   r.UpdatedAt,
	}
}
