package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/relay"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// RelayStore keeps tenant queues in relay_queues and their messages in
// relay_messages. Bodies arrive already encrypted.
type RelayStore struct {
	db *bun.DB
}

func NewRelayStore(db *bun.DB) (*RelayStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &RelayStore{db: db}, nil
}

func (s *RelayStore) CreateQueue(ctx context.Context, in relay.QueueRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: relay store is not configured")
	}
	if strings.TrimSpace(in.ID) == "" {
		return false, fmt.Errorf("sqlstore: queue id is required")
	}
	record := &queueRecord{
		ID:                  in.ID,
		Tenant:              in.Tenant,
		KeyAlias:            in.KeyAlias,
		DeadLetterID:        in.DeadLetterID,
		VisibilityTimeoutMS: in.VisibilityTimeout.Milliseconds(),
		MaxAttempts:         in.MaxAttempts,
		CreatedAt:           nonZero(in.CreatedAt, time.Now().UTC()),
	}
	result, err := s.db.NewInsert().Model(record).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *RelayStore) GetQueue(ctx context.Context, queueID string) (relay.QueueRecord, error) {
	if s == nil || s.db == nil {
		return relay.QueueRecord{}, fmt.Errorf("sqlstore: relay store is not configured")
	}
	record := &queueRecord{}
	err := s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", queueID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return relay.QueueRecord{}, relay.ErrQueueNotFound
	}
	if err != nil {
		return relay.QueueRecord{}, err
	}
	return relay.QueueRecord{
		ID:                record.ID,
		Tenant:            record.Tenant,
		KeyAlias:          record.KeyAlias,
		DeadLetterID:      record.DeadLetterID,
		VisibilityTimeout: time.Duration(record.VisibilityTimeoutMS) * time.Millisecond,
		MaxAttempts:       record.MaxAttempts,
		CreatedAt:         record.CreatedAt,
	}, nil
}

func (s *RelayStore) DeleteQueue(ctx context.Context, queueID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: relay store is not configured")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*messageRecord)(nil)).
			Where("queue_id = ?", queueID).
			Exec(ctx); err != nil {
			return err
		}
		result, err := tx.NewDelete().
			Model((*queueRecord)(nil)).
			Where("id = ?", queueID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return relay.ErrQueueNotFound
		}
		return nil
	})
}

func (s *RelayStore) Insert(ctx context.Context, msg relay.StoredMessage) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: relay store is not configured")
	}
	if _, err := s.GetQueue(ctx, msg.QueueID); err != nil {
		return err
	}
	record := &messageRecord{
		ID:             msg.ID,
		QueueID:        msg.QueueID,
		Tenant:         msg.Tenant,
		Body:           append([]byte(nil), msg.Body...),
		IdempotencyKey: msg.IdempotencyKey,
		Attempts:       msg.Attempts,
		EnqueuedAtMS:   msg.EnqueuedAt.UnixMilli(),
		VisibleAtMS:    msg.VisibleAt.UnixMilli(),
		ReceiptHandle:  msg.ReceiptHandle,
		Reason:         msg.Reason,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (s *RelayStore) Receive(ctx context.Context, queueID string, now time.Time, visibility time.Duration) (relay.StoredMessage, error) {
	if s == nil || s.db == nil {
		return relay.StoredMessage{}, fmt.Errorf("sqlstore: relay store is not configured")
	}
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return relay.StoredMessage{}, err
	}
	var leased messageRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &messageRecord{}
		query := tx.NewSelect().
			Model(record).
			Where("?TableAlias.queue_id = ?", queueID).
			Where("?TableAlias.visible_at_ms <= ?", now.UnixMilli()).
			OrderExpr("?TableAlias.enqueued_at_ms ASC, ?TableAlias.id ASC").
			Limit(1)
		if tx.Dialect().Name() == dialect.PG {
			query = query.For("UPDATE SKIP LOCKED")
		}
		if err := query.Scan(ctx); err != nil {
			return err
		}
		receipt := uuid.NewString()
		visibleAt := now.Add(visibility).UnixMilli()
		result, err := tx.NewUpdate().
			Model((*messageRecord)(nil)).
			Set("attempts = attempts + 1").
			Set("visible_at_ms = ?", visibleAt).
			Set("receipt_handle = ?", receipt).
			Where("id = ?", record.ID).
			Where("receipt_handle = ?", record.ReceiptHandle).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		leased = *record
		leased.Attempts++
		leased.VisibleAtMS = visibleAt
		leased.ReceiptHandle = receipt
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return relay.StoredMessage{}, relay.ErrQueueEmpty
	}
	if err != nil {
		return relay.StoredMessage{}, err
	}
	return leased.toDomain(), nil
}

func (s *RelayStore) Delete(ctx context.Context, queueID string, receipt string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: relay store is not configured")
	}
	if receipt == "" {
		return relay.ErrReceiptExpired
	}
	result, err := s.db.NewDelete().
		Model((*messageRecord)(nil)).
		Where("queue_id = ?", queueID).
		Where("receipt_handle = ?", receipt).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return relay.ErrReceiptExpired
	}
	return nil
}

func (s *RelayStore) Release(ctx context.Context, queueID string, receipt string, visibleAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: relay store is not configured")
	}
	if receipt == "" {
		return relay.ErrReceiptExpired
	}
	result, err := s.db.NewUpdate().
		Model((*messageRecord)(nil)).
		Set("visible_at_ms = ?", visibleAt.UnixMilli()).
		Set("receipt_handle = ?", "").
		Where("queue_id = ?", queueID).
		Where("receipt_handle = ?", receipt).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return relay.ErrReceiptExpired
	}
	return nil
}

func (s *RelayStore) Depth(ctx context.Context, queueID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: relay store is not configured")
	}
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return 0, err
	}
	return s.db.NewSelect().
		Model((*messageRecord)(nil)).
		Where("?TableAlias.queue_id = ?", queueID).
		Count(ctx)
}

func (s *RelayStore) List(ctx context.Context, queueID string) ([]relay.StoredMessage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: relay store is not configured")
	}
	var records []messageRecord
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.queue_id = ?", queueID).
		OrderExpr("?TableAlias.enqueued_at_ms ASC, ?TableAlias.id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]relay.StoredMessage, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (r messageRecord) toDomain() relay.StoredMessage {
	return relay.StoredMessage{
		ID:             r.ID,
		QueueID:        r.QueueID,
		Tenant:         r.Tenant,
		Body:           append([]byte(nil), r.Body...),
		IdempotencyKey: r.IdempotencyKey,
		Attempts:       r.Attempts,
		EnqueuedAt:     time.UnixMilli(r.EnqueuedAtMS).UTC(),
		VisibleAt:      time.UnixMilli(r.VisibleAtMS).UTC(),
		ReceiptHandle:  r.ReceiptHandle,
		Reason:         r.Reason,
	}
}
