package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/commands"
	"github.com/goliatone/go-botfactory/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeadLetterStore archives dead letters in relay_dead_letters.
type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, uuidHandlers[deadLetterRecord]())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo}, nil
}

func (s *DeadLetterStore) SaveDeadLetter(ctx context.Context, letter core.DeadLetter) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if strings.TrimSpace(letter.Tenant) == "" {
		return fmt.Errorf("sqlstore: dead letter tenant is required")
	}
	id := strings.TrimSpace(letter.ID)
	if parseUUID(id) == uuid.Nil {
		id = uuid.NewString()
	}
	_, err := s.repo.Create(ctx, &deadLetterRecord{
		ID:        id,
		Tenant:    letter.Tenant,
		QueueID:   letter.QueueID,
		MessageID: letter.MessageID,
		Payload:   append([]byte(nil), letter.Payload...),
		Attempts:  letter.Attempts,
		Reason:    letter.Reason,
		FailedAt:  nonZero(letter.FailedAt, time.Now().UTC()),
	})
	return err
}

func (s *DeadLetterStore) ListDeadLetters(ctx context.Context, tenant string) ([]core.DeadLetter, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant", "=", tenant),
		repository.OrderBy("failed_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeadLetter, 0, len(records))
	for _, record := range records {
		out = append(out, core.DeadLetter{
			ID:        record.ID,
			Tenant:    record.Tenant,
			QueueID:   record.QueueID,
			MessageID: record.MessageID,
			Payload:   append([]byte(nil), record.Payload...),
			Attempts:  record.Attempts,
			Reason:    record.Reason,
			FailedAt:  record.FailedAt,
		})
	}
	return out, nil
}

func (s *DeadLetterStore) DeleteDeadLetters(ctx context.Context, tenant string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*deadLetterRecord)(nil)).
		Where("tenant = ?", tenant).
		Exec(ctx)
	return err
}

// RunStore records command job runs in command_runs.
type RunStore struct {
	db   *bun.DB
	repo repository.Repository[*commandRunRecord]
}

func NewRunStore(db *bun.DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*commandRunRecord](db, uuidHandlers[commandRunRecord]())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid command run repository wiring: %w", err)
		}
	}
	return &RunStore{db: db, repo: repo}, nil
}

func (s *RunStore) Record(ctx context.Context, run commands.Run) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: run store is not configured")
	}
	id := strings.TrimSpace(run.ID)
	if parseUUID(id) == uuid.Nil {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.repo.Create(ctx, &commandRunRecord{
		ID:         id,
		Tenant:     run.Tenant,
		JobID:      run.JobID,
		Trigger:    run.Trigger,
		Status:     run.Status,
		Published:  run.Published,
		Error:      run.Error,
		StartedAt:  nonZero(run.StartedAt, now),
		FinishedAt: nonZero(run.FinishedAt, now),
	})
	return err
}

func (s *RunStore) List(ctx context.Context, tenant string) ([]commands.Run, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: run store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant", "=", tenant),
		repository.OrderBy("started_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]commands.Run, 0, len(records))
	for _, record := range records {
		out = append(out, commands.Run{
			ID:         record.ID,
			Tenant:     record.Tenant,
			JobID:      record.JobID,
			Trigger:    record.Trigger,
			Status:     record.Status,
			Published:  record.Published,
			Error:      record.Error,
			StartedAt:  record.StartedAt,
			FinishedAt: record.FinishedAt,
		})
	}
	return out, nil
}

func (s *RunStore) DeleteTenant(ctx context.Context, tenant string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: run store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*commandRunRecord)(nil)).
		Where("tenant = ?", tenant).
		Exec(ctx)
	return err
}
