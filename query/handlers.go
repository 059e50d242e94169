// Package query exposes read models of the running factory as go-command
// queriers.
package query

import (
	"context"
	"time"

	"github.com/goliatone/go-botfactory/composer"
	"github.com/goliatone/go-botfactory/core"
)

type TenantReader interface {
	Tenants() []string
	Graph(tenant string) (*composer.Graph, bool)
}

type DeadLetterReader interface {
	DeadLetters(ctx context.Context, tenant string) ([]core.DeadLetter, error)
}

// TenantView describes one running tenant graph.
type TenantView struct {
	Descriptor core.TenantDescriptor `json:"descriptor"`
	Naming     core.NamingRecord     `json:"naming"`
	QueueID    string                `json:"queue_id"`
	QueueURL   string                `json:"queue_url"`
	Resources  []string              `json:"resources"`
}

// DeadLetterView omits the payload, which stays sealed with the queue key.
type DeadLetterView struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	QueueID     string    `json:"queue_id"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason"`
	PayloadSize int       `json:"payload_size"`
	FailedAt    time.Time `json:"failed_at"`
}

type ListTenantsQuery struct {
	reader TenantReader
}

func NewListTenantsQuery(reader TenantReader) *ListTenantsQuery {
	return &ListTenantsQuery{reader: reader}
}

func (q *ListTenantsQuery) Query(_ context.Context, _ ListTenantsMessage) ([]string, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: tenant reader is required")
	}
	return q.reader.Tenants(), nil
}

type GetTenantQuery struct {
	reader TenantReader
}

func NewGetTenantQuery(reader TenantReader) *GetTenantQuery {
	return &GetTenantQuery{reader: reader}
}

func (q *GetTenantQuery) Query(_ context.Context, msg GetTenantMessage) (TenantView, error) {
	if q == nil || q.reader == nil {
		return TenantView{}, queryDependencyError("query: tenant reader is required")
	}
	if err := msg.Validate(); err != nil {
		return TenantView{}, err
	}
	graph, ok := q.reader.Graph(msg.Tenant)
	if !ok || graph == nil {
		return TenantView{}, core.TenantNotFoundError(msg.Tenant)
	}
	return TenantView{
		Descriptor: graph.Descriptor.Clone(),
		Naming:     graph.Naming,
		QueueID:    graph.Queue.ID,
		QueueURL:   graph.Queue.URL,
		Resources:  append([]string(nil), graph.Resources...),
	}, nil
}

type ListDeadLettersQuery struct {
	reader DeadLetterReader
}

func NewListDeadLettersQuery(reader DeadLetterReader) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

func (q *ListDeadLettersQuery) Query(ctx context.Context, msg ListDeadLettersMessage) ([]DeadLetterView, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dead letter reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	letters, err := q.reader.DeadLetters(ctx, msg.Tenant)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetterView, 0, len(letters))
	for _, letter := range letters {
		out = append(out, DeadLetterView{
			ID:          letter.ID,
			MessageID:   letter.MessageID,
			QueueID:     letter.QueueID,
			Attempts:    letter.Attempts,
			Reason:      letter.Reason,
			PayloadSize: len(letter.Payload),
			FailedAt:    letter.FailedAt,
		})
	}
	return out, nil
}
