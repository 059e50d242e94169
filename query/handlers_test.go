package query

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-botfactory/composer"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/naming"
	"github.com/goliatone/go-botfactory/relay"
	goerrors "github.com/goliatone/go-errors"
)

type stubTenantReader struct {
	graphs map[string]*composer.Graph
}

func (r stubTenantReader) Tenants() []string {
	out := make([]string, 0, len(r.graphs))
	for name := range r.graphs {
		out = append(out, name)
	}
	return out
}

func (r stubTenantReader) Graph(tenant string) (*composer.Graph, bool) {
	graph, ok := r.graphs[tenant]
	return graph, ok
}

type stubDeadLetterReader struct {
	listFn func(ctx context.Context, tenant string) ([]core.DeadLetter, error)
}

func (r stubDeadLetterReader) DeadLetters(ctx context.Context, tenant string) ([]core.DeadLetter, error) {
	return r.listFn(ctx, tenant)
}

func TestGetTenantQuery_ProjectsGraph(t *testing.T) {
	reader := stubTenantReader{graphs: map[string]*composer.Graph{
		"SimpBot": {
			Descriptor: core.TenantDescriptor{Name: "SimpBot", Plugin: "simpbot"},
			Naming:     naming.MustDerive("SimpBot"),
			Queue:      relay.Handle{Tenant: "SimpBot", ID: "SQSSimpBot", URL: "relay://SQSSimpBot"},
			Resources:  []string{"secret", "queue", "gate"},
		},
	}}

	view, err := NewGetTenantQuery(reader).Query(context.Background(), GetTenantMessage{Tenant: "SimpBot"})
	if err != nil {
		t.Fatalf("query tenant: %v", err)
	}
	if view.QueueID != "SQSSimpBot" || view.QueueURL != "relay://SQSSimpBot" || view.Naming.Route != "/SimpBot" {
		t.Fatalf("unexpected view %#v", view)
	}
	if len(view.Resources) != 3 {
		t.Fatalf("expected resources to be copied, got %v", view.Resources)
	}

	tenants, err := NewListTenantsQuery(reader).Query(context.Background(), ListTenantsMessage{})
	if err != nil || len(tenants) != 1 || tenants[0] != "SimpBot" {
		t.Fatalf("unexpected tenants %v %v", tenants, err)
	}
}

func TestGetTenantQuery_UnknownTenant(t *testing.T) {
	_, err := NewGetTenantQuery(stubTenantReader{}).Query(context.Background(), GetTenantMessage{Tenant: "Ghost"})
	if !core.IsTenantNotFound(err) {
		t.Fatalf("expected tenant not found, got %v", err)
	}
}

func TestListDeadLettersQuery_HidesPayload(t *testing.T) {
	failedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := stubDeadLetterReader{listFn: func(_ context.Context, tenant string) ([]core.DeadLetter, error) {
		if tenant != "SimpBot" {
			t.Fatalf("unexpected tenant %q", tenant)
		}
		return []core.DeadLetter{{
			ID: "dl-1", Tenant: "SimpBot", QueueID: "SQSSimpBot", MessageID: "m-1",
			Payload: []byte("sealed"), Attempts: 5, Reason: "processor failed", FailedAt: failedAt,
		}}, nil
	}}

	views, err := NewListDeadLettersQuery(reader).Query(context.Background(), ListDeadLettersMessage{Tenant: "SimpBot"})
	if err != nil {
		t.Fatalf("query dead letters: %v", err)
	}
	if len(views) != 1 || views[0].PayloadSize != 6 || views[0].Attempts != 5 || !views[0].FailedAt.Equal(failedAt) {
		t.Fatalf("unexpected views %#v", views)
	}

	failing := stubDeadLetterReader{listFn: func(context.Context, string) ([]core.DeadLetter, error) {
		return nil, errors.New("store offline")
	}}
	if _, err := NewListDeadLettersQuery(failing).Query(context.Background(), ListDeadLettersMessage{Tenant: "SimpBot"}); err == nil {
		t.Fatalf("expected reader error to surface")
	}
}

func TestListDeadLettersMessage_ValidateReturnsRichError(t *testing.T) {
	_, err := NewListDeadLettersQuery(stubDeadLetterReader{}).Query(context.Background(), ListDeadLettersMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation || rich.Code != http.StatusBadRequest {
		t.Fatalf("unexpected envelope %q %d", rich.Category, rich.Code)
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var q *ListTenantsQuery
	_, err := q.Query(context.Background(), ListTenantsMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected internal envelope, got %v", err)
	}
}
