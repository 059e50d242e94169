package composer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/core"
)

var (
	ErrTenantNotFound = errors.New("composer: tenant not found")
	ErrTenantExists   = errors.New("composer: tenant already exists")
)

const (
	StatusComposing = "composing"
	StatusActive    = "active"
	StatusTearing   = "tearing_down"
)

// TenantRecord is the persisted descriptor of a composed tenant.
type TenantRecord struct {
	Name      string
	Plugin    string
	DNSZone   string
	Settings  map[string]string
	Naming    core.NamingRecord
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r TenantRecord) Descriptor() core.TenantDescriptor {
	return core.TenantDescriptor{
		Name:     r.Name,
		DNSZone:  r.DNSZone,
		Plugin:   r.Plugin,
		Settings: core.CloneEnv(r.Settings),
	}
}

// Ledger records tenants and the ownership edges of their resource graphs.
// Tenant names are unique regardless of case.
type Ledger interface {
	CreateTenant(ctx context.Context, record TenantRecord) error
	// GetTenant matches name case-insensitively.
	GetTenant(ctx context.Context, name string) (TenantRecord, error)
	UpdateTenantStatus(ctx context.Context, name string, status string) error
	ListTenants(ctx context.Context) ([]TenantRecord, error)
	DeleteTenant(ctx context.Context, name string) error
	// AppendEdge assigns the next sequence number of the tenant.
	AppendEdge(ctx context.Context, edge core.ResourceEdge) (core.ResourceEdge, error)
	// Edges returns the tenant edges in creation order.
	Edges(ctx context.Context, tenant string) ([]core.ResourceEdge, error)
	DeleteEdge(ctx context.Context, tenant string, seq int) error
}

type MemoryLedger struct {
	mu      sync.Mutex
	tenants map[string]TenantRecord
	edges   map[string][]core.ResourceEdge
	seq     map[string]int
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		tenants: map[string]TenantRecord{},
		edges:   map[string][]core.ResourceEdge{},
		seq:     map[string]int{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func foldKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (l *MemoryLedger) CreateTenant(_ context.Context, record TenantRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := foldKey(record.Name)
	if _, exists := l.tenants[key]; exists {
		return ErrTenantExists
	}
	record.Settings = core.CloneEnv(record.Settings)
	l.tenants[key] = record
	return nil
}

func (l *MemoryLedger) GetTenant(_ context.Context, name string) (TenantRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.tenants[foldKey(name)]
	if !ok {
		return TenantRecord{}, ErrTenantNotFound
	}
	record.Settings = core.CloneEnv(record.Settings)
	return record, nil
}

func (l *MemoryLedger) UpdateTenantStatus(_ context.Context, name string, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := foldKey(name)
	record, ok := l.tenants[key]
	if !ok {
		return ErrTenantNotFound
	}
	record.Status = status
	record.UpdatedAt = l.now()
	l.tenants[key] = record
	return nil
}

func (l *MemoryLedger) ListTenants(_ context.Context) ([]TenantRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TenantRecord, 0, len(l.tenants))
	for _, record := range l.tenants {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *MemoryLedger) DeleteTenant(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := foldKey(name)
	record, ok := l.tenants[key]
	if !ok {
		return nil
	}
	delete(l.tenants, key)
	delete(l.edges, record.Name)
	delete(l.seq, record.Name)
	return nil
}

func (l *MemoryLedger) AppendEdge(_ context.Context, edge core.ResourceEdge) (core.ResourceEdge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq[edge.Tenant]++
	edge.Seq = l.seq[edge.Tenant]
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = l.now()
	}
	l.edges[edge.Tenant] = append(l.edges[edge.Tenant], edge)
	return edge, nil
}

func (l *MemoryLedger) Edges(_ context.Context, tenant string) ([]core.ResourceEdge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]core.ResourceEdge(nil), l.edges[tenant]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (l *MemoryLedger) DeleteEdge(_ context.Context, tenant string, seq int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	edges := l.edges[tenant]
	for i := range edges {
		if edges[i].Seq == seq {
			l.edges[tenant] = append(edges[:i:i], edges[i+1:]...)
			return nil
		}
	}
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
