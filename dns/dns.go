// Package dns binds a tenant subdomain to a certificate through an external
// issuer. Only the contract lives here; the memory issuer backs tests and
// local runs.
package dns

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/naming"
)

// Request asks for one wildcard-capable certificate for a tenant domain.
type Request struct {
	Tenant string
	Zone   string
	Domain string
	SANs   []string
}

type Certificate struct {
	ID       string
	Tenant   string
	Domain   string
	Zone     string
	SANs     []string
	IssuedAt time.Time
}

// Issuer is the external certificate and record collaborator.
type Issuer interface {
	Issue(ctx context.Context, req Request) (Certificate, error)
	Revoke(ctx context.Context, certificateID string) error
}

// Binder derives the request from a tenant and calls the issuer.
type Binder struct {
	issuer   Issuer
	observer *core.Observer
}

func NewBinder(issuer Issuer, observer *core.Observer) *Binder {
	if issuer == nil {
		issuer = NewMemoryIssuer(nil)
	}
	if observer == nil {
		observer = core.NopObserver()
	}
	return &Binder{issuer: issuer, observer: observer}
}

// RequestFor builds the certificate request for tenant under zone.
func RequestFor(tenant string, zone string) (Request, error) {
	zone = strings.Trim(strings.ToLower(strings.TrimSpace(zone)), ".")
	if zone == "" {
		return Request{}, core.BadInputError("dns: hosted zone is required", map[string]any{"tenant": tenant})
	}
	domain := naming.Domain(tenant, zone)
	return Request{
		Tenant: tenant,
		Zone:   zone,
		Domain: domain,
		SANs:   []string{domain, "*." + domain},
	}, nil
}

func (b *Binder) Bind(ctx context.Context, tenant string, zone string) (cert Certificate, err error) {
	startedAt := time.Now()
	defer func() {
		b.observer.Observe(ctx, startedAt, "bind_domain", err, map[string]any{
			"tenant": tenant,
			"domain": cert.Domain,
		})
	}()
	req, err := RequestFor(tenant, zone)
	if err != nil {
		return Certificate{}, err
	}
	return b.issuer.Issue(ctx, req)
}

func (b *Binder) Unbind(ctx context.Context, certificateID string) error {
	startedAt := time.Now()
	err := b.issuer.Revoke(ctx, certificateID)
	b.observer.Observe(ctx, startedAt, "unbind_domain", err, map[string]any{"certificate_id": certificateID})
	return err
}

// MemoryIssuer issues one certificate per domain. Issue is idempotent for an
// already issued domain and Revoke ignores unknown ids.
type MemoryIssuer struct {
	now func() time.Time

	mu    sync.Mutex
	certs map[string]Certificate
}

func NewMemoryIssuer(now func() time.Time) *MemoryIssuer {
	if now == nil {
		now = time.Now
	}
	return &MemoryIssuer{now: now, certs: map[string]Certificate{}}
}

func (i *MemoryIssuer) Issue(_ context.Context, req Request) (Certificate, error) {
	if req.Domain == "" || req.Zone == "" {
		return Certificate{}, core.BadInputError("dns: domain and zone are required", nil)
	}
	if !strings.HasSuffix(req.Domain, "."+req.Zone) {
		return Certificate{}, core.PolicyViolationError(fmt.Sprintf("dns: domain %s is outside zone %s", req.Domain, req.Zone), nil)
	}
	id := "cert/" + req.Domain
	i.mu.Lock()
	defer i.mu.Unlock()
	if cert, ok := i.certs[id]; ok {
		return cert, nil
	}
	cert := Certificate{
		ID:       id,
		Tenant:   req.Tenant,
		Domain:   req.Domain,
		Zone:     req.Zone,
		SANs:     append([]string(nil), req.SANs...),
		IssuedAt: i.now().UTC(),
	}
	i.certs[id] = cert
	return cert, nil
}

func (i *MemoryIssuer) Revoke(_ context.Context, certificateID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.certs, certificateID)
	return nil
}

func (i *MemoryIssuer) Certificates() []Certificate {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Certificate, 0, len(i.certs))
	for _, cert := range i.certs {
		out = append(out, cert)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

var _ Issuer = (*MemoryIssuer)(nil)
