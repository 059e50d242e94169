package query

import "strings"

const (
	TypeListTenants     = "botfactory.query.tenant.list"
	TypeGetTenant       = "botfactory.query.tenant.get"
	TypeListDeadLetters = "botfactory.query.dead_letter.list"
)

type ListTenantsMessage struct{}

func (ListTenantsMessage) Type() string { return TypeListTenants }

func (ListTenantsMessage) Validate() error { return nil }

type GetTenantMessage struct {
	Tenant string
}

func (GetTenantMessage) Type() string { return TypeGetTenant }

func (m GetTenantMessage) Validate() error {
	if strings.TrimSpace(m.Tenant) == "" {
		return queryValidationError("tenant", "tenant is required")
	}
	return nil
}

type ListDeadLettersMessage struct {
	Tenant string
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	if strings.TrimSpace(m.Tenant) == "" {
		return queryValidationError("tenant", "tenant is required")
	}
	return nil
}
