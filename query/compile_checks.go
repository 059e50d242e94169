package query

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Querier[ListTenantsMessage, []string]             = (*ListTenantsQuery)(nil)
	_ gocmd.Querier[GetTenantMessage, TenantView]             = (*GetTenantQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, []DeadLetterView] = (*ListDeadLettersQuery)(nil)
)
