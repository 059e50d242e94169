package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-botfactory/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/open-policy-agent/opa/rego"
)

const isolationModule = `package botfactory.isolation

import future.keywords.in

deny[msg] {
	some policy in input.policies
	policy.tenant != input.tenant
	msg := sprintf("policy for role %s belongs to tenant %s", [policy.role, policy.tenant])
}

deny[msg] {
	some policy in input.policies
	some permission in policy.permissions
	not permission.resource in input.owned
	msg := sprintf("role %s references foreign resource %s", [policy.role, permission.resource])
}

deny[msg] {
	some policy in input.policies
	some permission in policy.permissions
	not permission.action in input.allowed[policy.role]
	msg := sprintf("role %s is granted action %s it never performs", [policy.role, permission.action])
}

deny[msg] {
	some policy in input.policies
	some permission in policy.permissions
	indexof(permission.resource, "*") != -1
	msg := sprintf("role %s has a wildcard resource %s", [policy.role, permission.resource])
}
`

// Input is what the guard evaluates for one tenant graph.
type Input struct {
	Tenant   string
	Owned    []string
	Allowed  map[core.Role][]string
	Policies []core.AccessPolicy
}

// Guard rejects access policies that reach outside their tenant or grant more
// than the role needs.
type Guard struct {
	once  sync.Once
	query rego.PreparedEvalQuery
	err   error
}

func NewGuard() *Guard {
	return &Guard{}
}

func (g *Guard) prepare(ctx context.Context) error {
	g.once.Do(func() {
		g.query, g.err = rego.New(
			rego.Query("data.botfactory.isolation.deny"),
			rego.Module("isolation.rego", isolationModule),
		).PrepareForEval(ctx)
	})
	return g.err
}

// Violations returns the sorted list of isolation violations, empty when the
// policies are acceptable.
func (g *Guard) Violations(ctx context.Context, in Input) ([]string, error) {
	if g == nil {
		return nil, fmt.Errorf("policy: guard is nil")
	}
	if err := g.prepare(ctx); err != nil {
		return nil, core.WrapError(err, goerrors.CategoryInternal, "policy: compile isolation module", core.ErrorInternal, nil)
	}
	rs, err := g.query.Eval(ctx, rego.EvalInput(toInput(in)))
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryInternal, "policy: evaluate isolation module", core.ErrorInternal, nil)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	raw, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for _, value := range raw {
		out = append(out, fmt.Sprint(value))
	}
	sort.Strings(out)
	return out, nil
}

// Check fails with a policy violation error when any rule denies.
func (g *Guard) Check(ctx context.Context, in Input) error {
	violations, err := g.Violations(ctx, in)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	return core.PolicyViolationError("policy: tenant isolation violated", map[string]any{
		"tenant":     in.Tenant,
		"violations": violations,
	})
}

func toInput(in Input) map[string]any {
	owned := make([]any, 0, len(in.Owned))
	for _, id := range in.Owned {
		owned = append(owned, id)
	}
	allowed := map[string]any{}
	for role, actions := range in.Allowed {
		list := make([]any, 0, len(actions))
		for _, action := range actions {
			list = append(list, action)
		}
		allowed[string(role)] = list
	}
	policies := make([]any, 0, len(in.Policies))
	for _, policy := range in.Policies {
		permissions := make([]any, 0, len(policy.Permissions))
		for _, permission := range policy.Permissions {
			permissions = append(permissions, map[string]any{
				"action":   permission.Action,
				"resource": permission.Resource,
			})
		}
		policies = append(policies, map[string]any{
			"tenant":      policy.Tenant,
			"role":        string(policy.Role),
			"principal":   policy.Principal,
			"permissions": permissions,
		})
	}
	return map[string]any{
		"tenant":   in.Tenant,
		"owned":    owned,
		"allowed":  allowed,
		"policies": policies,
	}
}
