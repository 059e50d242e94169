package naming

import (
	"sort"

	"github.com/goliatone/go-botfactory/core"
)

const (
	ActionSecretRead    = "secret:read"
	ActionKeyDecrypt    = "key:decrypt"
	ActionKeyEncrypt    = "key:encrypt"
	ActionQueueSend     = "queue:send"
	ActionQueueReceive  = "queue:receive"
	ActionQueueDelete   = "queue:delete"
	ActionTableRead     = "table:read"
	ActionTableWrite    = "table:write"
	ActionMessagingSend = "messaging:send"
)

// RoleActions is the closed set of actions each role may ever perform.
var RoleActions = map[core.Role][]string{
	core.RoleGate: {
		ActionSecretRead,
		ActionKeyDecrypt,
		ActionKeyEncrypt,
		ActionQueueSend,
	},
	core.RoleProcessor: {
		ActionSecretRead,
		ActionKeyDecrypt,
		ActionQueueReceive,
		ActionQueueDelete,
		ActionTableRead,
		ActionTableWrite,
		ActionMessagingSend,
	},
}

// Policies builds the minimal access policy of every role in the tenant graph.
// The gate may only read the secret and write to the queue. The processor,
// which the command job shares, may read the secret, consume the queue and use
// the plugin resources it declared.
func Policies(record core.NamingRecord, resources []core.ResourceSpec) []core.AccessPolicy {
	gate := core.AccessPolicy{
		Tenant:    record.Tenant,
		Role:      core.RoleGate,
		Principal: record.GateRoleID,
		Permissions: []core.Permission{
			{Action: ActionSecretRead, Resource: record.SecretID},
			{Action: ActionKeyDecrypt, Resource: record.SecretKeyAlias},
			{Action: ActionQueueSend, Resource: record.QueueID},
			{Action: ActionKeyEncrypt, Resource: record.QueueKeyAlias},
		},
	}
	processor := core.AccessPolicy{
		Tenant:    record.Tenant,
		Role:      core.RoleProcessor,
		Principal: record.ProcessorRoleID,
		Permissions: []core.Permission{
			{Action: ActionSecretRead, Resource: record.SecretID},
			{Action: ActionKeyDecrypt, Resource: record.SecretKeyAlias},
			{Action: ActionQueueReceive, Resource: record.QueueID},
			{Action: ActionQueueDelete, Resource: record.QueueID},
			{Action: ActionKeyDecrypt, Resource: record.QueueKeyAlias},
		},
	}
	for _, resource := range resources {
		id := resource.ResourceID(record.Tenant)
		actions := append([]string(nil), resource.Actions...)
		sort.Strings(actions)
		for _, action := range actions {
			processor.Permissions = append(processor.Permissions, core.Permission{Action: action, Resource: id})
		}
	}
	return []core.AccessPolicy{gate, processor}
}

// OwnedResources lists every resource id a tenant graph may reference.
func OwnedResources(record core.NamingRecord, resources []core.ResourceSpec) []string {
	owned := append([]string(nil), record.Identifiers()...)
	for _, resource := range resources {
		owned = append(owned, resource.ResourceID(record.Tenant))
	}
	return owned
}
