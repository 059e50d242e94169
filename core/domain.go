package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies a compute principal inside a tenant graph.
type Role string

const (
	RoleGate      Role = "gate"
	RoleProcessor Role = "processor"
)

func (r Role) Valid() bool {
	return r == RoleGate || r == RoleProcessor
}

// TenantDescriptor is the input to composition. It must not be mutated once
// composition has started; use Clone when a copy is needed.
type TenantDescriptor struct {
	Name     string            `json:"name" yaml:"name" koanf:"name" mapstructure:"name"`
	DNSZone  string            `json:"dns_zone" yaml:"dns_zone" koanf:"dns_zone" mapstructure:"dns_zone"`
	Plugin   string            `json:"plugin" yaml:"plugin" koanf:"plugin" mapstructure:"plugin"`
	Settings map[string]string `json:"settings,omitempty" yaml:"settings" koanf:"settings" mapstructure:"settings"`
}

func (d TenantDescriptor) Clone() TenantDescriptor {
	out := d
	out.Settings = cloneStringMap(d.Settings)
	return out
}

type NamingRecord struct {
	Tenant            string `json:"tenant"`
	SecretID          string `json:"secret_id"`
	SecretKeyAlias    string `json:"secret_key_alias"`
	QueueID           string `json:"queue_id"`
	QueueKeyAlias     string `json:"queue_key_alias"`
	DeadLetterQueueID string `json:"dead_letter_queue_id"`
	GateID            string `json:"gate_id"`
	GateRoleID        string `json:"gate_role_id"`
	ProcessorID       string `json:"processor_id"`
	ProcessorRoleID   string `json:"processor_role_id"`
	CommandJobID      string `json:"command_job_id"`
	Handler           string `json:"handler"`
	Route             string `json:"route"`
}

// Identifiers lists every globally scoped identifier in the record.
func (r NamingRecord) Identifiers() []string {
	return []string{
		r.SecretID,
		r.SecretKeyAlias,
		r.QueueID,
		r.QueueKeyAlias,
		r.DeadLetterQueueID,
		r.GateID,
		r.GateRoleID,
		r.ProcessorID,
		r.ProcessorRoleID,
		r.CommandJobID,
	}
}

// RoleID returns the principal identifier bound to role.
func (r NamingRecord) RoleID(role Role) string {
	switch role {
	case RoleGate:
		return r.GateRoleID
	case RoleProcessor:
		return r.ProcessorRoleID
	default:
		return ""
	}
}

// CredentialHandle references a tenant secret. It never carries the secret value.
type CredentialHandle struct {
	Tenant   string
	Name     string
	KeyAlias string
	Readers  []Role
}

func (h CredentialHandle) IsZero() bool {
	return strings.TrimSpace(h.Name) == ""
}

func (h CredentialHandle) AllowsReader(role Role) bool {
	for _, reader := range h.Readers {
		if reader == role {
			return true
		}
	}
	return false
}

// BotSecret is the JSON document stored under the tenant secret name.
type BotSecret struct {
	ApplicationID string `json:"ApplicationId"`
	Token         string `json:"Token"`
	PublicKey     string `json:"PublicKey"`
}

func (s BotSecret) Validate() error {
	if strings.TrimSpace(s.ApplicationID) == "" {
		return fmt.Errorf("core: bot secret ApplicationId is required")
	}
	if strings.TrimSpace(s.Token) == "" {
		return fmt.Errorf("core: bot secret Token is required")
	}
	if strings.TrimSpace(s.PublicKey) == "" {
		return fmt.Errorf("core: bot secret PublicKey is required")
	}
	return nil
}

func ParseBotSecret(raw []byte) (BotSecret, error) {
	var secret BotSecret
	if err := json.Unmarshal(raw, &secret); err != nil {
		return BotSecret{}, fmt.Errorf("core: decode bot secret: %w", err)
	}
	return secret, nil
}

// RelayMessage is a unit of work owned by the relay queue until acknowledged.
type RelayMessage struct {
	ID             string
	Tenant         string
	Payload        []byte
	EnqueuedAt     time.Time
	Attempt        int
	VisibleAt      time.Time
	ReceiptHandle  string
	IdempotencyKey string
}

// CommandEvent is the relay payload the gate enqueues for an application
// command interaction.
type CommandEvent struct {
	Command         string               `json:"command"`
	Options         []CommandEventOption `json:"options"`
	CommandIssuer   string               `json:"command_issuer"`
	CommandIssuerID string               `json:"command_issuer_id"`
	ChannelID       string               `json:"channel_id"`
	DiscordEvent    json.RawMessage      `json:"discord_event,omitempty"`
}

type CommandEventOption struct {
	Name  string `json:"name"`
	Type  int    `json:"type,omitempty"`
	Value any    `json:"value"`
}

func ParseCommandEvent(payload []byte) (CommandEvent, error) {
	var event CommandEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return CommandEvent{}, fmt.Errorf("core: decode command event: %w", err)
	}
	if strings.TrimSpace(event.Command) == "" {
		return CommandEvent{}, fmt.Errorf("core: command event has no command")
	}
	return event, nil
}

// Outcome is the gate classification for one inbound request.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeUnauthorized
	OutcomeBadRequest
	OutcomeInternalError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

type Permission struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

type AccessPolicy struct {
	Tenant      string       `json:"tenant"`
	Role        Role         `json:"role"`
	Principal   string       `json:"principal"`
	Permissions []Permission `json:"permissions"`
}

func (p AccessPolicy) Allows(action string, resource string) bool {
	for _, permission := range p.Permissions {
		if permission.Action == action && permission.Resource == resource {
			return true
		}
	}
	return false
}

type ResourceKind string

const (
	ResourceTable        ResourceKind = "table"
	ResourceMessagingApp ResourceKind = "messaging_app"
)

// ResourceSpec is an extra resource declared by a processing plugin.
type ResourceSpec struct {
	Kind    ResourceKind
	Logical string
	EnvKey  string
	Actions []string
}

// ResourceID scopes a logical plugin resource to a tenant.
func (s ResourceSpec) ResourceID(tenant string) string {
	return tenant + "/" + strings.TrimSpace(s.Logical)
}

// ComputeHandle describes a deployed compute unit and its isolated env.
type ComputeHandle struct {
	ID      string
	Role    Role
	RoleID  string
	Handler string
	Env     map[string]string
}

type ProcessingResult struct {
	Command   string
	ChannelID string
	Reply     string
	Failed    bool
	Metadata  map[string]any
}

type CommandOption struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        int    `json:"type"`
	Required    bool   `json:"required"`
}

type CommandDefinition struct {
	Name        string          `json:"name"`
	Type        int             `json:"type"`
	Description string          `json:"description"`
	Options     []CommandOption `json:"options,omitempty"`
}

type EdgeKind string

const (
	EdgeKey            EdgeKind = "key"
	EdgeSecret         EdgeKind = "secret"
	EdgeGrant          EdgeKind = "grant"
	EdgeQueue          EdgeKind = "queue"
	EdgeDNS            EdgeKind = "dns"
	EdgeGate           EdgeKind = "gate"
	EdgePluginResource EdgeKind = "plugin_resource"
	EdgeProcessor      EdgeKind = "processor"
	EdgeCommandJob     EdgeKind = "command_job"
	EdgeMonitoring     EdgeKind = "monitoring"
)

// ResourceEdge records ownership of one resource by a tenant graph.
type ResourceEdge struct {
	Tenant     string
	Kind       EdgeKind
	ResourceID string
	Seq        int
	Metadata   map[string]string
	CreatedAt  time.Time
}

type DeadLetter struct {
	ID        string
	Tenant    string
	QueueID   string
	MessageID string
	Payload   []byte
	Attempts  int
	Reason    string
	FailedAt  time.Time
}

func cloneStringMap(input map[string]string) map[string]string {
	if input == nil {
		return nil
	}
	out := make(map[string]string, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

// CloneEnv copies an environment map, never returning nil.
func CloneEnv(env map[string]string) map[string]string {
	out := cloneStringMap(env)
	if out == nil {
		return map[string]string{}
	}
	return out
}
