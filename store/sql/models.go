package sqlstore

import (
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/uptrace/bun"
)

type tenantRecord struct {
	bun.BaseModel `bun:"table:bot_tenants,alias:bt"`

	ID        string            `bun:"id,pk"`
	Name      string            `bun:"name,notnull"`
	NameKey   string            `bun:"name_key,notnull,unique"`
	Plugin    string            `bun:"plugin,notnull"`
	DNSZone   string            `bun:"dns_zone,notnull"`
	Settings  map[string]string `bun:"settings,type:jsonb,notnull"`
	Naming    core.NamingRecord `bun:"naming,type:jsonb,notnull"`
	Status    string            `bun:"status,notnull"`
	CreatedAt time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type resourceEdgeRecord struct {
	bun.BaseModel `bun:"table:tenant_resources,alias:tr"`

	Tenant     string            `bun:"tenant,pk"`
	Seq        int               `bun:"seq,pk"`
	Kind       string            `bun:"kind,notnull"`
	ResourceID string            `bun:"resource_id,notnull"`
	Metadata   map[string]string `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type keyRecord struct {
	bun.BaseModel `bun:"table:bot_keys,alias:bk"`

	Alias     string    `bun:"alias,pk"`
	Tenant    string    `bun:"tenant,notnull"`
	Version   int       `bun:"version,notnull"`
	Salt      []byte    `bun:"salt,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	RotatedAt time.Time `bun:"rotated_at,nullzero,notnull,default:current_timestamp"`
}

type secretRecord struct {
	bun.BaseModel `bun:"table:bot_secrets,alias:bs"`

	Name       string    `bun:"name,pk"`
	Tenant     string    `bun:"tenant,notnull"`
	KeyAlias   string    `bun:"key_alias,notnull"`
	Ciphertext []byte    `bun:"ciphertext,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type grantRecord struct {
	bun.BaseModel `bun:"table:bot_secret_grants,alias:bsg"`

	SecretName string    `bun:"secret_name,pk"`
	Role       string    `bun:"role,pk"`
	Tenant     string    `bun:"tenant,notnull"`
	Principal  string    `bun:"principal,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type queueRecord struct {
	bun.BaseModel `bun:"table:relay_queues,alias:rq"`

	ID                  string    `bun:"id,pk"`
	Tenant              string    `bun:"tenant,notnull"`
	KeyAlias            string    `bun:"key_alias,notnull"`
	DeadLetterID        string    `bun:"dead_letter_id,notnull"`
	VisibilityTimeoutMS int64     `bun:"visibility_timeout_ms,notnull"`
	MaxAttempts         int       `bun:"max_attempts,notnull"`
	CreatedAt           time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// messageRecord keeps visibility as unix milliseconds so that ordering and
// comparisons behave the same on every dialect.
type messageRecord struct {
	bun.BaseModel `bun:"table:relay_messages,alias:rm"`

	ID             string `bun:"id,pk"`
	QueueID        string `bun:"queue_id,notnull"`
	Tenant         string `bun:"tenant,notnull"`
	Body           []byte `bun:"body,notnull"`
	IdempotencyKey string `bun:"idempotency_key,notnull"`
	Attempts       int    `bun:"attempts,notnull"`
	EnqueuedAtMS   int64  `bun:"enqueued_at_ms,notnull"`
	VisibleAtMS    int64  `bun:"visible_at_ms,notnull"`
	ReceiptHandle  string `bun:"receipt_handle,notnull"`
	Reason         string `bun:"reason,notnull"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:relay_dead_letters,alias:rdl"`

	ID        string    `bun:"id,pk"`
	Tenant    string    `bun:"tenant,notnull"`
	QueueID   string    `bun:"queue_id,notnull"`
	MessageID string    `bun:"message_id,notnull"`
	Payload   []byte    `bun:"payload,notnull"`
	Attempts  int       `bun:"attempts,notnull"`
	Reason    string    `bun:"reason,notnull"`
	FailedAt  time.Time `bun:"failed_at,notnull"`
}

type commandRunRecord struct {
	bun.BaseModel `bun:"table:command_runs,alias:cr"`

	ID         string    `bun:"id,pk"`
	Tenant     string    `bun:"tenant,notnull"`
	JobID      string    `bun:"job_id,notnull"`
	Trigger    string    `bun:"run_trigger,notnull"`
	Status     string    `bun:"status,notnull"`
	Published  int       `bun:"published,notnull"`
	Error      string    `bun:"error,notnull"`
	StartedAt  time.Time `bun:"started_at,notnull"`
	FinishedAt time.Time `bun:"finished_at,notnull"`
}

type pointsRecord struct {
	bun.BaseModel `bun:"table:simpbot_points,alias:sp"`

	TransactionID   string    `bun:"transaction_id,pk"`
	Tenant          string    `bun:"tenant,notnull"`
	DiscordUser     string    `bun:"discord_user,notnull"`
	Points          int64     `bun:"points,notnull"`
	Issuer          string    `bun:"issuer,notnull"`
	CreatedDatetime time.Time `bun:"created_datetime,notnull"`
}

type contactRecord struct {
	bun.BaseModel `bun:"table:watchdog2_contact_info,alias:wci"`

	Tenant      string    `bun:"tenant,pk"`
	DiscordUser string    `bun:"discord_user,pk"`
	PhoneNumber string    `bun:"phone_number,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}
