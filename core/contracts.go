package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Processor consumes relay messages for one tenant. Implementations must be
// idempotent: the same message may be delivered more than once.
type Processor interface {
	Consume(ctx context.Context, msg RelayMessage) (ProcessingResult, error)
}

type ProcessorFunc func(ctx context.Context, msg RelayMessage) (ProcessingResult, error)

func (f ProcessorFunc) Consume(ctx context.Context, msg RelayMessage) (ProcessingResult, error) {
	return f(ctx, msg)
}

type ClaimStatus string

const (
	ClaimStatusNone       ClaimStatus = ""
	ClaimStatusProcessing ClaimStatus = "processing"
	ClaimStatusRetryReady ClaimStatus = "retry_ready"
	ClaimStatusComplete   ClaimStatus = "complete"
)

// ClaimState is what a store holds for a key. Until is the lease end of a
// processing claim and the retry time of a failed one.
type ClaimState struct {
	Status ClaimStatus
	Until  time.Time
}

type IdempotencyClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	State(ctx context.Context, key string) (ClaimState, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

type DeadLetterSink interface {
	Publish(ctx context.Context, letter DeadLetter) error
}

// QueueDepth reports the number of pending messages on a tenant queue.
type QueueDepth interface {
	Depth(ctx context.Context, queueID string) (int, error)
}

// MonitoringAttachment is everything the monitoring collaborator receives.
type MonitoringAttachment struct {
	Tenant     string
	Naming     NamingRecord
	Credential CredentialHandle
	Gate       ComputeHandle
	Processor  ComputeHandle
	CommandJob ComputeHandle
	Resources  []string
	Depth      QueueDepth
}

type MonitoringAttacher interface {
	Attach(ctx context.Context, attachment MonitoringAttachment) error
	Detach(ctx context.Context, tenant string) error
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}
