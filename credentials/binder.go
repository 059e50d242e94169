package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/security"
	goerrors "github.com/goliatone/go-errors"
)

// Resolver reads a tenant secret on behalf of a role.
type Resolver interface {
	Resolve(ctx context.Context, handle core.CredentialHandle, role core.Role) (core.BotSecret, error)
}

// BindResult reports which resources Bind created, so callers can record
// ownership and roll back only what they own.
type BindResult struct {
	KeyCreated    bool
	SecretCreated bool
	// SecretReplaced is set when a seed overwrote an existing secret.
	SecretReplaced bool
	Grants         []Grant
}

type Binder struct {
	store    Store
	keys     *security.KeyRing
	observer *core.Observer
	now      func() time.Time
}

type BinderOption func(*Binder)

func WithObserver(observer *core.Observer) BinderOption {
	return func(b *Binder) {
		if observer != nil {
			b.observer = observer
		}
	}
}

func WithClock(now func() time.Time) BinderOption {
	return func(b *Binder) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBinder(store Store, keys *security.KeyRing, opts ...BinderOption) *Binder {
	if store == nil {
		store = NewMemoryStore()
	}
	binder := &Binder{
		store:    store,
		keys:     keys,
		observer: core.NopObserver(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(binder)
		}
	}
	return binder
}

// Bind creates the tenant secret when absent, otherwise imports a reference to
// it and replaces its value when seed is given. It then grants read access to
// the gate and processor roles. The returned handle never carries the secret
// value.
func (b *Binder) Bind(ctx context.Context, record core.NamingRecord, seed *core.BotSecret) (handle core.CredentialHandle, result BindResult, err error) {
	startedAt := time.Now()
	defer func() {
		b.observer.Observe(ctx, startedAt, "bind_credential", err, map[string]any{
			"tenant":          record.Tenant,
			"secret":          record.SecretID,
			"secret_created":  result.SecretCreated,
			"secret_replaced": result.SecretReplaced,
		})
	}()
	if b.keys == nil {
		return core.CredentialHandle{}, result, core.InternalError("credentials: key ring is required", nil)
	}

	_, result.KeyCreated, err = b.keys.Ensure(ctx, record.Tenant, record.SecretKeyAlias)
	if err != nil {
		return core.CredentialHandle{}, result, credentialsWrap(err, "credentials: ensure secret key", record)
	}

	existing, err := b.store.GetSecret(ctx, record.SecretID)
	switch {
	case err == nil:
		if existing.Tenant != record.Tenant {
			return core.CredentialHandle{}, result, core.AccessDeniedError("credentials: secret belongs to another tenant", map[string]any{
				"tenant": record.Tenant,
				"secret": record.SecretID,
			})
		}
		if seed != nil {
			if err = b.Put(ctx, HandleFor(record), *seed); err != nil {
				return core.CredentialHandle{}, result, err
			}
			result.SecretReplaced = true
		}
	case errors.Is(err, ErrSecretNotFound):
		initial := core.BotSecret{}
		if seed != nil {
			initial = *seed
		}
		ciphertext, sealErr := b.seal(ctx, record.SecretKeyAlias, initial)
		if sealErr != nil {
			return core.CredentialHandle{}, result, credentialsWrap(sealErr, "credentials: seal secret", record)
		}
		now := b.now()
		createErr := b.store.CreateSecret(ctx, SecretRecord{
			Name:       record.SecretID,
			Tenant:     record.Tenant,
			KeyAlias:   record.SecretKeyAlias,
			Ciphertext: ciphertext,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if createErr != nil && !errors.Is(createErr, ErrSecretExists) {
			return core.CredentialHandle{}, result, credentialsWrap(createErr, "credentials: create secret", record)
		}
		result.SecretCreated = createErr == nil
	default:
		return core.CredentialHandle{}, result, credentialsWrap(err, "credentials: lookup secret", record)
	}

	handle = HandleFor(record)
	for _, role := range []core.Role{core.RoleGate, core.RoleProcessor} {
		grant := Grant{
			SecretName: record.SecretID,
			Tenant:     record.Tenant,
			Role:       role,
			Principal:  record.RoleID(role),
			CreatedAt:  b.now(),
		}
		if err = b.store.PutGrant(ctx, grant); err != nil {
			return core.CredentialHandle{}, result, credentialsWrap(err, "credentials: grant read", record)
		}
		handle.Readers = append(handle.Readers, role)
		result.Grants = append(result.Grants, grant)
	}
	return handle, result, nil
}

// Resolve decrypts the secret for role. The role must appear on the handle and
// hold a persisted grant.
func (b *Binder) Resolve(ctx context.Context, handle core.CredentialHandle, role core.Role) (core.BotSecret, error) {
	if handle.IsZero() {
		return core.BotSecret{}, core.BadInputError("credentials: handle is required", nil)
	}
	if !handle.AllowsReader(role) {
		return core.BotSecret{}, core.AccessDeniedError("credentials: role may not read secret", map[string]any{
			"tenant": handle.Tenant,
			"role":   string(role),
		})
	}
	granted, err := b.hasGrant(ctx, handle, role)
	if err != nil {
		return core.BotSecret{}, err
	}
	if !granted {
		return core.BotSecret{}, core.AccessDeniedError("credentials: no read grant for role", map[string]any{
			"tenant": handle.Tenant,
			"role":   string(role),
		})
	}
	record, err := b.store.GetSecret(ctx, handle.Name)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return core.BotSecret{}, core.NewError("credentials: secret not found", goerrors.CategoryNotFound, core.ErrorTenantNotFound, map[string]any{
				"tenant": handle.Tenant,
			})
		}
		return core.BotSecret{}, err
	}
	if record.Tenant != handle.Tenant {
		return core.BotSecret{}, core.AccessDeniedError("credentials: secret belongs to another tenant", map[string]any{
			"tenant": handle.Tenant,
		})
	}
	provider, err := b.keys.Provider(ctx, record.KeyAlias)
	if err != nil {
		return core.BotSecret{}, core.WrapError(err, goerrors.CategoryInternal, "credentials: load secret key", core.ErrorInternal, map[string]any{"tenant": handle.Tenant})
	}
	plaintext, err := provider.Decrypt(ctx, record.Ciphertext)
	if err != nil {
		return core.BotSecret{}, core.WrapError(err, goerrors.CategoryInternal, "credentials: decrypt secret", core.ErrorInternal, map[string]any{"tenant": handle.Tenant})
	}
	return core.ParseBotSecret(plaintext)
}

// HandleFor is the reader-less handle of the secret record derives.
func HandleFor(record core.NamingRecord) core.CredentialHandle {
	return core.CredentialHandle{
		Tenant:   record.Tenant,
		Name:     record.SecretID,
		KeyAlias: record.SecretKeyAlias,
	}
}

// Put replaces the secret value. This is the operator path for filling in
// the bot application id, token and public key.
func (b *Binder) Put(ctx context.Context, handle core.CredentialHandle, secret core.BotSecret) error {
	if err := secret.Validate(); err != nil {
		return core.BadInputError(err.Error(), map[string]any{"tenant": handle.Tenant})
	}
	ciphertext, err := b.seal(ctx, handle.KeyAlias, secret)
	if err != nil {
		return core.WrapError(err, goerrors.CategoryInternal, "credentials: seal secret", core.ErrorInternal, map[string]any{"tenant": handle.Tenant})
	}
	return b.store.UpdateSecret(ctx, SecretRecord{
		Name:       handle.Name,
		Ciphertext: ciphertext,
		UpdatedAt:  b.now(),
	})
}

// Revoke removes every read grant on the tenant secret.
func (b *Binder) Revoke(ctx context.Context, secretName string) error {
	return b.store.DeleteGrants(ctx, secretName)
}

// Destroy deletes the secret. Missing secrets are ignored.
func (b *Binder) Destroy(ctx context.Context, secretName string) error {
	err := b.store.DeleteSecret(ctx, secretName)
	if errors.Is(err, ErrSecretNotFound) {
		return nil
	}
	return err
}

func (b *Binder) hasGrant(ctx context.Context, handle core.CredentialHandle, role core.Role) (bool, error) {
	grants, err := b.store.ListGrants(ctx, handle.Name)
	if err != nil {
		return false, err
	}
	for _, grant := range grants {
		if grant.Role == role && grant.Tenant == handle.Tenant {
			return true, nil
		}
	}
	return false, nil
}

func (b *Binder) seal(ctx context.Context, alias string, secret core.BotSecret) ([]byte, error) {
	payload, err := json.Marshal(secret)
	if err != nil {
		return nil, err
	}
	provider, err := b.keys.Provider(ctx, alias)
	if err != nil {
		return nil, err
	}
	return provider.Encrypt(ctx, payload)
}

func credentialsWrap(err error, message string, record core.NamingRecord) error {
	return core.WrapError(err, goerrors.CategoryInternal, message, core.ErrorInternal, map[string]any{
		"tenant": record.Tenant,
		"secret": record.SecretID,
	})
}

var _ Resolver = (*Binder)(nil)
