package botfactory

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	botcommand "github.com/goliatone/go-botfactory/command"
	"github.com/goliatone/go-botfactory/commands"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/gate"
	"github.com/goliatone/go-botfactory/plugins/pluginstest"
	botquery "github.com/goliatone/go-botfactory/query"
	sqlstore "github.com/goliatone/go-botfactory/store/sql"
	gocmd "github.com/goliatone/go-command"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type recordingPublisher struct {
	mu       sync.Mutex
	commands []string
}

func (p *recordingPublisher) RegisterCommand(_ context.Context, _ string, command core.CommandDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, command.Name)
	return nil
}

func (p *recordingPublisher) factory() commands.PublisherFactory {
	return func(string) commands.Publisher { return p }
}

func newMemoryFactory(t *testing.T, cfg Config) *Factory {
	t.Helper()
	if cfg.Security.AppKey == "" {
		cfg.Security.AppKey = "factory-test-app-key"
	}
	f, err := New(context.Background(), cfg,
		WithMessenger(pluginstest.NewMessenger().Factory()),
		WithPublisher((&recordingPublisher{}).factory()),
	)
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func post(handler http.Handler, path string, headers http.Header, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestFactory_ComposeServeAndTeardownInMemory(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFactory(t, Config{})

	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	seed := &BotSecret{ApplicationID: "app-1", Token: "token-1", PublicKey: hex.EncodeToString(public)}
	graph, err := f.Compose(ctx, TenantDescriptor{Name: "SimpBot", Plugin: "simpbot"}, seed)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if graph.Naming.Tenant != "SimpBot" {
		t.Fatalf("unexpected naming %+v", graph.Naming)
	}

	ping := `{"type":1}`
	rec := post(f.Router(), "/SimpBot", gate.Sign(private, "1700000000", []byte(ping)), ping)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"type":1}` {
		t.Fatalf("expected ping answer, got %d %q", rec.Code, rec.Body.String())
	}

	rec = post(f.Router(), "/SimpBot", http.Header{}, ping)
	if rec.Code != http.StatusUnauthorized || rec.Body.Len() != 0 {
		t.Fatalf("expected unsigned request to be rejected, got %d %q", rec.Code, rec.Body.String())
	}

	if rec := post(f.Router(), "/simpbot", gate.Sign(private, "1700000000", []byte(ping)), ping); rec.Code != http.StatusNotFound {
		t.Fatalf("expected case mismatch to be unknown, got %d", rec.Code)
	}

	health := httptest.NewRecorder()
	f.Router().ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("expected healthy factory, got %d", health.Code)
	}

	metrics := httptest.NewRecorder()
	f.Router().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if metrics.Code != http.StatusOK || !strings.Contains(metrics.Body.String(), "botfactory_") {
		t.Fatalf("expected botfactory metrics, got %d", metrics.Code)
	}

	letters, err := f.DeadLetters(ctx, "SimpBot")
	if err != nil || len(letters) != 0 {
		t.Fatalf("expected no dead letters, got %d %v", len(letters), err)
	}

	if err := f.Teardown(ctx, "SimpBot"); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if _, ok := f.Composer().Graph("SimpBot"); ok {
		t.Fatalf("expected graph to be removed")
	}
	if rec := post(f.Router(), "/SimpBot", gate.Sign(private, "1700000000", []byte(ping)), ping); rec.Code != http.StatusNotFound {
		t.Fatalf("expected torn down tenant to be unknown, got %d", rec.Code)
	}
	if err := f.Teardown(ctx, "SimpBot"); err != nil {
		t.Fatalf("expected repeated teardown to succeed, got %v", err)
	}
}

func TestFactory_StartComposesConfiguredTenants(t *testing.T) {
	f := newMemoryFactory(t, Config{
		Tenants: []TenantDescriptor{{Name: "SimpBot", Plugin: "simpbot"}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	tenants := f.Composer().Tenants()
	if len(tenants) != 1 || tenants[0] != "SimpBot" {
		t.Fatalf("expected configured tenant to be composed, got %v", tenants)
	}
	if f.Config().ServiceName != "botfactory" {
		t.Fatalf("expected default service name, got %q", f.Config().ServiceName)
	}
}

func TestFactory_RejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{
		Relay:    core.RelayConfig{MaxAttempts: -1},
		Security: core.SecurityConfig{AppKey: "k"},
	})
	if err == nil {
		t.Fatalf("expected invalid relay.max_attempts to fail")
	}
}

func TestFactory_SQLPersistenceRequiresAppKey(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	repos, err := sqlstore.NewRepositoryFactoryFromDB(db)
	if err != nil {
		t.Fatalf("repository factory: %v", err)
	}

	_, err = New(context.Background(), Config{}, WithRepositoryFactory(repos))
	if err == nil {
		t.Fatalf("expected missing app key to fail with sql persistence")
	}
}

func TestDerive_ExposesNamingRecord(t *testing.T) {
	record, err := Derive("SimpBot")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if record.Tenant != "SimpBot" {
		t.Fatalf("unexpected record %+v", record)
	}
	if _, err := Derive(""); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
}

func TestFactory_PutSecretFillsTenantComposedWithoutSeed(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFactory(t, Config{})

	if _, err := f.Compose(ctx, TenantDescriptor{Name: "SimpBot", Plugin: "simpbot"}, nil); err != nil {
		t.Fatalf("compose: %v", err)
	}
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	ping := `{"type":1}`
	if rec := post(f.Router(), "/SimpBot", gate.Sign(private, "1700000000", []byte(ping)), ping); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected tenant without a secret to reject, got %d", rec.Code)
	}

	err = f.Commands().PutSecret.Execute(ctx, botcommand.PutSecretMessage{
		Tenant: "SimpBot",
		Secret: BotSecret{ApplicationID: "app-1", Token: "token-1", PublicKey: hex.EncodeToString(public)},
	})
	if err != nil {
		t.Fatalf("put secret: %v", err)
	}
	rec := post(f.Router(), "/SimpBot", gate.Sign(private, "1700000000", []byte(ping)), ping)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"type":1}` {
		t.Fatalf("expected stored secret to take effect, got %d %q", rec.Code, rec.Body.String())
	}

	rotated, rotatedPrivate, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	seed := &BotSecret{ApplicationID: "app-1", Token: "token-2", PublicKey: hex.EncodeToString(rotated)}
	if _, err := f.Compose(ctx, TenantDescriptor{Name: "SimpBot", Plugin: "simpbot"}, seed); err != nil {
		t.Fatalf("recompose: %v", err)
	}
	if rec := post(f.Router(), "/SimpBot", gate.Sign(rotatedPrivate, "1700000000", []byte(ping)), ping); rec.Code != http.StatusOK {
		t.Fatalf("expected recompose seed to replace the secret, got %d", rec.Code)
	}
	if rec := post(f.Router(), "/SimpBot", gate.Sign(private, "1700000000", []byte(ping)), ping); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected old key to be rejected, got %d", rec.Code)
	}

	err = f.Commands().PutSecret.Execute(ctx, botcommand.PutSecretMessage{Tenant: "Ghost", Secret: *seed})
	if !core.IsTenantNotFound(err) {
		t.Fatalf("expected unknown tenant, got %v", err)
	}
}

func TestFactory_CommandsAndQueries(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFactory(t, Config{})

	public, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	collector := gocmd.NewResult[botcommand.ComposeResult]()
	err = f.Commands().Compose.Execute(gocmd.ContextWithResult(ctx, collector), botcommand.ComposeMessage{
		Descriptor: TenantDescriptor{Name: "SimpBot", Plugin: "simpbot"},
		Seed:       &BotSecret{ApplicationID: "app-1", Token: "token-1", PublicKey: hex.EncodeToString(public)},
	})
	if err != nil {
		t.Fatalf("compose command: %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.Tenant != "SimpBot" || len(result.Resources) == 0 {
		t.Fatalf("unexpected compose result %#v", result)
	}

	view, err := f.Queries().GetTenant.Query(ctx, botquery.GetTenantMessage{Tenant: "SimpBot"})
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	if view.QueueID != "SQSSimpBot" || view.Descriptor.Plugin != "simpbot" {
		t.Fatalf("unexpected tenant view %#v", view)
	}
	letters, err := f.Queries().ListDeadLetters.Query(ctx, botquery.ListDeadLettersMessage{Tenant: "SimpBot"})
	if err != nil || len(letters) != 0 {
		t.Fatalf("expected no dead letters, got %v %v", letters, err)
	}

	if err := f.Commands().Teardown.Execute(ctx, botcommand.TeardownMessage{Tenant: "SimpBot"}); err != nil {
		t.Fatalf("teardown command: %v", err)
	}
	tenants, err := f.Queries().ListTenants.Query(ctx, botquery.ListTenantsMessage{})
	if err != nil || len(tenants) != 0 {
		t.Fatalf("expected no tenants after teardown, got %v %v", tenants, err)
	}
}
