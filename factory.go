// Package botfactory assembles a running bot factory: configuration, stores,
// the relay, the composer and the inbound HTTP router.
package botfactory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-botfactory/adapters/gologger"
	botcommand "github.com/goliatone/go-botfactory/command"
	"github.com/goliatone/go-botfactory/commands"
	"github.com/goliatone/go-botfactory/composer"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/credentials"
	"github.com/goliatone/go-botfactory/deadletter"
	"github.com/goliatone/go-botfactory/discord"
	"github.com/goliatone/go-botfactory/dns"
	"github.com/goliatone/go-botfactory/idempotency"
	"github.com/goliatone/go-botfactory/inbound"
	"github.com/goliatone/go-botfactory/monitoring"
	"github.com/goliatone/go-botfactory/notify"
	"github.com/goliatone/go-botfactory/plugins"
	"github.com/goliatone/go-botfactory/plugins/builtin"
	"github.com/goliatone/go-botfactory/plugins/simpbot"
	"github.com/goliatone/go-botfactory/plugins/watchdog2"
	botquery "github.com/goliatone/go-botfactory/query"
	"github.com/goliatone/go-botfactory/relay"
	"github.com/goliatone/go-botfactory/security"
	sqlstore "github.com/goliatone/go-botfactory/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	secretCacheTTL  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Option func(*options)

type options struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	configProvider core.ConfigProvider
	resolver       core.OptionsResolver
	repositories   *sqlstore.RepositoryFactory
	persistence    *persistence.Client
	claims         core.IdempotencyClaimStore
	deadLetters    core.DeadLetterSink
	messenger      plugins.MessengerFactory
	publisher      commands.PublisherFactory
	notifier       notify.Notifier
	issuer         dns.Issuer
	registry       *prometheus.Registry
	now            func() time.Time
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *options) { o.loggerProvider = provider }
}

// WithConfigProvider supplies the file layer, usually a YAML loader.
func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(o *options) { o.configProvider = provider }
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(o *options) { o.resolver = resolver }
}

// WithRepositoryFactory backs every store with SQL. Without it the factory
// keeps its state in memory.
func WithRepositoryFactory(factory *sqlstore.RepositoryFactory) Option {
	return func(o *options) { o.repositories = factory }
}

func WithPersistenceClient(client *persistence.Client) Option {
	return func(o *options) { o.persistence = client }
}

// WithClaimStore overrides the claim store chosen from redis.url.
func WithClaimStore(claims core.IdempotencyClaimStore) Option {
	return func(o *options) { o.claims = claims }
}

// WithDeadLetterSink adds a sink next to the archive store.
func WithDeadLetterSink(sink core.DeadLetterSink) Option {
	return func(o *options) { o.deadLetters = sink }
}

func WithMessenger(factory plugins.MessengerFactory) Option {
	return func(o *options) { o.messenger = factory }
}

func WithPublisher(factory commands.PublisherFactory) Option {
	return func(o *options) { o.publisher = factory }
}

func WithNotifier(notifier notify.Notifier) Option {
	return func(o *options) { o.notifier = notifier }
}

func WithIssuer(issuer dns.Issuer) Option {
	return func(o *options) { o.issuer = issuer }
}

func WithPrometheusRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type Commands struct {
	Compose         *botcommand.ComposeCommand
	Teardown        *botcommand.TeardownCommand
	PublishCommands *botcommand.PublishCommandsCommand
	PutSecret       *botcommand.PutSecretCommand
}

type Queries struct {
	ListTenants     *botquery.ListTenantsQuery
	GetTenant       *botquery.GetTenantQuery
	ListDeadLetters *botquery.ListDeadLettersQuery
}

// Factory is an assembled bot factory.
type Factory struct {
	cfg       Config
	observer  *core.Observer
	composer  *composer.Composer
	scheduler *commands.Scheduler
	secrets   *credentials.CachedResolver
	archive   *deadletter.StoreSink
	router    *inbound.Router
	registry  *prometheus.Registry
	repos     *sqlstore.RepositoryFactory
	redis     *redis.Client
	commands  Commands
	queries   Queries
}

// New resolves configuration over the runtime layer cfg and wires the
// runtime. Nothing runs until Start or Serve.
func New(ctx context.Context, cfg Config, opts ...Option) (_ *Factory, err error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	resolved, err := core.ResolveConfig(ctx, o.configProvider, o.resolver, cfg)
	if err != nil {
		return nil, err
	}

	recorder := monitoring.NewRecorder(o.registry, "")
	observerFor := func(component string) *core.Observer {
		loggers := gologger.ForComponent(component, o.loggerProvider, o.logger)
		return core.NewObserver(component, loggers.Provider, loggers.Logger, recorder)
	}

	f := &Factory{
		cfg:      resolved,
		observer: observerFor("factory"),
		registry: o.registry,
	}
	defer func() {
		if err != nil {
			f.closeClients()
		}
	}()

	repos := o.repositories
	if repos == nil && o.persistence != nil {
		repos, err = sqlstore.NewRepositoryFactoryFromPersistence(o.persistence)
		if err != nil {
			return nil, err
		}
	}
	f.repos = repos

	var (
		ledger      composer.Ledger
		credStore   credentials.Store
		keyStore    security.KeyStore
		relayStore  relay.Store
		letterStore deadletter.Store
		runStore    commands.RunStore
		points      simpbot.PointsStore
		contacts    watchdog2.ContactStore
	)
	if repos != nil {
		ledger = repos.TenantStore()
		credStore = repos.CredentialStore()
		keyStore = repos.KeyStore()
		relayStore = repos.RelayStore()
		letterStore = repos.DeadLetterStore()
		runStore = repos.RunStore()
		points = repos.PointsStore()
		contacts = repos.ContactStore()
	} else {
		ledger = composer.NewMemoryLedger()
		credStore = credentials.NewMemoryStore()
		keyStore = security.NewMemoryKeyStore()
		relayStore = relay.NewMemoryStore()
		letterStore = deadletter.NewMemoryStore()
		runStore = commands.NewMemoryRunStore()
	}

	master, err := f.masterKey(ctx, repos != nil)
	if err != nil {
		return nil, err
	}
	keys, err := security.NewKeyRing(master, keyStore, security.WithKeyRingClock(o.now))
	if err != nil {
		return nil, err
	}

	binder := credentials.NewBinder(credStore, keys,
		credentials.WithObserver(observerFor("credentials")),
		credentials.WithClock(o.now),
	)
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = secretCacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("botfactory: secret cache: %w", err)
	}
	if f.secrets, err = credentials.NewCachedResolver(binder, cacheService); err != nil {
		return nil, err
	}

	claims := o.claims
	if claims == nil {
		claims, err = f.claimStore()
		if err != nil {
			return nil, err
		}
	}

	f.archive = deadletter.NewStoreSink(letterStore)
	sinks := deadletter.FanOut{f.archive, deadletter.NewLogSink(observerFor("dead_letter"))}
	if bucket := strings.TrimSpace(resolved.DeadLetter.S3Bucket); bucket != "" {
		s3Config := deadletter.S3Config{
			Bucket:   bucket,
			Region:   resolved.DeadLetter.S3Region,
			Endpoint: resolved.DeadLetter.S3Endpoint,
			Prefix:   resolved.DeadLetter.S3Prefix,
		}
		client, err := deadletter.NewS3Client(ctx, s3Config)
		if err != nil {
			return nil, err
		}
		archive, err := deadletter.NewS3Sink(client, s3Config)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, archive)
	}
	if o.deadLetters != nil {
		sinks = append(sinks, o.deadLetters)
	}

	relayManager := relay.NewManager(relayStore, keys,
		relay.WithVisibilityTimeout(resolved.Relay.VisibilityTimeout),
		relay.WithMaxAttempts(resolved.Relay.MaxAttempts),
		relay.WithMaxDelay(resolved.Relay.MaxDelay),
		relay.WithPollInterval(resolved.Relay.PollInterval),
		relay.WithDeadLetterSink(sinks),
		relay.WithObserver(observerFor("relay")),
		relay.WithClock(o.now),
	)

	scheduler, err := commands.NewScheduler(
		commands.WithInterval(resolved.Commands.Interval),
		commands.WithSchedulerObserver(observerFor("commands")),
	)
	if err != nil {
		return nil, err
	}
	f.scheduler = scheduler

	notifier := o.notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(observerFor("notify"))
	}
	registry, err := builtin.Registry(builtin.Stores{Points: points, Contacts: contacts, Notifier: notifier})
	if err != nil {
		return nil, err
	}

	messenger := o.messenger
	if messenger == nil {
		messenger = plugins.DefaultMessengerFactory(discord.WithBaseURL(resolved.Commands.APIBaseURL))
	}
	publisher := o.publisher
	if publisher == nil {
		publisher = commands.DefaultPublisherFactory(
			discord.WithBaseURL(resolved.Commands.APIBaseURL),
			discord.WithTimeout(resolved.Commands.Timeout),
		)
	}

	f.composer, err = composer.New(composer.Deps{
		Registry:    registry,
		Ledger:      ledger,
		Keys:        keys,
		Credentials: binder,
		Secrets:     f.secrets,
		Relay:       relayManager,
		Claims:      claims,
		DNS:         dns.NewBinder(o.issuer, observerFor("dns")),
		Scheduler:   scheduler,
		Runs:        runStore,
		Monitoring:  monitoring.NewPrometheusAttacher(o.registry, "botfactory", observerFor("monitoring")),
		DeadLetters: sinks,
		Messenger:   messenger,
		Publisher:   publisher,
	},
		composer.WithConfig(resolved),
		composer.WithObserver(observerFor("composer")),
		composer.WithComponentObserver(observerFor),
		composer.WithClock(o.now),
	)
	if err != nil {
		return nil, err
	}

	f.router = inbound.NewRouter(inbound.ComposerResolver(f.composer),
		inbound.WithObserver(observerFor("inbound")),
		inbound.WithMaxBodyBytes(resolved.Gate.MaxBodyBytes),
		inbound.WithMetricsHandler(promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})),
		inbound.WithHealthCheck(f.healthCheck),
		inbound.WithTracing(resolved.ServiceName),
	)
	f.commands = Commands{
		Compose:         botcommand.NewComposeCommand(f),
		Teardown:        botcommand.NewTeardownCommand(f),
		PublishCommands: botcommand.NewPublishCommandsCommand(f),
		PutSecret:       botcommand.NewPutSecretCommand(f),
	}
	f.queries = Queries{
		ListTenants:     botquery.NewListTenantsQuery(f),
		GetTenant:       botquery.NewGetTenantQuery(f),
		ListDeadLetters: botquery.NewListDeadLettersQuery(f),
	}
	return f, nil
}

func (f *Factory) masterKey(ctx context.Context, durable bool) ([]byte, error) {
	if key := strings.TrimSpace(f.cfg.Security.AppKey); key != "" {
		return []byte(key), nil
	}
	if durable {
		return nil, core.BadInputError("botfactory: security.app_key is required with sql persistence", nil)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("botfactory: generate ephemeral key: %w", err)
	}
	f.observer.Warn(ctx, "security.app_key not set, using an ephemeral key", nil)
	return key, nil
}

func (f *Factory) claimStore() (core.IdempotencyClaimStore, error) {
	url := strings.TrimSpace(f.cfg.Redis.URL)
	if url == "" {
		return idempotency.NewMemoryStore(), nil
	}
	client, err := idempotency.NewRedisClient(url)
	if err != nil {
		return nil, err
	}
	f.redis = client
	store, err := idempotency.NewRedisStore(client)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (f *Factory) healthCheck(ctx context.Context) error {
	if f.repos != nil {
		if err := f.repos.DB().PingContext(ctx); err != nil {
			return err
		}
	}
	if f.redis != nil {
		if err := f.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (f *Factory) Config() Config { return f.cfg }

func (f *Factory) Composer() *composer.Composer { return f.composer }

// Router is the inbound HTTP handler: POST /<tenant>, /healthz and /metrics.
func (f *Factory) Router() http.Handler { return f.router }

func (f *Factory) Registry() *prometheus.Registry { return f.registry }

func (f *Factory) Commands() Commands { return f.commands }

func (f *Factory) Queries() Queries { return f.queries }

func (f *Factory) Tenants() []string { return f.composer.Tenants() }

func (f *Factory) Graph(tenant string) (*composer.Graph, bool) { return f.composer.Graph(tenant) }

// DeadLetters lists the archived dead letters of tenant.
func (f *Factory) DeadLetters(ctx context.Context, tenant string) ([]core.DeadLetter, error) {
	return f.archive.List(ctx, tenant)
}

// Start restores the tenants in the ledger, composes the tenants declared in
// configuration and starts their workers and command jobs.
func (f *Factory) Start(ctx context.Context) error {
	var errs []error
	if err := f.composer.Restore(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, tenant := range f.cfg.Tenants {
		if _, err := f.composer.Compose(ctx, tenant, nil); err != nil {
			errs = append(errs, err)
		}
	}
	f.composer.Start(ctx)
	f.observer.Info(ctx, "bot factory started", map[string]any{
		"tenants": len(f.composer.Tenants()),
	})
	return errors.Join(errs...)
}

func (f *Factory) Compose(ctx context.Context, descriptor TenantDescriptor, seed *BotSecret) (*composer.Graph, error) {
	return f.composer.Compose(ctx, descriptor, seed)
}

// Teardown removes every resource of tenant and drops its cached secrets.
func (f *Factory) Teardown(ctx context.Context, tenant string) error {
	graph, ok := f.composer.Graph(tenant)
	if err := f.composer.Teardown(ctx, tenant); err != nil {
		return err
	}
	if ok {
		return f.secrets.Invalidate(ctx, graph.Credential)
	}
	return nil
}

func (f *Factory) PublishCommands(ctx context.Context, tenant string) error {
	return f.composer.PublishCommands(ctx, tenant)
}

// PutSecret stores a new bot secret for a composed tenant.
func (f *Factory) PutSecret(ctx context.Context, tenant string, secret BotSecret) error {
	return f.composer.PutSecret(ctx, tenant, secret)
}

// Serve starts the factory and serves the router on http.addr until ctx is
// done, then shuts the server down gracefully.
func (f *Factory) Serve(ctx context.Context) error {
	if err := f.Start(ctx); err != nil {
		f.observer.Error(ctx, "bot factory started with errors", map[string]any{"error": err.Error()})
	}
	server := &http.Server{
		Addr:              f.cfg.HTTP.Addr,
		Handler:           f.router,
		ReadHeaderTimeout: f.cfg.Gate.Timeout,
	}
	errCh := make(chan error, 1)
	go func() {
		f.observer.Info(ctx, "listening", map[string]any{"addr": server.Addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		f.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	f.Close()
	return err
}

var (
	_ botcommand.MutatingService = (*Factory)(nil)
	_ botquery.TenantReader      = (*Factory)(nil)
	_ botquery.DeadLetterReader  = (*Factory)(nil)
)

// Close stops workers and the command scheduler and releases clients.
func (f *Factory) Close() {
	if f == nil {
		return
	}
	if f.composer != nil {
		f.composer.Stop()
	}
	if f.scheduler != nil {
		f.scheduler.Close()
	}
	f.closeClients()
}

func (f *Factory) closeClients() {
	if f.redis != nil {
		_ = f.redis.Close()
		f.redis = nil
	}
}
