// Package composer assembles the per-tenant resource graph: credential,
// relay queue, domain, gate, plugin resources, processor, command job and
// monitoring, in that order. Every created resource is recorded in the ledger
// so composition can be rolled back and teardown can reverse it.
package composer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/commands"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/credentials"
	"github.com/goliatone/go-botfactory/deadletter"
	"github.com/goliatone/go-botfactory/dns"
	"github.com/goliatone/go-botfactory/gate"
	"github.com/goliatone/go-botfactory/naming"
	"github.com/goliatone/go-botfactory/plugins"
	"github.com/goliatone/go-botfactory/policy"
	"github.com/goliatone/go-botfactory/relay"
	"github.com/goliatone/go-botfactory/security"
	goerrors "github.com/goliatone/go-errors"
)

// Deps are the shared collaborators every tenant graph is built from.
type Deps struct {
	Registry    *plugins.Registry
	Ledger      Ledger
	Keys        *security.KeyRing
	Credentials *credentials.Binder
	// Secrets resolves secrets at runtime; defaults to Credentials.
	Secrets    credentials.Resolver
	Relay      *relay.Manager
	Claims     core.IdempotencyClaimStore
	DNS        *dns.Binder
	Scheduler  *commands.Scheduler
	Runs       commands.RunStore
	Monitoring core.MonitoringAttacher
	Guard      *policy.Guard
	// DeadLetters is purged with the queue on teardown.
	DeadLetters deadletter.Purger
	Messenger   plugins.MessengerFactory
	Publisher   commands.PublisherFactory
}

type Option func(*Composer)

func WithConfig(cfg core.Config) Option {
	return func(c *Composer) {
		c.cfg = cfg
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(c *Composer) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithComponentObserver supplies the observer handed to one runtime
// component (gate, processor, relay, commands).
func WithComponentObserver(fn func(component string) *core.Observer) Option {
	return func(c *Composer) {
		if fn != nil {
			c.componentObserver = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

// Graph is one composed tenant.
type Graph struct {
	Descriptor  core.TenantDescriptor
	Naming      core.NamingRecord
	Credential  core.CredentialHandle
	Policies    []core.AccessPolicy
	Queue       relay.Handle
	Certificate dns.Certificate
	Gate        core.ComputeHandle
	Processor   core.ComputeHandle
	CommandJob  core.ComputeHandle
	Resources   []string

	gate      *gate.Gate
	processor core.Processor
	queue     *relay.Queue
	worker    *relay.Worker
	job       *commands.Job

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// HandleInteraction runs one inbound request through the tenant gate.
func (g *Graph) HandleInteraction(ctx context.Context, req gate.Request) gate.Result {
	return g.gate.Handle(ctx, req)
}

func (g *Graph) ProcessorUnit() core.Processor { return g.processor }

func (g *Graph) Worker() *relay.Worker { return g.worker }

func (g *Graph) Job() *commands.Job { return g.job }

func (g *Graph) start(ctx context.Context, observer *core.Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.stop = cancel
	g.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := g.worker.Run(runCtx); err != nil {
			observer.Error(runCtx, "relay worker stopped", map[string]any{
				"tenant": g.Descriptor.Name,
				"error":  err.Error(),
			})
		}
	}(g.done)
}

func (g *Graph) halt() {
	g.mu.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

type Composer struct {
	deps              Deps
	cfg               core.Config
	observer          *core.Observer
	componentObserver func(component string) *core.Observer
	now               func() time.Time

	// composeMu serializes composition and teardown.
	composeMu sync.Mutex

	mu     sync.RWMutex
	graphs map[string]*Graph
	runCtx context.Context
}

func New(deps Deps, opts ...Option) (*Composer, error) {
	switch {
	case deps.Registry == nil:
		return nil, core.BadInputError("composer: plugin registry is required", nil)
	case deps.Ledger == nil:
		return nil, core.BadInputError("composer: ledger is required", nil)
	case deps.Keys == nil || deps.Credentials == nil:
		return nil, core.BadInputError("composer: key ring and credential binder are required", nil)
	case deps.Relay == nil || deps.Claims == nil:
		return nil, core.BadInputError("composer: relay manager and claim store are required", nil)
	}
	if deps.Secrets == nil {
		deps.Secrets = deps.Credentials
	}
	if deps.DNS == nil {
		deps.DNS = dns.NewBinder(nil, nil)
	}
	if deps.Guard == nil {
		deps.Guard = policy.NewGuard()
	}
	if deps.Runs == nil {
		deps.Runs = commands.NewMemoryRunStore()
	}
	c := &Composer{
		deps:     deps,
		cfg:      core.DefaultConfig(),
		observer: core.NopObserver(),
		now:      func() time.Time { return time.Now().UTC() },
		graphs:   map[string]*Graph{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.componentObserver == nil {
		observer := c.observer
		c.componentObserver = func(string) *core.Observer { return observer }
	}
	if c.deps.Scheduler == nil {
		scheduler, err := commands.NewScheduler(
			commands.WithInterval(c.cfg.Commands.Interval),
			commands.WithSchedulerObserver(c.componentObserver("commands")),
		)
		if err != nil {
			return nil, err
		}
		c.deps.Scheduler = scheduler
	}
	return c, nil
}

// Start runs the relay workers of every composed tenant, and of tenants
// composed later, until ctx is done or Stop is called.
func (c *Composer) Start(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	graphs := make([]*Graph, 0, len(c.graphs))
	for _, graph := range c.graphs {
		graphs = append(graphs, graph)
	}
	c.mu.Unlock()
	for _, graph := range graphs {
		graph.start(ctx, c.componentObserver("relay"))
	}
	c.deps.Scheduler.Start(ctx)
}

func (c *Composer) Stop() {
	c.mu.Lock()
	c.runCtx = nil
	graphs := make([]*Graph, 0, len(c.graphs))
	for _, graph := range c.graphs {
		graphs = append(graphs, graph)
	}
	c.mu.Unlock()
	c.deps.Scheduler.Stop()
	for _, graph := range graphs {
		graph.halt()
	}
}

// Graph returns the running graph of tenant, matched exactly.
func (c *Composer) Graph(tenant string) (*Graph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	graph, ok := c.graphs[tenant]
	return graph, ok
}

func (c *Composer) Tenants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.graphs))
	for name := range c.graphs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PublishCommands runs the tenant command job once.
func (c *Composer) PublishCommands(ctx context.Context, tenant string) error {
	return c.deps.Scheduler.PublishNow(ctx, tenant)
}

// PutSecret replaces the bot secret of a composed tenant. Running gates and
// processors read the new value on their next request.
func (c *Composer) PutSecret(ctx context.Context, tenant string, secret core.BotSecret) (err error) {
	c.composeMu.Lock()
	defer c.composeMu.Unlock()

	startedAt := time.Now()
	defer func() {
		c.observer.Observe(ctx, startedAt, "put_secret", err, map[string]any{"tenant": tenant})
	}()

	record, err := c.deps.Ledger.GetTenant(ctx, tenant)
	if errors.Is(err, ErrTenantNotFound) {
		return core.TenantNotFoundError(tenant)
	}
	if err != nil {
		return composerWrapError(err, "composer: lookup tenant", tenant)
	}
	if record.Name != tenant || record.Status == StatusTearing {
		return core.TenantNotFoundError(tenant)
	}
	return c.putSecret(ctx, credentials.HandleFor(record.Naming), secret)
}

func (c *Composer) putSecret(ctx context.Context, handle core.CredentialHandle, secret core.BotSecret) error {
	if err := c.deps.Credentials.Put(ctx, handle, secret); err != nil {
		return err
	}
	if err := c.invalidateSecret(ctx, handle); err != nil {
		return composerWrapError(err, "composer: invalidate secret", handle.Tenant)
	}
	return nil
}

// invalidateSecret drops cached copies of the secret when the runtime
// resolver caches.
func (c *Composer) invalidateSecret(ctx context.Context, handle core.CredentialHandle) error {
	cached, ok := c.deps.Secrets.(interface {
		Invalidate(ctx context.Context, handle core.CredentialHandle) error
	})
	if !ok {
		return nil
	}
	return cached.Invalidate(ctx, handle)
}

// Restore recomposes every tenant recorded in the ledger, importing the
// resources that already exist.
func (c *Composer) Restore(ctx context.Context) error {
	records, err := c.deps.Ledger.ListTenants(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, record := range records {
		if record.Status == StatusTearing {
			continue
		}
		if _, err := c.Compose(ctx, record.Descriptor(), nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// composition tracks what one Compose pass created so it can be undone.
type composition struct {
	tenant        string
	existing      map[string]bool
	created       []core.ResourceEdge
	tenantCreated bool
}

func edgeKey(kind core.EdgeKind, resourceID string) string {
	return string(kind) + "\x00" + resourceID
}

// Compose builds the tenant graph described by descriptor. It is all or
// nothing: on failure every resource created by this call is removed again.
// Composing an already running tenant with the same descriptor returns the
// running graph. seed, when given, becomes the secret value, replacing any
// stored one.
func (c *Composer) Compose(ctx context.Context, descriptor core.TenantDescriptor, seed *core.BotSecret) (graph *Graph, err error) {
	c.composeMu.Lock()
	defer c.composeMu.Unlock()

	desc := descriptor.Clone()
	desc.DNSZone = c.cfg.ZoneFor(desc)
	startedAt := time.Now()
	defer func() {
		c.observer.Observe(ctx, startedAt, "compose", err, map[string]any{
			"tenant": desc.Name,
			"plugin": desc.Plugin,
		})
	}()

	record, err := naming.Derive(desc.Name)
	if err != nil {
		return nil, err
	}
	factory, err := c.deps.Registry.Resolve(desc.Plugin, desc.Name)
	if err != nil {
		return nil, err
	}
	decl := factory.Declaration()
	policies := naming.Policies(record, decl.Resources)
	if err = c.deps.Guard.Check(ctx, policy.Input{
		Tenant:   record.Tenant,
		Owned:    naming.OwnedResources(record, decl.Resources),
		Allowed:  naming.RoleActions,
		Policies: policies,
	}); err != nil {
		return nil, err
	}

	existing, err := c.deps.Ledger.GetTenant(ctx, desc.Name)
	switch {
	case err == nil:
		if existing.Name != desc.Name {
			return nil, tenantExistsError(desc.Name, existing.Name)
		}
		if !strings.EqualFold(existing.Plugin, desc.Plugin) || existing.DNSZone != desc.DNSZone {
			return nil, core.NewError("composer: tenant descriptor is immutable once composed", goerrors.CategoryConflict, core.ErrorTenantExists, map[string]any{
				"tenant": desc.Name,
			})
		}
		if running, ok := c.Graph(desc.Name); ok {
			if seed != nil {
				if err = c.putSecret(ctx, running.Credential, *seed); err != nil {
					return nil, err
				}
			}
			return running, nil
		}
	case errors.Is(err, ErrTenantNotFound):
		existing = TenantRecord{}
	default:
		return nil, composerWrapError(err, "composer: lookup tenant", desc.Name)
	}

	pass := &composition{tenant: desc.Name, existing: map[string]bool{}}
	if existing.Name == "" {
		now := c.now()
		if err = c.deps.Ledger.CreateTenant(ctx, TenantRecord{
			Name:      desc.Name,
			Plugin:    desc.Plugin,
			DNSZone:   desc.DNSZone,
			Settings:  desc.Settings,
			Naming:    record,
			Status:    StatusComposing,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			if errors.Is(err, ErrTenantExists) {
				return nil, tenantExistsError(desc.Name, "")
			}
			return nil, composerWrapError(err, "composer: record tenant", desc.Name)
		}
		pass.tenantCreated = true
	} else {
		edges, edgesErr := c.deps.Ledger.Edges(ctx, desc.Name)
		if edgesErr != nil {
			return nil, composerWrapError(edgesErr, "composer: load ledger", desc.Name)
		}
		for _, edge := range edges {
			pass.existing[edgeKey(edge.Kind, edge.ResourceID)] = true
		}
	}

	defer func() {
		if err == nil {
			return
		}
		if rollbackErr := c.rollback(context.WithoutCancel(ctx), pass, factory); rollbackErr != nil {
			c.observer.Error(ctx, "composition rollback incomplete", map[string]any{
				"tenant": desc.Name,
				"error":  rollbackErr.Error(),
			})
		}
	}()

	graph, err = c.build(ctx, pass, desc, record, policies, factory, decl, seed)
	if err != nil {
		return nil, err
	}
	if err = c.deps.Ledger.UpdateTenantStatus(ctx, desc.Name, StatusActive); err != nil {
		return nil, composerWrapError(err, "composer: activate tenant", desc.Name)
	}

	if seed != nil {
		if err = c.invalidateSecret(ctx, graph.Credential); err != nil {
			return nil, composerWrapError(err, "composer: invalidate secret", desc.Name)
		}
	}

	c.mu.Lock()
	c.graphs[desc.Name] = graph
	runCtx := c.runCtx
	c.mu.Unlock()
	if runCtx != nil {
		graph.start(runCtx, c.componentObserver("relay"))
	}
	return graph, nil
}

func (c *Composer) build(
	ctx context.Context,
	pass *composition,
	desc core.TenantDescriptor,
	record core.NamingRecord,
	policies []core.AccessPolicy,
	factory plugins.Factory,
	decl plugins.Declaration,
	seed *core.BotSecret,
) (*Graph, error) {
	tenant := desc.Name

	handle, bound, err := c.deps.Credentials.Bind(ctx, record, seed)
	if err != nil {
		return nil, err
	}
	if bound.KeyCreated {
		if err := c.record(ctx, pass, core.EdgeKey, record.SecretKeyAlias, nil); err != nil {
			return nil, err
		}
	}
	if bound.SecretCreated {
		if err := c.record(ctx, pass, core.EdgeSecret, record.SecretID, nil); err != nil {
			return nil, err
		}
	}
	for _, grant := range bound.Grants {
		if err := c.record(ctx, pass, core.EdgeGrant, grant.Principal, map[string]string{
			"secret": grant.SecretName,
			"role":   string(grant.Role),
		}); err != nil {
			return nil, err
		}
	}

	queueHandle, created, err := c.deps.Relay.Create(ctx, record)
	if err != nil {
		return nil, err
	}
	if created {
		if err := c.record(ctx, pass, core.EdgeQueue, queueHandle.ID, map[string]string{
			"dead_letter": queueHandle.DeadLetterID,
			"key_alias":   queueHandle.KeyAlias,
		}); err != nil {
			return nil, err
		}
	}
	queue, err := c.deps.Relay.Open(ctx, queueHandle.ID)
	if err != nil {
		return nil, err
	}

	cert, err := c.deps.DNS.Bind(ctx, tenant, desc.DNSZone)
	if err != nil {
		return nil, err
	}
	if err := c.record(ctx, pass, core.EdgeDNS, cert.ID, map[string]string{"domain": cert.Domain}); err != nil {
		return nil, err
	}

	gateEnv := map[string]string{
		plugins.EnvSecretName: record.SecretID,
		plugins.EnvQueueURL:   queueHandle.URL,
	}
	tenantGate, err := gate.New(gate.Config{
		Tenant:     tenant,
		Credential: handle,
		Secrets:    c.deps.Secrets,
		Queue:      queue,
	},
		gate.WithTimeout(c.cfg.Gate.Timeout),
		gate.WithMaxBodyBytes(c.cfg.Gate.MaxBodyBytes),
		gate.WithObserver(c.componentObserver("gate")),
	)
	if err != nil {
		return nil, err
	}
	gateUnit := core.ComputeHandle{
		ID:      record.GateID,
		Role:    core.RoleGate,
		RoleID:  record.GateRoleID,
		Handler: record.Handler,
		Env:     gateEnv,
	}
	if err := c.record(ctx, pass, core.EdgeGate, record.GateID, map[string]string{"route": record.Route}); err != nil {
		return nil, err
	}

	provisioner, _ := factory.(plugins.Provisioner)
	for _, resource := range decl.Resources {
		if provisioner != nil {
			if err := provisioner.Provision(ctx, tenant, resource); err != nil {
				return nil, composerWrapError(err, "composer: provision plugin resource "+resource.Logical, tenant)
			}
		}
		if err := c.record(ctx, pass, core.EdgePluginResource, resource.ResourceID(tenant), map[string]string{
			"logical": resource.Logical,
			"kind":    string(resource.Kind),
		}); err != nil {
			return nil, err
		}
	}

	processorEnv := plugins.ProcessorEnv(decl, record, queueHandle.URL, desc.Settings)
	processor, err := factory.New(ctx, plugins.Deps{
		Tenant:     tenant,
		Naming:     record,
		Credential: handle,
		Secrets:    c.deps.Secrets,
		Env:        processorEnv,
		Messenger:  c.deps.Messenger,
		Observer:   c.componentObserver("processor"),
		Now:        c.now,
	})
	if err != nil {
		return nil, composerWrapError(err, "composer: build processor", tenant)
	}
	workerOpts := []relay.WorkerOption{relay.WithWorkerObserver(c.componentObserver("relay"))}
	if c.cfg.Relay.Workers > 0 {
		workerOpts = append(workerOpts, relay.WithConcurrency(c.cfg.Relay.Workers))
	}
	worker := relay.NewWorker(queue, processor, c.deps.Claims, workerOpts...)
	processorUnit := plugins.Compute(record, processorEnv)
	if err := c.record(ctx, pass, core.EdgeProcessor, record.ProcessorID, nil); err != nil {
		return nil, err
	}

	jobEnv := map[string]string{plugins.EnvSecretName: record.SecretID}
	jobOpts := []commands.Option{
		commands.WithRunStore(c.deps.Runs),
		commands.WithTimeout(c.cfg.Commands.Timeout),
		commands.WithObserver(c.componentObserver("commands")),
	}
	if c.deps.Publisher != nil {
		jobOpts = append(jobOpts, commands.WithPublisher(c.deps.Publisher))
	}
	job, err := commands.NewJob(commands.Config{
		Tenant:     tenant,
		JobID:      record.CommandJobID,
		Env:        jobEnv,
		Credential: handle,
		Secrets:    c.deps.Secrets,
		Commands:   decl.Commands,
	}, jobOpts...)
	if err != nil {
		return nil, err
	}
	c.deps.Scheduler.Add(job)
	jobUnit := core.ComputeHandle{
		ID:      record.CommandJobID,
		Role:    core.RoleProcessor,
		RoleID:  record.ProcessorRoleID,
		Handler: record.Handler,
		Env:     jobEnv,
	}
	if err := c.record(ctx, pass, core.EdgeCommandJob, record.CommandJobID, nil); err != nil {
		return nil, err
	}

	resources := naming.OwnedResources(record, decl.Resources)
	if c.deps.Monitoring != nil {
		if err := c.deps.Monitoring.Attach(ctx, core.MonitoringAttachment{
			Tenant:     tenant,
			Naming:     record,
			Credential: handle,
			Gate:       gateUnit,
			Processor:  processorUnit,
			CommandJob: jobUnit,
			Resources:  resources,
			Depth:      c.deps.Relay,
		}); err != nil {
			return nil, err
		}
		if err := c.record(ctx, pass, core.EdgeMonitoring, tenant, nil); err != nil {
			return nil, err
		}
	}

	return &Graph{
		Descriptor:  desc,
		Naming:      record,
		Credential:  handle,
		Policies:    policies,
		Queue:       queueHandle,
		Certificate: cert,
		Gate:        gateUnit,
		Processor:   processorUnit,
		CommandJob:  jobUnit,
		Resources:   resources,
		gate:        tenantGate,
		processor:   processor,
		queue:       queue,
		worker:      worker,
		job:         job,
	}, nil
}

// record appends an ownership edge unless the ledger already holds it.
func (c *Composer) record(ctx context.Context, pass *composition, kind core.EdgeKind, resourceID string, metadata map[string]string) error {
	key := edgeKey(kind, resourceID)
	if pass.existing[key] {
		return nil
	}
	edge, err := c.deps.Ledger.AppendEdge(ctx, core.ResourceEdge{
		Tenant:     pass.tenant,
		Kind:       kind,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  c.now(),
	})
	if err != nil {
		return composerWrapError(err, "composer: record "+string(kind), pass.tenant)
	}
	pass.existing[key] = true
	pass.created = append(pass.created, edge)
	return nil
}

func (c *Composer) rollback(ctx context.Context, pass *composition, factory plugins.Factory) error {
	var errs []error
	for i := len(pass.created) - 1; i >= 0; i-- {
		edge := pass.created[i]
		if err := c.release(ctx, edge, factory); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.deps.Ledger.DeleteEdge(ctx, pass.tenant, edge.Seq); err != nil {
			errs = append(errs, err)
		}
	}
	if pass.tenantCreated && len(errs) == 0 {
		if err := c.deps.Ledger.DeleteTenant(ctx, pass.tenant); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Teardown removes everything the tenant graph owns, newest first. It is safe
// to call again after a partial failure and for unknown tenants.
func (c *Composer) Teardown(ctx context.Context, tenant string) (err error) {
	c.composeMu.Lock()
	defer c.composeMu.Unlock()

	startedAt := time.Now()
	defer func() {
		c.observer.Observe(ctx, startedAt, "teardown", err, map[string]any{"tenant": tenant})
	}()

	record, err := c.deps.Ledger.GetTenant(ctx, tenant)
	if errors.Is(err, ErrTenantNotFound) {
		return nil
	}
	if err != nil {
		return composerWrapError(err, "composer: lookup tenant", tenant)
	}
	if record.Name != tenant {
		return core.TenantNotFoundError(tenant)
	}
	if err = c.deps.Ledger.UpdateTenantStatus(ctx, tenant, StatusTearing); err != nil {
		return composerWrapError(err, "composer: mark teardown", tenant)
	}

	c.mu.Lock()
	graph := c.graphs[tenant]
	delete(c.graphs, tenant)
	c.mu.Unlock()
	if graph != nil {
		graph.halt()
	}

	factory, resolveErr := c.deps.Registry.Resolve(record.Plugin, tenant)
	if resolveErr != nil {
		factory = nil
	}
	edges, err := c.deps.Ledger.Edges(ctx, tenant)
	if err != nil {
		return composerWrapError(err, "composer: load ledger", tenant)
	}
	var errs []error
	for i := len(edges) - 1; i >= 0; i-- {
		edge := edges[i]
		if releaseErr := c.release(ctx, edge, factory); releaseErr != nil {
			errs = append(errs, releaseErr)
			continue
		}
		if deleteErr := c.deps.Ledger.DeleteEdge(ctx, tenant, edge.Seq); deleteErr != nil {
			errs = append(errs, deleteErr)
		}
	}
	if len(errs) > 0 {
		return composerWrapError(errors.Join(errs...), "composer: teardown incomplete", tenant)
	}
	return c.deps.Ledger.DeleteTenant(ctx, tenant)
}

// release destroys the resource behind one ownership edge.
func (c *Composer) release(ctx context.Context, edge core.ResourceEdge, factory plugins.Factory) error {
	switch edge.Kind {
	case core.EdgeMonitoring:
		if c.deps.Monitoring == nil {
			return nil
		}
		return c.deps.Monitoring.Detach(ctx, edge.Tenant)
	case core.EdgeCommandJob:
		c.deps.Scheduler.Remove(edge.Tenant)
		return c.deps.Runs.DeleteTenant(ctx, edge.Tenant)
	case core.EdgeProcessor, core.EdgeGate:
		return nil
	case core.EdgePluginResource:
		provisioner, ok := factory.(plugins.Provisioner)
		if !ok {
			return nil
		}
		return provisioner.Deprovision(ctx, edge.Tenant, core.ResourceSpec{
			Kind:    core.ResourceKind(edge.Metadata["kind"]),
			Logical: edge.Metadata["logical"],
		})
	case core.EdgeDNS:
		return c.deps.DNS.Unbind(ctx, edge.ResourceID)
	case core.EdgeQueue:
		if c.deps.DeadLetters != nil {
			if err := c.deps.DeadLetters.Purge(ctx, edge.Tenant); err != nil {
				return err
			}
		}
		return c.deps.Relay.Destroy(ctx, edge.ResourceID)
	case core.EdgeGrant:
		return c.deps.Credentials.Revoke(ctx, edge.Metadata["secret"])
	case core.EdgeSecret:
		return c.deps.Credentials.Destroy(ctx, edge.ResourceID)
	case core.EdgeKey:
		return c.deps.Keys.Destroy(ctx, edge.ResourceID)
	default:
		return fmt.Errorf("composer: unknown edge kind %q", edge.Kind)
	}
}

func tenantExistsError(name string, existing string) error {
	metadata := map[string]any{"tenant": name}
	if existing != "" {
		metadata["existing"] = existing
	}
	return core.NewError("composer: tenant name collides with an existing tenant", goerrors.CategoryConflict, core.ErrorTenantExists, metadata)
}

func composerWrapError(err error, message string, tenant string) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}
	return core.WrapError(err, goerrors.CategoryInternal, message, core.ErrorInternal, map[string]any{"tenant": tenant})
}
