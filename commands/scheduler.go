package commands

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/adapters/gocommand"
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-command"
)

const DefaultInterval = 24 * time.Hour

// PublishCommands asks the scheduler to run one tenant's job.
type PublishCommands struct {
	Tenant  string
	Trigger string
}

func (PublishCommands) Type() string { return "botfactory.commands.publish" }

func (m PublishCommands) Validate() error {
	if strings.TrimSpace(m.Tenant) == "" {
		return core.BadInputError("commands: tenant is required", nil)
	}
	return nil
}

// Scheduler runs registered jobs every interval and on demand. Both paths go
// through the go-command dispatcher.
type Scheduler struct {
	interval time.Duration
	observer *core.Observer
	bus      *gocommand.Bus

	mu   sync.RWMutex
	jobs map[string]*Job

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SchedulerOption func(*Scheduler)

func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithSchedulerObserver(observer *core.Observer) SchedulerOption {
	return func(s *Scheduler) {
		if observer != nil {
			s.observer = observer
		}
	}
}

func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		interval: DefaultInterval,
		observer: core.NopObserver(),
		bus:      gocommand.NewBus(command.NewRegistry()),
		jobs:     map[string]*Job{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := gocommand.Handle(s.bus, command.CommandFunc[PublishCommands](s.handle)); err != nil {
		return nil, err
	}
	if err := s.bus.Initialize(); err != nil {
		s.bus.Close()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Add(job *Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Tenant()] = job
}

func (s *Scheduler) Remove(tenant string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[tenant]
	delete(s.jobs, tenant)
	return ok
}

func (s *Scheduler) Job(tenant string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[tenant]
	return job, ok
}

func (s *Scheduler) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.jobs))
	for tenant := range s.jobs {
		out = append(out, tenant)
	}
	sort.Strings(out)
	return out
}

// PublishNow runs the tenant's job once and returns its failure, if any.
func (s *Scheduler) PublishNow(ctx context.Context, tenant string) error {
	if _, ok := s.Job(tenant); !ok {
		return core.TenantNotFoundError(tenant)
	}
	return gocommand.Dispatch(ctx, PublishCommands{Tenant: tenant, Trigger: TriggerManual})
}

func (s *Scheduler) handle(ctx context.Context, msg PublishCommands) error {
	job, ok := s.Job(msg.Tenant)
	if !ok {
		return nil
	}
	_, err := job.Publish(ctx, msg.Trigger)
	return err
}

// Start runs every job each interval until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
}

func (s *Scheduler) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the loop and releases the dispatcher subscription.
func (s *Scheduler) Close() {
	s.Stop()
	s.bus.Close()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, tenant := range s.Tenants() {
		err := gocommand.Dispatch(ctx, PublishCommands{Tenant: tenant, Trigger: TriggerSchedule})
		if err != nil {
			s.observer.Error(ctx, "scheduled command publication failed", map[string]any{
				"tenant": tenant,
				"error":  err.Error(),
			})
		}
	}
}
