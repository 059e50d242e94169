package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-botfactory/core"
)

type stubResolver struct {
	secret core.BotSecret
	err    error
}

func (r stubResolver) Resolve(context.Context, core.CredentialHandle, core.Role) (core.BotSecret, error) {
	return r.secret, r.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	token    string
	appIDs   []string
	names    []string
	failName string
}

func (p *recordingPublisher) factory() PublisherFactory {
	return func(token string) Publisher {
		p.mu.Lock()
		p.token = token
		p.mu.Unlock()
		return p
	}
}

func (p *recordingPublisher) RegisterCommand(_ context.Context, applicationID string, command core.CommandDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appIDs = append(p.appIDs, applicationID)
	p.names = append(p.names, command.Name)
	if command.Name == p.failName {
		return errors.New("discord rejected command")
	}
	return nil
}

func (p *recordingPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.names)
}

var testHandle = core.CredentialHandle{
	Tenant:  "acme",
	Name:    "bot/acme",
	Readers: []core.Role{core.RoleGate, core.RoleProcessor},
}

func testConfig(commands ...string) Config {
	defs := make([]core.CommandDefinition, 0, len(commands))
	for _, name := range commands {
		defs = append(defs, core.CommandDefinition{Name: name, Type: 1, Description: name})
	}
	return Config{
		Tenant:     "acme",
		JobID:      "CommandUpdatesacme",
		Env:        map[string]string{"SECRET_NAME": "bot/acme"},
		Credential: testHandle,
		Secrets:    stubResolver{secret: core.BotSecret{ApplicationID: "app-1", Token: "token-1"}},
		Commands:   defs,
	}
}

func TestJob_PublishesEveryCommandAndRecordsRun(t *testing.T) {
	publisher := &recordingPublisher{}
	runs := NewMemoryRunStore()
	job, err := NewJob(testConfig("taylor", "point_balance"), WithPublisher(publisher.factory()), WithRunStore(runs))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	run, err := job.Publish(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if run.Status != StatusSucceeded || run.Published != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
	if publisher.token != "token-1" || publisher.appIDs[0] != "app-1" {
		t.Fatalf("unexpected credentials used: token=%q apps=%v", publisher.token, publisher.appIDs)
	}
	recorded, _ := runs.List(context.Background(), "acme")
	if len(recorded) != 1 || recorded[0].ID != run.ID {
		t.Fatalf("unexpected recorded runs %+v", recorded)
	}
}

func TestJob_FailureIsRecordedAndNotRetried(t *testing.T) {
	publisher := &recordingPublisher{failName: "point_balance"}
	runs := NewMemoryRunStore()
	job, err := NewJob(testConfig("taylor", "point_balance", "add_points"), WithPublisher(publisher.factory()), WithRunStore(runs))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	run, err := job.Publish(context.Background(), TriggerManual)
	if err == nil {
		t.Fatalf("expected publish failure")
	}
	if !core.HasTextCode(err, core.ErrorCommandPublish) {
		t.Fatalf("expected command publish code, got %v", err)
	}
	if run.Status != StatusFailed || run.Published != 1 || run.Error == "" {
		t.Fatalf("unexpected run %+v", run)
	}
	if publisher.calls() != 2 {
		t.Fatalf("expected two register calls and no retry, got %d", publisher.calls())
	}
	recorded, _ := runs.List(context.Background(), "acme")
	if len(recorded) != 1 || recorded[0].Status != StatusFailed {
		t.Fatalf("unexpected recorded runs %+v", recorded)
	}
}

func TestJob_SecretFailureIsReported(t *testing.T) {
	cfg := testConfig("taylor")
	cfg.Secrets = stubResolver{err: errors.New("kms down")}
	publisher := &recordingPublisher{}
	job, err := NewJob(cfg, WithPublisher(publisher.factory()))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := job.Publish(context.Background(), ""); err == nil {
		t.Fatalf("expected secret failure")
	}
	if publisher.calls() != 0 {
		t.Fatalf("expected no publication")
	}
}

func TestNewJob_EnforcesEnvAndScope(t *testing.T) {
	cfg := testConfig()
	cfg.Env = map[string]string{}
	if _, err := NewJob(cfg); err == nil {
		t.Fatalf("expected missing SECRET_NAME to fail")
	}

	cfg = testConfig()
	cfg.Env = map[string]string{"SECRET_NAME": "bot/other"}
	if _, err := NewJob(cfg); err == nil {
		t.Fatalf("expected foreign secret reference to fail")
	}

	cfg = testConfig()
	cfg.Env = map[string]string{"SECRET_NAME": "bot/acme", "QUEUE_URL": "relay://acme"}
	if _, err := NewJob(cfg); err == nil {
		t.Fatalf("expected extra env keys to fail")
	}

	cfg = testConfig()
	cfg.Credential.Readers = []core.Role{core.RoleGate}
	if _, err := NewJob(cfg); err == nil {
		t.Fatalf("expected missing processor grant to fail")
	}
}

func TestScheduler_PublishNowDispatchesToJob(t *testing.T) {
	scheduler, err := NewScheduler()
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	defer scheduler.Close()

	publisher := &recordingPublisher{}
	runs := NewMemoryRunStore()
	job, err := NewJob(testConfig("taylor"), WithPublisher(publisher.factory()), WithRunStore(runs))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	scheduler.Add(job)

	if err := scheduler.PublishNow(context.Background(), "acme"); err != nil {
		t.Fatalf("publish now: %v", err)
	}
	recorded, _ := runs.List(context.Background(), "acme")
	if len(recorded) != 1 || recorded[0].Trigger != TriggerManual {
		t.Fatalf("unexpected runs %+v", recorded)
	}
	if err := scheduler.PublishNow(context.Background(), "ghost"); !core.HasTextCode(err, core.ErrorTenantNotFound) {
		t.Fatalf("expected tenant not found, got %v", err)
	}
	if !scheduler.Remove("acme") || scheduler.Remove("acme") {
		t.Fatalf("expected single removal")
	}
}

func TestScheduler_RunsJobsOnInterval(t *testing.T) {
	scheduler, err := NewScheduler(WithInterval(10 * time.Millisecond))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	defer scheduler.Close()

	runs := NewMemoryRunStore()
	job, err := NewJob(testConfig("taylor"), WithPublisher((&recordingPublisher{}).factory()), WithRunStore(runs))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	scheduler.Add(job)
	scheduler.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recorded, _ := runs.List(context.Background(), "acme")
		if len(recorded) > 0 {
			if recorded[0].Trigger != TriggerSchedule {
				t.Fatalf("unexpected trigger %q", recorded[0].Trigger)
			}
			scheduler.Stop()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected a scheduled run")
}
