package watchdog2

import (
	"context"
	"testing"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/discord"
	"github.com/goliatone/go-botfactory/notify"
	"github.com/goliatone/go-botfactory/plugins/pluginstest"
)

func newProcessor(t *testing.T, store ContactStore, notifier notify.Notifier, env map[string]string) (core.Processor, *pluginstest.Messenger) {
	t.Helper()
	messenger := pluginstest.NewMessenger(
		discord.User{ID: "1", Username: "alice", Discriminator: "0001"},
		discord.User{ID: "2", Username: "bob", Discriminator: "0002"},
	)
	deps := pluginstest.Deps("acme", messenger)
	deps.Env = env
	processor, err := NewFactory(store, notifier).New(context.Background(), deps)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return processor, messenger
}

func event(command string, issuer string, value any) core.CommandEvent {
	evt := core.CommandEvent{Command: command, CommandIssuer: issuer, ChannelID: "chan-1", Options: []core.CommandEventOption{}}
	if value != nil {
		evt.Options = append(evt.Options, core.CommandEventOption{Name: "value", Value: value})
	}
	return evt
}

func TestUpdate_StoresNumber(t *testing.T) {
	store := NewMemoryStore()
	processor, _ := newProcessor(t, store, nil, nil)

	result, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", event(CommandUpdate, "bob#0002", "+12223334455")))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.Reply != ReplyInfoUpdated {
		t.Fatalf("unexpected reply %q", result.Reply)
	}
	contact, err := store.Get(context.Background(), "acme", "bob#0002")
	if err != nil || contact.PhoneNumber != "+12223334455" {
		t.Fatalf("unexpected contact %+v err=%v", contact, err)
	}
}

func TestUpdate_RejectsInvalidNumber(t *testing.T) {
	store := NewMemoryStore()
	processor, messenger := newProcessor(t, store, nil, nil)

	result, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", event(CommandUpdate, "bob#0002", "555-1234")))
	if err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if !result.Failed || result.Reply != ReplyInvalidNumber {
		t.Fatalf("unexpected result %+v", result)
	}
	if sent := messenger.Sent(); len(sent) != 1 || sent[0].Content != ReplyInvalidNumber {
		t.Fatalf("unexpected sent %+v", sent)
	}
	if _, err := store.Get(context.Background(), "acme", "bob#0002"); err != ErrContactNotFound {
		t.Fatalf("expected nothing stored, got %v", err)
	}
}

func TestRegisteredUsers_ListsTenantUsers(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Upsert(context.Background(), Contact{Tenant: "acme", DiscordUser: "bob#0002", PhoneNumber: "+12223334455"})
	_ = store.Upsert(context.Background(), Contact{Tenant: "acme", DiscordUser: "alice#0001", PhoneNumber: "+12223334456"})
	_ = store.Upsert(context.Background(), Contact{Tenant: "other", DiscordUser: "eve#0003", PhoneNumber: "+12223334457"})
	processor, _ := newProcessor(t, store, nil, nil)

	result, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", event(CommandRegisteredUsers, "bob#0002", nil)))
	if err != nil {
		t.Fatalf("registered users: %v", err)
	}
	if result.Reply != "alice#0001\nbob#0002" {
		t.Fatalf("unexpected reply %q", result.Reply)
	}
}

func TestRaid_SendsSMSAndVoice(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Upsert(context.Background(), Contact{Tenant: "acme", DiscordUser: "bob#0002", PhoneNumber: "+12223334455"})
	notifier := notify.NewLogNotifier(nil)
	processor, _ := newProcessor(t, store, notifier, map[string]string{"PINPOINT_APP_ID": "acme/alerts"})

	result, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", event(CommandRaid, "alice#0001", "2")))
	if err != nil {
		t.Fatalf("raid: %v", err)
	}
	if result.Reply != ReplyUserContacted {
		t.Fatalf("unexpected reply %q", result.Reply)
	}
	sms, voices := notifier.Sent()
	if len(sms) != 1 || sms[0].Destination != "+12223334455" || sms[0].Origination != notify.DefaultOriginationNumber || sms[0].AppID != "acme/alerts" {
		t.Fatalf("unexpected sms %+v", sms)
	}
	if len(voices) != 1 || voices[0].SSML != "<speak>"+RaidMessage+"</speak>" {
		t.Fatalf("unexpected voice %+v", voices)
	}
}

func TestRaid_UnregisteredUserReplies(t *testing.T) {
	notifier := notify.NewLogNotifier(nil)
	processor, _ := newProcessor(t, NewMemoryStore(), notifier, nil)

	result, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", event(CommandRaid, "alice#0001", "2")))
	if err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if !result.Failed || result.Reply == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if sms, _ := notifier.Sent(); len(sms) != 0 {
		t.Fatalf("expected no alert, got %+v", sms)
	}
}

func TestDeclaration_DefaultsOriginationNumber(t *testing.T) {
	decl := NewFactory(nil, nil).Declaration()
	if decl.Env[EnvOriginationNumber] != "+18664799447" {
		t.Fatalf("unexpected env %v", decl.Env)
	}
	if len(decl.Commands) != 3 || len(decl.Resources) != 2 {
		t.Fatalf("unexpected declaration %+v", decl)
	}
}
