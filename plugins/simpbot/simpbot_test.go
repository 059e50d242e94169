package simpbot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/discord"
	"github.com/goliatone/go-botfactory/plugins/pluginstest"
)

type failingStore struct {
	*MemoryStore
}

func (failingStore) AddTransaction(context.Context, Transaction) (bool, error) {
	return false, errors.New("table unavailable")
}

func pointsEvent(command string, userID string, points int) core.CommandEvent {
	return core.CommandEvent{
		Command: command,
		Options: []core.CommandEventOption{
			{Name: "user", Type: 6, Value: userID},
			{Name: "points", Type: 4, Value: points},
		},
		CommandIssuer:   "alice#0001",
		CommandIssuerID: "1",
		ChannelID:       "chan-1",
	}
}

func newProcessor(t *testing.T, store PointsStore) (core.Processor, *pluginstest.Messenger) {
	t.Helper()
	messenger := pluginstest.NewMessenger(
		discord.User{ID: "1", Username: "alice", Discriminator: "0001"},
		discord.User{ID: "2", Username: "bob", Discriminator: "0002"},
	)
	processor, err := NewFactory(store).New(context.Background(), pluginstest.Deps("acme", messenger))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return processor, messenger
}

func TestAddAndRemovePoints_UpdateBalance(t *testing.T) {
	store := NewMemoryStore()
	processor, messenger := newProcessor(t, store)
	ctx := context.Background()

	result, err := processor.Consume(ctx, pluginstest.Message("acme", "m1", pointsEvent(CommandAddPoints, "2", 10)))
	if err != nil {
		t.Fatalf("add points: %v", err)
	}
	if result.Reply != ReplyTransactionCompleted {
		t.Fatalf("unexpected reply %q", result.Reply)
	}
	if _, err := processor.Consume(ctx, pluginstest.Message("acme", "m2", pointsEvent(CommandRemovePoints, "2", 3))); err != nil {
		t.Fatalf("remove points: %v", err)
	}

	balances, err := store.Balances(ctx, "acme")
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if len(balances) != 1 || balances[0].DiscordUser != "bob#0002" || balances[0].TotalPoints != 7 {
		t.Fatalf("unexpected balances %+v", balances)
	}
	if len(messenger.Sent()) != 2 {
		t.Fatalf("expected two replies, got %d", len(messenger.Sent()))
	}
}

func TestAddPoints_RedeliveryCountsOnce(t *testing.T) {
	store := NewMemoryStore()
	processor, _ := newProcessor(t, store)
	msg := pluginstest.Message("acme", "m1", pointsEvent(CommandAddPoints, "2", 10))

	for i := 0; i < 2; i++ {
		msg.Attempt = i + 1
		if _, err := processor.Consume(context.Background(), msg); err != nil {
			t.Fatalf("consume attempt %d: %v", i+1, err)
		}
	}
	balances, _ := store.Balances(context.Background(), "acme")
	if len(balances) != 1 || balances[0].TotalPoints != 10 {
		t.Fatalf("expected a single transaction, got %+v", balances)
	}
}

func TestAddPoints_RejectsSelfTransaction(t *testing.T) {
	store := NewMemoryStore()
	processor, messenger := newProcessor(t, store)

	result, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", pointsEvent(CommandAddPoints, "1", 10)))
	if err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if !result.Failed || result.Reply != ReplySelfTransaction {
		t.Fatalf("unexpected result %+v", result)
	}
	if sent := messenger.Sent(); len(sent) != 1 || sent[0].Content != ReplySelfTransaction {
		t.Fatalf("unexpected sent %+v", sent)
	}
	balances, _ := store.Balances(context.Background(), "acme")
	if len(balances) != 0 {
		t.Fatalf("expected no transaction, got %+v", balances)
	}
}

func TestAddPoints_StorageFailureNacks(t *testing.T) {
	processor, messenger := newProcessor(t, failingStore{NewMemoryStore()})
	if _, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", pointsEvent(CommandAddPoints, "2", 1))); err == nil {
		t.Fatalf("expected storage failure to be returned")
	}
	if len(messenger.Sent()) != 0 {
		t.Fatalf("expected no reply")
	}
}

func TestPointBalance_RendersCodeBlock(t *testing.T) {
	store := NewMemoryStore()
	_, _ = store.AddTransaction(context.Background(), Transaction{TransactionID: "t1", Tenant: "acme", DiscordUser: "bob#0002", Points: 4})
	_, _ = store.AddTransaction(context.Background(), Transaction{TransactionID: "t2", Tenant: "other", DiscordUser: "eve#0003", Points: 9})
	processor, _ := newProcessor(t, store)

	result, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", core.CommandEvent{Command: CommandPointBalance, ChannelID: "chan-1"}))
	if err != nil {
		t.Fatalf("point balance: %v", err)
	}
	want := "```\n[\n    {\n        \"discord_user\": \"bob#0002\",\n        \"total_points\": 4\n    }\n]\n```"
	if result.Reply != want {
		t.Fatalf("unexpected reply:\n%s", result.Reply)
	}
}

func TestTaylor_RepliesWithQuote(t *testing.T) {
	processor, _ := newProcessor(t, NewMemoryStore())
	result, err := processor.Consume(context.Background(), pluginstest.Message("acme", "m1", core.CommandEvent{Command: CommandTaylor, ChannelID: "chan-1"}))
	if err != nil {
		t.Fatalf("taylor: %v", err)
	}
	found := false
	for _, quote := range quotes {
		if result.Reply == quote {
			found = true
		}
	}
	if !found {
		t.Fatalf("unexpected quote %q", result.Reply)
	}
}

func TestDeclaration_CommandsAndResources(t *testing.T) {
	decl := NewFactory(nil).Declaration()
	if len(decl.Resources) != 1 || decl.Resources[0].EnvKey != "POINTS_TABLE_NAME" {
		t.Fatalf("unexpected resources %+v", decl.Resources)
	}
	names := make([]string, 0, len(decl.Commands))
	for _, cmd := range decl.Commands {
		names = append(names, cmd.Name)
	}
	if strings.Join(names, ",") != "taylor,point_balance,add_points,remove_points" {
		t.Fatalf("unexpected commands %v", names)
	}
}

func TestDeprovision_RemovesTenantRows(t *testing.T) {
	store := NewMemoryStore()
	_, _ = store.AddTransaction(context.Background(), Transaction{TransactionID: "t1", Tenant: "acme", DiscordUser: "bob", Points: 4})
	factory := NewFactory(store)
	if err := factory.Deprovision(context.Background(), "acme", PointsTable); err != nil {
		t.Fatalf("deprovision: %v", err)
	}
	balances, _ := store.Balances(context.Background(), "acme")
	if len(balances) != 0 {
		t.Fatalf("expected tenant rows removed, got %+v", balances)
	}
}
