// Package simpbot is the points-ledger processing plugin.
package simpbot

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/naming"
	"github.com/goliatone/go-botfactory/plugins"
	"github.com/google/uuid"
)

const Name = "simpbot"

const (
	CommandAddPoints    = "add_points"
	CommandRemovePoints = "remove_points"
	CommandPointBalance = "point_balance"
	CommandTaylor       = "taylor"
)

const (
	ReplyTransactionCompleted = "Transaction completed :eggplant:"
	ReplySelfTransaction      = "You can't do transactions for yourself."
)

// PointsTable is the logical name of the tenant points table.
var PointsTable = core.ResourceSpec{
	Kind:    core.ResourceTable,
	Logical: "points",
	EnvKey:  "POINTS_TABLE_NAME",
	Actions: []string{naming.ActionTableRead, naming.ActionTableWrite},
}

var transactionNamespace = uuid.MustParse("6f1c3a52-6d0e-4f0b-9a55-2c8b7f4e9d10")

var quotes = []string{
	"I knew you were trouble when you walked in.",
	"Shake it off, shake it off.",
	"We are never ever getting back together.",
	"I remember it all too well.",
	"Long live all the magic we made.",
	"It's me, hi, I'm the problem, it's me.",
	"Darling, I'm a nightmare dressed like a daydream.",
}

var commands = []core.CommandDefinition{
	{Name: CommandTaylor, Type: 1, Description: "Sends a random Taylor Swift song quote."},
	{Name: CommandPointBalance, Type: 1, Description: "Sends the points balance of all users."},
	{
		Name:        CommandAddPoints,
		Type:        1,
		Description: "Add points to a user.",
		Options: []core.CommandOption{
			{Name: "user", Type: 6, Required: true, Description: "User to add points to."},
			{Name: "points", Type: 4, Required: true, Description: "Amount of points to add."},
		},
	},
	{
		Name:        CommandRemovePoints,
		Type:        1,
		Description: "Remove points from a user.",
		Options: []core.CommandOption{
			{Name: "user", Type: 6, Required: true, Description: "User to remove points from."},
			{Name: "points", Type: 4, Required: true, Description: "Amount of points to remove."},
		},
	},
}

type Factory struct {
	store PointsStore
}

func NewFactory(store PointsStore) *Factory {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Factory{store: store}
}

func (f *Factory) Declaration() plugins.Declaration {
	return plugins.Declaration{
		Name:      Name,
		Resources: []core.ResourceSpec{PointsTable},
		Commands:  append([]core.CommandDefinition(nil), commands...),
	}
}

func (f *Factory) New(_ context.Context, deps plugins.Deps) (core.Processor, error) {
	p := &processor{store: f.store}
	return plugins.NewDispatcher(deps, map[string]plugins.Handler{
		CommandAddPoints:    p.addPoints(1),
		CommandRemovePoints: p.addPoints(-1),
		CommandPointBalance: p.pointBalance,
		CommandTaylor:       p.taylor,
	})
}

// Provision is a no-op: the points table is shared and scoped by tenant.
func (f *Factory) Provision(context.Context, string, core.ResourceSpec) error {
	return nil
}

func (f *Factory) Deprovision(ctx context.Context, tenant string, _ core.ResourceSpec) error {
	return f.store.DeleteTenant(ctx, tenant)
}

type processor struct {
	store PointsStore
}

func (p *processor) addPoints(sign int64) plugins.Handler {
	return func(ctx context.Context, session plugins.Session, cmd plugins.Command) (string, error) {
		userID, err := cmd.StringOption("user")
		if err != nil {
			return "", err
		}
		points, err := cmd.IntOption("points")
		if err != nil {
			return "", err
		}
		user, err := session.Messenger.GetUser(ctx, userID)
		if err != nil {
			return "", err
		}
		recipient := user.Tag()
		if recipient == cmd.CommandIssuer {
			return "", errors.New(ReplySelfTransaction)
		}
		_, err = p.store.AddTransaction(ctx, Transaction{
			TransactionID: TransactionID(session.Message),
			Tenant:        session.Tenant,
			DiscordUser:   recipient,
			Points:        sign * points,
			CreatedAt:     session.Now,
			Issuer:        cmd.CommandIssuer,
		})
		if err != nil {
			return "", plugins.Infrastructure(err)
		}
		return ReplyTransactionCompleted, nil
	}
}

func (p *processor) pointBalance(ctx context.Context, session plugins.Session, _ plugins.Command) (string, error) {
	balances, err := p.store.Balances(ctx, session.Tenant)
	if err != nil {
		return "", plugins.Infrastructure(err)
	}
	body, err := json.MarshalIndent(balances, "", "    ")
	if err != nil {
		return "", err
	}
	return "```\n" + string(body) + "\n```", nil
}

func (p *processor) taylor(_ context.Context, session plugins.Session, _ plugins.Command) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(session.Message.ID))
	return quotes[int(h.Sum32()%uint32(len(quotes)))], nil
}

// TransactionID is stable for every delivery of the same interaction, so a
// redelivered or re-enqueued command never counts twice.
func TransactionID(msg core.RelayMessage) string {
	key := msg.IdempotencyKey
	if key == "" {
		key = msg.ID
	}
	return uuid.NewSHA1(transactionNamespace, []byte(msg.Tenant+"/"+key)).String()
}

var (
	_ plugins.Factory     = (*Factory)(nil)
	_ plugins.Provisioner = (*Factory)(nil)
)
