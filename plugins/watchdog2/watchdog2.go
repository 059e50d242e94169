// Package watchdog2 is the raid-alert processing plugin: users register a
// phone number and can be alerted by SMS and voice call.
package watchdog2

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/naming"
	"github.com/goliatone/go-botfactory/notify"
	"github.com/goliatone/go-botfactory/plugins"
)

const Name = "watchdog2"

const (
	CommandUpdate          = "update2"
	CommandRegisteredUsers = "registered_users2"
	CommandRaid            = "raid2"
)

const (
	EnvOriginationNumber = "ORIGINATION_NUMBER"

	ReplyInfoUpdated   = "Info updated!"
	ReplyUserContacted = "User has been contacted!"
	ReplyInvalidNumber = "[ValueError]: Use this format for your number +12223334455, see this: https://en.wikipedia.org/wiki/E.164"
	ReplyNoUsers       = "No users registered."

	RaidMessage = "You are being raided! Shield up!"
)

var ContactTable = core.ResourceSpec{
	Kind:    core.ResourceTable,
	Logical: "contact_info",
	EnvKey:  "CONTACT_INFO_TABLE_NAME",
	Actions: []string{naming.ActionTableRead, naming.ActionTableWrite},
}

var MessagingApp = core.ResourceSpec{
	Kind:    core.ResourceMessagingApp,
	Logical: "alerts",
	EnvKey:  "PINPOINT_APP_ID",
	Actions: []string{naming.ActionMessagingSend},
}

var commands = []core.CommandDefinition{
	{
		Name:        CommandUpdate,
		Type:        1,
		Description: "Update your contact information.",
		Options: []core.CommandOption{
			{Name: "number", Type: 3, Required: true, Description: "Your phone number in format +12223334444."},
		},
	},
	{Name: CommandRegisteredUsers, Type: 1, Description: "Lists all the users registered in Watchdog."},
	{
		Name:        CommandRaid,
		Type:        1,
		Description: "Send a raid alert.",
		Options: []core.CommandOption{
			{Name: "user", Type: 6, Required: true, Description: "User getting raided."},
		},
	},
}

type Factory struct {
	store    ContactStore
	notifier notify.Notifier
}

func NewFactory(store ContactStore, notifier notify.Notifier) *Factory {
	if store == nil {
		store = NewMemoryStore()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(nil)
	}
	return &Factory{store: store, notifier: notifier}
}

func (f *Factory) Declaration() plugins.Declaration {
	return plugins.Declaration{
		Name:      Name,
		Resources: []core.ResourceSpec{ContactTable, MessagingApp},
		Commands:  append([]core.CommandDefinition(nil), commands...),
		Env:       map[string]string{EnvOriginationNumber: notify.DefaultOriginationNumber},
	}
}

func (f *Factory) New(_ context.Context, deps plugins.Deps) (core.Processor, error) {
	p := &processor{store: f.store, notifier: f.notifier}
	return plugins.NewDispatcher(deps, map[string]plugins.Handler{
		CommandUpdate:          p.update,
		CommandRegisteredUsers: p.registeredUsers,
		CommandRaid:            p.raid,
	})
}

func (f *Factory) Provision(context.Context, string, core.ResourceSpec) error {
	return nil
}

func (f *Factory) Deprovision(ctx context.Context, tenant string, resource core.ResourceSpec) error {
	if resource.Kind != core.ResourceTable {
		return nil
	}
	return f.store.DeleteTenant(ctx, tenant)
}

type processor struct {
	store    ContactStore
	notifier notify.Notifier
}

func (p *processor) update(ctx context.Context, session plugins.Session, cmd plugins.Command) (string, error) {
	number, err := cmd.FirstOption()
	if err != nil || !notify.ValidNumber(number) {
		return "", errors.New(ReplyInvalidNumber)
	}
	err = p.store.Upsert(ctx, Contact{
		Tenant:      session.Tenant,
		DiscordUser: cmd.CommandIssuer,
		PhoneNumber: number,
		UpdatedAt:   session.Now,
	})
	if err != nil {
		return "", plugins.Infrastructure(err)
	}
	return ReplyInfoUpdated, nil
}

func (p *processor) registeredUsers(ctx context.Context, session plugins.Session, _ plugins.Command) (string, error) {
	contacts, err := p.store.List(ctx, session.Tenant)
	if err != nil {
		return "", plugins.Infrastructure(err)
	}
	if len(contacts) == 0 {
		return ReplyNoUsers, nil
	}
	users := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		users = append(users, contact.DiscordUser)
	}
	return strings.Join(users, "\n"), nil
}

func (p *processor) raid(ctx context.Context, session plugins.Session, cmd plugins.Command) (string, error) {
	userID, err := cmd.FirstOption()
	if err != nil {
		return "", err
	}
	user, err := session.Messenger.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	target := user.Tag()
	contact, err := p.store.Get(ctx, session.Tenant, target)
	if errors.Is(err, ErrContactNotFound) {
		return "", fmt.Errorf("%s has no contact info registered", target)
	}
	if err != nil {
		return "", plugins.Infrastructure(err)
	}

	origination := session.Env[EnvOriginationNumber]
	if origination == "" {
		origination = notify.DefaultOriginationNumber
	}
	err = p.notifier.SendSMS(ctx, notify.SMS{
		AppID:       session.Env[MessagingApp.EnvKey],
		Origination: origination,
		Destination: contact.PhoneNumber,
		Body:        RaidMessage,
	})
	if err != nil {
		return "", err
	}
	err = p.notifier.SendVoice(ctx, notify.Voice{
		Origination: origination,
		Destination: contact.PhoneNumber,
		SSML:        "<speak>" + RaidMessage + "</speak>",
	})
	if err != nil {
		return "", err
	}
	return ReplyUserContacted, nil
}

var (
	_ plugins.Factory     = (*Factory)(nil)
	_ plugins.Provisioner = (*Factory)(nil)
)
