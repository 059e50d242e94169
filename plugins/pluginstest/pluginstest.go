// Package pluginstest holds fakes shared by plugin tests.
package pluginstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/discord"
	"github.com/goliatone/go-botfactory/plugins"
)

type Resolver struct {
	Secret core.BotSecret
	Err    error
}

func (r Resolver) Resolve(context.Context, core.CredentialHandle, core.Role) (core.BotSecret, error) {
	if r.Err != nil {
		return core.BotSecret{}, r.Err
	}
	return r.Secret, nil
}

type Sent struct {
	ChannelID string
	Content   string
}

// Messenger records replies and serves users from a fixed map.
type Messenger struct {
	mu      sync.Mutex
	Users   map[string]discord.User
	SendErr error
	Tokens  []string
	sent    []Sent
}

func NewMessenger(users ...discord.User) *Messenger {
	m := &Messenger{Users: map[string]discord.User{}}
	for _, user := range users {
		m.Users[user.ID] = user
	}
	return m
}

func (m *Messenger) Factory() plugins.MessengerFactory {
	return func(token string) plugins.Messenger {
		m.mu.Lock()
		m.Tokens = append(m.Tokens, token)
		m.mu.Unlock()
		return m
	}
}

func (m *Messenger) SendMessage(_ context.Context, channelID string, content string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Sent{ChannelID: channelID, Content: content})
	return nil
}

func (m *Messenger) GetUser(_ context.Context, userID string) (discord.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.Users[userID]
	if !ok {
		return discord.User{}, fmt.Errorf("unknown user %s", userID)
	}
	return user, nil
}

func (m *Messenger) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// Deps returns processor deps for tenant with a processor-readable handle.
func Deps(tenant string, messenger *Messenger) plugins.Deps {
	return plugins.Deps{
		Tenant: tenant,
		Credential: core.CredentialHandle{
			Tenant:  tenant,
			Name:    tenant + "-secret",
			Readers: []core.Role{core.RoleGate, core.RoleProcessor},
		},
		Secrets:   Resolver{Secret: core.BotSecret{ApplicationID: "app-1", Token: "token-1"}},
		Env:       map[string]string{},
		Messenger: messenger.Factory(),
		Now:       func() time.Time { return time.Date(2026, 5, 7, 12, 0, 0, 0, time.UTC) },
	}
}

// Message wraps a command event in a relay message.
func Message(tenant string, id string, event core.CommandEvent) core.RelayMessage {
	payload, err := json.Marshal(event)
	if err != nil {
		panic(err)
	}
	return core.RelayMessage{
		ID:             id,
		Tenant:         tenant,
		Payload:        payload,
		Attempt:        1,
		IdempotencyKey: "interaction-" + id,
	}
}
