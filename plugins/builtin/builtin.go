// Package builtin registers the processing plugins shipped with the factory.
package builtin

import (
	"github.com/goliatone/go-botfactory/notify"
	"github.com/goliatone/go-botfactory/plugins"
	"github.com/goliatone/go-botfactory/plugins/simpbot"
	"github.com/goliatone/go-botfactory/plugins/watchdog2"
)

type Stores struct {
	Points   simpbot.PointsStore
	Contacts watchdog2.ContactStore
	Notifier notify.Notifier
}

// Registry returns a registry holding SimpBot and Watchdog2. Nil stores fall
// back to in-memory implementations.
func Registry(stores Stores) (*plugins.Registry, error) {
	registry := plugins.NewRegistry()
	factories := []plugins.Factory{
		simpbot.NewFactory(stores.Points),
		watchdog2.NewFactory(stores.Contacts, stores.Notifier),
	}
	for _, factory := range factories {
		if err := registry.Register(factory); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
