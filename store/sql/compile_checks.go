package sqlstore

import (
	"github.com/goliatone/go-botfactory/commands"
	"github.com/goliatone/go-botfactory/composer"
	"github.com/goliatone/go-botfactory/credentials"
	"github.com/goliatone/go-botfactory/deadletter"
	"github.com/goliatone/go-botfactory/plugins/simpbot"
	"github.com/goliatone/go-botfactory/plugins/watchdog2"
	"github.com/goliatone/go-botfactory/relay"
	"github.com/goliatone/go-botfactory/security"
)

var (
	_ composer.Ledger        = (*TenantStore)(nil)
	_ credentials.Store      = (*CredentialStore)(nil)
	_ security.KeyStore      = (*KeyStore)(nil)
	_ relay.Store            = (*RelayStore)(nil)
	_ deadletter.Store       = (*DeadLetterStore)(nil)
	_ commands.RunStore      = (*RunStore)(nil)
	_ simpbot.PointsStore    = (*PointsStore)(nil)
	_ watchdog2.ContactStore = (*ContactStore)(nil)
)
