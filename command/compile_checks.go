package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ComposeMessage]         = (*ComposeCommand)(nil)
	_ gocmd.Commander[TeardownMessage]        = (*TeardownCommand)(nil)
	_ gocmd.Commander[PublishCommandsMessage] = (*PublishCommandsCommand)(nil)
	_ gocmd.Commander[PutSecretMessage]       = (*PutSecretCommand)(nil)
)
