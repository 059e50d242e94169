package botfactory

import (
	"github.com/goliatone/go-botfactory/core"
	"github.com/goliatone/go-botfactory/naming"
)

type Config = core.Config

type TenantDescriptor = core.TenantDescriptor

type BotSecret = core.BotSecret

type NamingRecord = core.NamingRecord

type ConfigProvider = core.ConfigProvider
type OptionsResolver = core.OptionsResolver
type Logger = core.Logger
type LoggerProvider = core.LoggerProvider

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Derive returns the resource identifiers of a tenant name.
func Derive(name string) (NamingRecord, error) {
	return naming.Derive(name)
}
