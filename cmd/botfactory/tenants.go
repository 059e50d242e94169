package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/caarlos0/env/v11"
	botfactory "github.com/goliatone/go-botfactory"
	botcommand "github.com/goliatone/go-botfactory/command"
	"github.com/spf13/cobra"
)

// seedEnv is the bot secret read from the environment when flags are absent.
type seedEnv struct {
	ApplicationID string `env:"BOT_APPLICATION_ID"`
	Token         string `env:"BOT_TOKEN"`
	PublicKey     string `env:"BOT_PUBLIC_KEY"`
}

type composeFlags struct {
	plugin        string
	dnsZone       string
	settings      map[string]string
	applicationID string
	token         string
	publicKey     string
}

func (f composeFlags) seed() (*botfactory.BotSecret, error) {
	var fromEnv seedEnv
	if err := env.Parse(&fromEnv); err != nil {
		return nil, fmt.Errorf("read bot secret from env: %w", err)
	}
	secret := botfactory.BotSecret{
		ApplicationID: firstNonEmpty(f.applicationID, fromEnv.ApplicationID),
		Token:         firstNonEmpty(f.token, fromEnv.Token),
		PublicKey:     firstNonEmpty(f.publicKey, fromEnv.PublicKey),
	}
	if secret.ApplicationID == "" && secret.Token == "" && secret.PublicKey == "" {
		return nil, nil
	}
	return &secret, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func newComposeCmd(flags *rootFlags) *cobra.Command {
	opts := composeFlags{}
	cmd := &cobra.Command{
		Use:   "compose <tenant>",
		Short: "Compose the resource graph of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := opts.seed()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()

			graph, err := rt.factory.Compose(cmd.Context(), botfactory.TenantDescriptor{
				Name:     args[0],
				Plugin:   firstNonEmpty(opts.plugin, args[0]),
				DNSZone:  opts.dnsZone,
				Settings: opts.settings,
			}, seed)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"tenant":    graph.Descriptor.Name,
				"naming":    graph.Naming,
				"resources": graph.Resources,
			})
		},
	}
	cmd.Flags().StringVar(&opts.plugin, "plugin", "", "processing plugin, defaults to the tenant name")
	cmd.Flags().StringVar(&opts.dnsZone, "dns-zone", "", "hosted zone, defaults to dns.default_zone")
	cmd.Flags().StringToStringVar(&opts.settings, "set", nil, "plugin setting as key=value")
	cmd.Flags().StringVar(&opts.applicationID, "application-id", "", "bot application id (BOT_APPLICATION_ID)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bot token (BOT_TOKEN)")
	cmd.Flags().StringVar(&opts.publicKey, "public-key", "", "hex ed25519 public key (BOT_PUBLIC_KEY)")
	return cmd
}

func newTeardownCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "teardown <tenant>",
		Short: "Remove every resource owned by a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.factory.Teardown(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tore down %s\n", args[0])
			return nil
		},
	}
}

func newPublishCommandsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-commands <tenant>",
		Short: "Register the tenant's slash commands now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.factory.Composer().Restore(cmd.Context()); err != nil {
				return err
			}
			if err := rt.factory.PublishCommands(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published commands for %s\n", args[0])
			return nil
		},
	}
}

// newSetSecretCmd stores a bot secret for a tenant composed without one, or
// rotates an existing secret.
func newSetSecretCmd(flags *rootFlags) *cobra.Command {
	opts := composeFlags{}
	cmd := &cobra.Command{
		Use:   "set-secret <tenant>",
		Short: "Store the bot secret of a composed tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := opts.seed()
			if err != nil {
				return err
			}
			if seed == nil {
				return fmt.Errorf("set-secret: --application-id, --token and --public-key (or BOT_* env) are required")
			}
			rt, err := openRuntime(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.factory.Commands().PutSecret.Execute(cmd.Context(), botcommand.PutSecretMessage{
				Tenant: args[0],
				Secret: *seed,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored secret for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.applicationID, "application-id", "", "bot application id (BOT_APPLICATION_ID)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bot token (BOT_TOKEN)")
	cmd.Flags().StringVar(&opts.publicKey, "public-key", "", "hex ed25519 public key (BOT_PUBLIC_KEY)")
	return cmd
}

func newDeriveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "derive <tenant>",
		Short: "Print the resource identifiers derived from a tenant name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := botfactory.Derive(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), record)
		},
	}
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
