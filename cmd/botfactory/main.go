// Command botfactory runs and administers a bot factory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "botfactory.yaml"

type rootFlags struct {
	configPath     string
	configRequired bool
	envFile        string
	env            string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "botfactory",
		Short:         "Compose and serve per-tenant chat bots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			flags.configRequired = cmd.Flags().Changed("config")
			if flags.envFile == "" {
				return nil
			}
			if err := godotenv.Load(flags.envFile); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", flags.envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	root.PersistentFlags().StringVar(&flags.env, "env", envOr("BOTFACTORY_ENV", "development"), "runtime environment (development or production)")

	root.AddCommand(
		newServeCmd(flags),
		newComposeCmd(flags),
		newTeardownCmd(flags),
		newPublishCommandsCmd(flags),
		newSetSecretCmd(flags),
		newDeriveCmd(),
	)
	return root
}

func envOr(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
