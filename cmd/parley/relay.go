package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/relay"
	discordadapter "github.com/parleyhq/parley/internal/relay/discord"
	slackadapter "github.com/parleyhq/parley/internal/relay/slack"
	"github.com/parleyhq/parley/internal/relaydb"
)

func newRelayCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Start the operator relay daemon",
		Long:  "Connects to the configured chat platform, listens for operator commands, and forwards visitor messages.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func runRelay(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Relay.Platform == "" {
		return fmt.Errorf("relay: no platform configured in %s (add relay.platform)", configPath)
	}

	db, err := relaydb.Open(cfg.Relay.StateDB)
	if err != nil {
		return err
	}

	sessions, err := relay.NewSessionStore(db)
	if err != nil {
		return err
	}

	client, err := relay.NewClient(relay.ClientOpts{
		BaseURL: cfg.Relay.APIBase,
		Token:   cfg.Relay.AdminToken,
	})
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	daemon, err := relay.NewDaemon(relay.DaemonOpts{
		Config:   cfg,
		API:      client,
		Sessions: sessions,
		Adapter:  adapter,
		Out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (relay.Adapter, error) {
	switch cfg.Relay.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Relay.Discord.BotToken,
			ChannelID: cfg.Relay.Channel,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Relay.Slack.AppToken,
			BotToken:  cfg.Relay.Slack.BotToken,
			ChannelID: cfg.Relay.Channel,
		})
	default:
		return nil, fmt.Errorf("relay: unsupported platform %q", cfg.Relay.Platform)
	}
}
