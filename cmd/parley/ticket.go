package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/relay"
)

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Inspect and manage support tickets from the terminal",
		Long:  "Admin operations against a running support API: list the queue, approve or deny requests, and reply to visitors.",
	}

	cmd.PersistentFlags().StringP("config", "c", "parley.yaml", "path to Parley config file")
	cmd.PersistentFlags().String("token", "", "admin token (defaults to config/env, prompts if missing)")

	cmd.AddCommand(newTicketListCmd())
	cmd.AddCommand(newTicketShowCmd())
	cmd.AddCommand(newTicketDecideCmd("approve", models.StatusApproved))
	cmd.AddCommand(newTicketDecideCmd("deny", models.StatusDenied))
	cmd.AddCommand(newTicketMessageCmd())
	return cmd
}

func newTicketListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List support tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ticketClient(cmd)
			if err != nil {
				return err
			}
			items, err := client.ListTickets(cmd.Context(), models.Status(status))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No tickets.")
				return nil
			}
			for _, it := range items {
				line := fmt.Sprintf("#%-5d %-10s %-20s %s",
					it.ID, strings.ToLower(string(it.Status)), it.VisitorName,
					it.UpdatedAt.Format("2006-01-02 15:04"))
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, approved, denied)")
	return cmd
}

func newTicketShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one ticket with its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ticketClient(cmd)
			if err != nil {
				return err
			}
			t, msgs, err := client.GetTicket(cmd.Context(), id, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "#%d %s — %s (created %s)\n",
				t.ID, t.VisitorName, strings.ToLower(string(t.Status)),
				t.CreatedAt.Format("2006-01-02 15:04"))
			for _, m := range msgs {
				fmt.Fprintf(out, "  [%s] %s\n", m.From, m.Text)
			}
			return nil
		},
	}
}

func newTicketDecideCmd(verb string, decision models.Status) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a pending support request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ticketClient(cmd)
			if err != nil {
				return err
			}
			t, err := client.Decide(cmd.Context(), id, decision, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d is now %s.\n", t.ID, strings.ToLower(string(t.Status)))
			return nil
		},
	}
}

func newTicketMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <id> <text>...",
		Short: "Send an operator reply to a visitor",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ticketClient(cmd)
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			m, err := client.PostMessage(cmd.Context(), id, text, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %d to #%d.\n", m.ID, id)
			return nil
		},
	}
}

// ticketClient builds an API client from the config plus a resolved token.
func ticketClient(cmd *cobra.Command) (*relay.Client, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Relay.AdminToken
	}
	if token == "" {
		token, err = promptToken(cmd)
		if err != nil {
			return nil, err
		}
	}

	return relay.NewClient(relay.ClientOpts{
		BaseURL: apiBase(cfg),
		Token:   token,
	})
}

func apiBase(cfg *config.Config) string {
	if cfg.Relay.APIBase != "" {
		return cfg.Relay.APIBase
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
}

// promptToken reads the admin token without echo when stdin is a terminal.
func promptToken(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("ticket: no admin token (set --token or PARLEY_ADMIN_TOKEN)")
	}
	fmt.Fprint(cmd.OutOrStdout(), "Admin token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("ticket: read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("ticket: empty admin token")
	}
	return token, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("ticket: invalid id %q", arg)
	}
	return id, nil
}
