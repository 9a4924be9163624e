package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/ticket"
)

// ticketsFile is the JSON collection file inside the data directory.
const ticketsFile = "support-tickets.json"

func newServeCmd() *cobra.Command {
	var configPath string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the support API server",
		Long:  "Serves the visitor and admin support endpoints and owns the ticket store file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override the configured listen port")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.Server.DataDir, ticketsFile))
	if err != nil {
		return err
	}
	defer st.Close()

	manager, err := ticket.NewManager(st)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return api.Start(ctx, api.Options{
		Manager:             manager,
		Port:                cfg.Server.Port,
		AdminToken:          cfg.Server.AdminToken,
		AllowAnonymousAdmin: cfg.Server.AllowAnonymousAdmin,
		MaxBodyBytes:        cfg.Server.MaxBodyBytes,
		Out:                 cmd.OutOrStdout(),
	})
}

// loadConfig reads the config file. When the default file is absent the
// built-in defaults apply, so `parley serve` works out of the box.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && path == "parley.yaml" {
		return config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
