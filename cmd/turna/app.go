package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/turna/console/internal/client"
	"github.com/turna/console/internal/config"
	"github.com/turna/console/internal/history"
	"github.com/turna/console/internal/logging"
	"github.com/turna/console/internal/output"
)

// app is what every command needs once flags are parsed.
type app struct {
	cfg    *config.AppConfig
	logger zerolog.Logger
	client *client.Client
	out    *output.Printer
}

func newApp(cmd *cobra.Command) (*app, error) {
	return loadApp(cmd, true)
}

// newOfflineApp is newApp for commands that only touch local state; the
// backend URL is not required and no client is built.
func newOfflineApp(cmd *cobra.Command) (*app, error) {
	return loadApp(cmd, false)
}

func loadApp(cmd *cobra.Command, online bool) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if online {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	format, _ := cmd.Flags().GetString("output")
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logging.New(cfg.Log.Level, cfg.Log.Pretty || cfg.IsDev(), os.Stderr),
		out:    output.NewPrinter(f, cmd.OutOrStdout()),
	}
	if !online {
		return a, nil
	}

	a.client, err = client.New(cfg.Backend.URL,
		client.WithToken(cfg.Backend.Token),
		client.WithTimeout(cfg.Backend.Timeout),
		client.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openHistory opens the history store. A failure is logged and the command
// goes on without history.
func (a *app) openHistory() *history.Store {
	if err := a.cfg.EnsureDirectories(); err != nil {
		a.logger.Warn().Err(err).Msg("history disabled")
		return nil
	}
	store, err := history.Open(a.cfg.Storage.HistoryPath)
	if err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.Storage.HistoryPath).Msg("history disabled")
		return nil
	}
	return store
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func exactArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%s requires %s", cmd.CommandPath(), what)
		}
		return nil
	}
}
