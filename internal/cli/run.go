package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/scalper/broker/sim"
	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/engine"
	"github.com/rustyeddy/scalper/feed"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/market"
)

func newRunCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a trading session from a config file",
		Long: `Run a trading session using settings from a configuration file.

The config selects the market data feed, the strategies and their
parameters, risk limits and the journal backend. Broker credentials, when
needed, come from the environment (a .env file is honored).

Example:
  scalper run --config examples/scalper.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(rc)
		},
	}
	return cmd
}

func runSession(rc *rootConfig) error {
	// Credentials and endpoint overrides may live in a .env next to the
	// binary; absence is fine.
	_ = godotenv.Load()

	if rc.ConfigPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFromFile(rc.ConfigPath)
	if err != nil {
		return err
	}

	log, err := newLogger(rc.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	var j journal.Journal = journal.Noop{}
	if cfg.Journal.Type == "sqlite" {
		sj, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer sj.Close()
		j = sj
	}

	f := feed.New(cfg.Feed)

	// The sim gateway fills against the latest scripted tick. A live
	// gateway adapter would be selected here instead.
	ticks := market.NewTickStore()
	gw := sim.NewEngine(ticks)

	orch, err := engine.New(cfg, feed.NewTee(f, ticks), gw, j, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting session",
		zap.String("config", rc.ConfigPath),
		zap.String("account", cfg.Account.ID),
		zap.Float64("equity", cfg.Account.Equity))

	return orch.Run(ctx)
}
