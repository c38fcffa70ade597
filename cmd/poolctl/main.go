package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"poolscope/internal/config"
	"poolscope/internal/pool"
	"poolscope/internal/service"
	"poolscope/internal/storage"
	"poolscope/internal/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "poolctl",
		Short:        "Two-asset liquidity pool ledger",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("state-file", "./data/pool_state.json", "ledger state file (ignored when pg-dsn is set)")
	flags.String("pg-dsn", "", "Postgres DSN for ledger state")
	flags.String("pool-name", "main", "pool name used as the Postgres row key")
	flags.Uint32("fee-bps", 0, "swap fee on input in basis points")
	flags.String("tiers", "14=0.05,31=0.12,90=0.40,180=0.85,365=1.80", "reward tiers as days=rate pairs")
	flags.String("journal", "", "optional JSONL journal of committed operations")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInfoCmd(),
		newQuoteCmd(),
		newCounterpartCmd(),
		newSwapCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newBalanceCmd(),
		newRateCmd(),
		newRewardsCmd(),
		newLockCmd(),
		newFundCmd(),
		newHistoryCmd(),
		newReconcileCmd(),
		newServeCmd(),
	)
	return root
}

// app is an opened ledger with everything that has to be closed afterwards.
type app struct {
	svc    *service.Service
	logger *zap.Logger
	close  []func()
}

func (a *app) Close() {
	for i := len(a.close) - 1; i >= 0; i-- {
		a.close[i]()
	}
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), cfg, nil)
}

func openApp(ctx context.Context, cfg config.Config, registry prometheus.Registerer) (*app, error) {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger}
	a.close = append(a.close, func() { _ = logger.Sync() })

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.PoolName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.close = append(a.close, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		store = pg
	} else {
		if cfg.StateFile == "" {
			a.Close()
			return nil, fmt.Errorf("state file or pg dsn is required")
		}
		store = storage.NewFileStore(cfg.StateFile)
	}

	ledgerCfg := pool.Config{
		FeeBps:   cfg.FeeBps,
		Tiers:    cfg.Tiers,
		Registry: registry,
	}
	if cfg.Journal != "" {
		ledgerCfg.Events = storage.NewJsonlJournal(cfg.Journal)
	}

	svc, err := service.Open(ctx, ledgerCfg, store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
