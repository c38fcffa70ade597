package main

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolscope/internal/chain"
	"poolscope/internal/config"
	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
	"poolscope/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare ledger reserves with the pool contract's token balances",
		Args:  cobra.NoArgs,
		RunE:  runReconcile,
	}
	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().String("pool-address", "", "pool contract address")
	cmd.Flags().String("token0", "", "token contract backing asset A")
	cmd.Flags().String("token1", "", "token contract backing asset B")
	cmd.Flags().String("tolerance", "0", "allowed drift per asset in tokens")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReconcile(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	addrs, err := model.ParseAddresses([]string{cfg.PoolAddress, cfg.Token0, cfg.Token1})
	if err != nil {
		return err
	}
	if len(addrs) != 3 {
		return fmt.Errorf("pool-address, token0 and token1 are required")
	}
	tolerance, err := fixedpoint.Parse(cfg.Tolerance)
	if err != nil {
		return fmt.Errorf("tolerance: %w", err)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg.Config, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	reader := chain.NewPoolReader(chainClient, chain.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.RetryBackoff,
	}, a.logger)

	a.logger.Info("reconcile start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("pool", addrs[0].Hex()),
		zap.String("token0", addrs[1].Hex()),
		zap.String("token1", addrs[2].Hex()),
	)

	balances, err := reader.Read(ctx, addrs[0], [2]common.Address{addrs[1], addrs[2]})
	if err != nil {
		return fmt.Errorf("read pool balances: %w", err)
	}
	info := a.svc.PoolInfo()
	report, err := reconcile.Compare(info.ReserveA, info.ReserveB, balances, tolerance)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "chain %d pool %s at block %d (%s)\n", report.ChainID, report.Pool, report.Block, report.BlockTime.Format("2006-01-02 15:04:05"))
	for _, asset := range report.Assets {
		fmt.Fprintf(out, "%s %-8s ledger=%s chain=%s drift=%s %s\n",
			asset.Asset,
			asset.Token.Symbol,
			fixedpoint.Format(asset.Ledger),
			reconcile.FormatSigned(asset.OnChain),
			reconcile.FormatSigned(asset.Drift),
			asset.Status,
		)
	}
	if !report.OK() {
		return fmt.Errorf("ledger reserves drift from chain balances")
	}
	return nil
}
