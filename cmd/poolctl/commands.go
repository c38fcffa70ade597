package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"poolscope/internal/config"
	"poolscope/internal/fixedpoint"
	"poolscope/internal/model"
	"poolscope/internal/pool"
	"poolscope/internal/storage"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show reserves, supply and reward tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			info := a.svc.PoolInfo()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "initialized:  %t\n", info.Initialized)
			fmt.Fprintf(out, "reserve A:    %s\n", fixedpoint.Format(info.ReserveA))
			fmt.Fprintf(out, "reserve B:    %s\n", fixedpoint.Format(info.ReserveB))
			fmt.Fprintf(out, "total shares: %s\n", fixedpoint.Format(info.TotalShares))
			fmt.Fprintf(out, "k (units):    %s\n", info.K)
			fmt.Fprintf(out, "fee:          %d bps\n", info.FeeBps)
			fmt.Fprintf(out, "holders:      %d\n", info.Holders)
			fmt.Fprintf(out, "tiers:        %s\n", a.svc.Tiers())
			return nil
		},
	}
}

func newQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote <asset-in> <amount>",
		Short: "Price a swap without executing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetIn, err := model.ParseAsset(args[0])
			if err != nil {
				return err
			}
			amountIn, err := fixedpoint.Parse(args[1])
			if err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.svc.GetQuote(assetIn, amountIn, assetIn.Other())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s %s\n", fixedpoint.Format(amountIn), assetIn, fixedpoint.Format(out), assetIn.Other())
			return nil
		},
	}
}

func newCounterpartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counterpart <amount-a>",
		Short: "Show the amount of B a deposit of A requires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amountA, err := fixedpoint.Parse(args[0])
			if err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			amountB, err := a.svc.GetRequiredCounterpart(amountA)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s A requires %s B\n", fixedpoint.Format(amountA), fixedpoint.Format(amountB))
			return nil
		},
	}
}

func newSwapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap <asset-in> <amount>",
		Short: "Sell an amount of one asset for the other",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			trader, err := fromFlag(cmd)
			if err != nil {
				return err
			}
			assetIn, err := model.ParseAsset(args[0])
			if err != nil {
				return err
			}
			amountIn, err := fixedpoint.Parse(args[1])
			if err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.svc.Swap(cmd.Context(), trader, assetIn, amountIn, assetIn.Other())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swapped %s %s for %s %s\n", fixedpoint.Format(amountIn), assetIn, fixedpoint.Format(out), assetIn.Other())
			return nil
		},
	}
	cmd.Flags().String("from", "", "trader address")
	return cmd
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <amount-a> [amount-b]",
		Short: "Deposit liquidity; amount-b is only used to seed an empty pool",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := fromFlag(cmd)
			if err != nil {
				return err
			}
			amountA, err := fixedpoint.Parse(args[0])
			if err != nil {
				return err
			}
			amountB := new(uint256.Int)
			if len(args) == 2 {
				if amountB, err = fixedpoint.Parse(args[1]); err != nil {
					return err
				}
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			dep, err := a.svc.AddLiquidity(cmd.Context(), provider, amountA, amountB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deposited %s A + %s B, minted %s shares\n",
				fixedpoint.Format(dep.AmountA), fixedpoint.Format(dep.AmountB), fixedpoint.Format(dep.Shares))
			return nil
		},
	}
	cmd.Flags().String("from", "", "provider address")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <shares|all>",
		Short: "Burn shares for the pro-rata reserves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := fromFlag(cmd)
			if err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			shares := a.svc.BalanceOf(provider)
			if args[0] != "all" {
				if shares, err = fixedpoint.Parse(args[0]); err != nil {
					return err
				}
			}
			amountA, amountB, err := a.svc.RemoveLiquidity(cmd.Context(), provider, shares)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "burned %s shares for %s A + %s B\n",
				fixedpoint.Format(shares), fixedpoint.Format(amountA), fixedpoint.Format(amountB))
			return nil
		},
	}
	cmd.Flags().String("from", "", "provider address")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Show shares, pool share, wallet and lock of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := model.ParseAddress(args[0])
			if err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			walletA, walletB := a.svc.Wallet(addr)
			fmt.Fprintf(out, "address:  %s\n", addr.Hex())
			fmt.Fprintf(out, "shares:   %s\n", fixedpoint.Format(a.svc.BalanceOf(addr)))
			fmt.Fprintf(out, "share:    %s%%\n", percent(a.svc.UserShare(addr)))
			fmt.Fprintf(out, "wallet A: %s\n", fixedpoint.Format(walletA))
			fmt.Fprintf(out, "wallet B: %s\n", fixedpoint.Format(walletB))
			printLock(out, a.svc.LockStatus(addr))
			return nil
		},
	}
}

func newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <days>",
		Short: "Show the annualized reward rate of a commitment length",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid days %q: %w", args[0], err)
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rate := a.svc.RewardRate(days * pool.SecondsPerDay)
			fmt.Fprintf(cmd.OutOrStdout(), "%d days: %s%% APR\n", days, percent(rate))
			return nil
		},
	}
}

func newRewardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards <address>",
		Short: "Show time-weighted rewards over a trailing window and for the lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := model.ParseAddress(args[0])
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetUint32("days")

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			window, err := a.svc.CalculateRewards(addr, uint64(days)*pool.SecondsPerDay)
			if err != nil {
				return err
			}
			locked, err := a.svc.LockedRewards(addr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "last %d days: %s\n", days, fixedpoint.Format(window))
			fmt.Fprintf(out, "lock:         %s\n", fixedpoint.Format(locked))
			return nil
		},
	}
	cmd.Flags().Uint32("days", 365, "trailing window in days")
	return cmd
}

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Commit the position for a period at the matching tier rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := fromFlag(cmd)
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetUint32("days")

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.svc.Lock(cmd.Context(), addr, uint64(days)*pool.SecondsPerDay)
			if err != nil {
				return err
			}
			printLock(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().String("from", "", "holder address")
	cmd.Flags().Uint32("days", 0, "lock period in days, 0 for the default")
	return cmd
}

func newFundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fund <address> <amount-a> <amount-b>",
		Short: "Credit a wallet with test tokens",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := model.ParseAddress(args[0])
			if err != nil {
				return err
			}
			amountA, err := fixedpoint.Parse(args[1])
			if err != nil {
				return err
			}
			amountB, err := fixedpoint.Parse(args[2])
			if err != nil {
				return err
			}

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Fund(cmd.Context(), addr, amountA, amountB); err != nil {
				return err
			}
			walletA, walletB := a.svc.Wallet(addr)
			fmt.Fprintf(cmd.OutOrStdout(), "%s now holds %s A, %s B\n", addr.Hex(), fixedpoint.Format(walletA), fixedpoint.Format(walletB))
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent journaled operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Journal == "" {
				return fmt.Errorf("journal path is required")
			}
			limit, _ := cmd.Flags().GetInt("limit")

			events, err := storage.NewJsonlJournal(cfg.Journal).ReadEvents(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ev := range events {
				fmt.Fprintln(out, describeEvent(ev))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of events, 0 for all")
	return cmd
}

func fromFlag(cmd *cobra.Command) (common.Address, error) {
	raw, _ := cmd.Flags().GetString("from")
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, fmt.Errorf("--from address is required")
	}
	return model.ParseAddress(raw)
}

// percent renders an 18-decimal fraction as a percentage.
func percent(fraction *uint256.Int) string {
	return fixedpoint.Format(new(uint256.Int).Mul(fraction, uint256.NewInt(100)))
}

func printLock(out io.Writer, status pool.LockStatus) {
	if !status.Exists {
		fmt.Fprintln(out, "lock:     none")
		return
	}
	state := "expired"
	if status.Active {
		state = "active"
	}
	fmt.Fprintf(out, "lock:     %s, %d days at %s%%, %s to %s\n",
		state,
		status.TierSeconds/pool.SecondsPerDay,
		percent(status.Rate),
		status.Start.Format(time.RFC3339),
		status.End.Format(time.RFC3339),
	)
}

func describeEvent(ev model.Event) string {
	at := time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339)
	switch ev.Kind {
	case model.EventSwap:
		return fmt.Sprintf("%s %-16s %s %s %s -> %s %s", at, ev.Kind, ev.Address, units(ev.AmountIn), ev.AssetIn, units(ev.AmountOut), ev.AssetOut)
	case model.EventAddLiquidity, model.EventRemoveLiquidity:
		return fmt.Sprintf("%s %-16s %s %s A %s B %s shares", at, ev.Kind, ev.Address, units(ev.AmountA), units(ev.AmountB), units(ev.Shares))
	default:
		return fmt.Sprintf("%s %-16s %s %s shares", at, ev.Kind, ev.Address, units(ev.Shares))
	}
}

func units(raw string) string {
	v, err := fixedpoint.ParseUnits(raw)
	if err != nil {
		return raw
	}
	return fixedpoint.Format(v)
}
