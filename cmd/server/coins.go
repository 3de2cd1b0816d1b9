package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"coingate/internal/config"
	"coingate/internal/domain/entity"
	"coingate/internal/usecase"

	"github.com/spf13/cobra"
)

var coinsCmd = &cobra.Command{
	Use:   "coins",
	Short: "Inspect and adjust coin balances",
	Long: `Operate directly on the configured ledger store (LEDGER_BACKEND).

Examples:
  server coins balance user-42
  server coins credit user-42 10 --description "support refund"
  server coins history user-42 --limit 5
  server coins reconcile user-42`,
}

var coinsBalanceCmd = &cobra.Command{
	Use:   "balance <userId>",
	Short: "Show the current balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ctx context.Context, l *usecase.Ledger) error {
			balance, err := l.GetBalance(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"userId": args[0], "balance": balance})
		})
	},
}

var coinsCreditCmd = &cobra.Command{
	Use:   "credit <userId> <amount>",
	Short: "Add coins to an account, creating it if needed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return adjust(cmd, args, false)
	},
}

var coinsDebitCmd = &cobra.Command{
	Use:   "debit <userId> <amount>",
	Short: "Remove coins from an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return adjust(cmd, args, true)
	},
}

var coinsHistoryCmd = &cobra.Command{
	Use:   "history <userId>",
	Short: "List recent transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withLedger(cmd, func(ctx context.Context, l *usecase.Ledger) error {
			txns, err := l.History(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), txns)
		})
	},
}

var coinsUsageCmd = &cobra.Command{
	Use:   "usage <userId>",
	Short: "List recent feature usage, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withLedger(cmd, func(ctx context.Context, l *usecase.Ledger) error {
			recs, err := l.Usage(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []entity.UsageRecord{}
			}
			return printJSON(cmd.OutOrStdout(), recs)
		})
	},
}

var coinsStatsCmd = &cobra.Command{
	Use:   "stats <userId>",
	Short: "Summarise earnings, spending and feature usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ctx context.Context, l *usecase.Ledger) error {
			stats, err := l.Statistics(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var coinsReconcileCmd = &cobra.Command{
	Use:   "reconcile <userId>",
	Short: "Compare the stored balance with the transaction log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ctx context.Context, l *usecase.Ledger) error {
			rec, err := l.Reconcile(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), rec); err != nil {
				return err
			}
			if rec.Drift != 0 {
				return fmt.Errorf("balance drift of %d coins", rec.Drift)
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{coinsCreditCmd, coinsDebitCmd} {
		c.Flags().String("feature", "admin", "feature recorded on the transaction")
		c.Flags().String("description", "manual adjustment", "description recorded on the transaction")
	}
	coinsHistoryCmd.Flags().Int("limit", 20, "maximum number of transactions (0 for all)")
	coinsUsageCmd.Flags().Int("limit", 20, "maximum number of usage records (0 for all)")

	coinsCmd.AddCommand(coinsBalanceCmd)
	coinsCmd.AddCommand(coinsCreditCmd)
	coinsCmd.AddCommand(coinsDebitCmd)
	coinsCmd.AddCommand(coinsHistoryCmd)
	coinsCmd.AddCommand(coinsUsageCmd)
	coinsCmd.AddCommand(coinsStatsCmd)
	coinsCmd.AddCommand(coinsReconcileCmd)
}

func adjust(cmd *cobra.Command, args []string, debit bool) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	feature, _ := cmd.Flags().GetString("feature")
	description, _ := cmd.Flags().GetString("description")

	return withLedger(cmd, func(ctx context.Context, l *usecase.Ledger) error {
		op := l.Credit
		if debit {
			op = l.Debit
		}
		res, err := op(ctx, args[0], amount, feature, description)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

func withLedger(cmd *cobra.Command, fn func(context.Context, *usecase.Ledger) error) error {
	cfg := config.Load()
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

	ledgerStore, _, err := openLedgerStore(cfg)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	ledger := usecase.NewLedger(ledgerStore, logger.With("component", "cli"), usecase.LedgerOptions{
		SignupBonus:       cfg.Coins.SignupBonus,
		IdempotencyWindow: cfg.Coins.IdempotencyWindow,
	})
	return fn(cmd.Context(), ledger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

