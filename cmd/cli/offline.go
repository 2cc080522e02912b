package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/splitledger/internal/adapter/journal"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/auth"
)

func tokenCmd() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token ADDRESS",
		Short: "Mint a bearer token that authenticates ADDRESS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			addr, err := domain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			token, err := auth.NewJWTManager(secret, ttl).Generate(addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret shared with the server")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}

func unitsCmd() *cobra.Command {
	var decimals int32

	cmd := &cobra.Command{
		Use:   "units",
		Short: "Convert between display amounts and base units",
	}
	cmd.PersistentFlags().Int32Var(&decimals, "decimals", domain.UnitDecimals, "Decimal places of one display unit")

	parseCmd := &cobra.Command{
		Use:   "parse AMOUNT",
		Short: "Convert a display amount such as 1.5 to base units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := domain.ParseUnits(args[0], decimals)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base.String())
			return nil
		},
	}

	formatCmd := &cobra.Command{
		Use:   "format BASE_UNITS",
		Short: "Convert base units to a display amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := decimal.NewFromString(args[0])
			if err != nil || !base.IsInteger() {
				return fmt.Errorf("%w: %q", domain.ErrInvalidAmount, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), domain.FormatUnits(base, decimals))
			return nil
		},
	}

	cmd.AddCommand(parseCmd, formatCmd)
	return cmd
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect a journal file written by the server",
		Long:  `Reads the bbolt journal of emitted records. Stop the server first; the file is locked while open.`,
	}

	withJournal := func(path string, fn func(*journal.Journal) error) error {
		if _, err := os.Stat(path); err != nil {
			return err
		}
		j, err := journal.Open(path)
		if err != nil {
			return err
		}
		defer j.Close()
		return fn(j)
	}

	ledgersCmd := &cobra.Command{
		Use:   "ledgers PATH",
		Short: "List journaled ledgers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(args[0], func(j *journal.Journal) error {
				ids, err := j.Ledgers()
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}

	var (
		after int64
		limit int
	)
	dumpCmd := &cobra.Command{
		Use:   "dump PATH LEDGER_ID",
		Short: "Print a ledger's journaled records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(args[0], func(j *journal.Journal) error {
				events, err := j.Events(args[1], after, limit)
				if err != nil {
					return err
				}
				for _, e := range events {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n",
						e.Sequence, e.EventType, e.AggregateID, e.CreatedAt.UTC().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	dumpCmd.Flags().Int64Var(&after, "after", 0, "Only records with a greater sequence")
	dumpCmd.Flags().IntVar(&limit, "limit", 0, "Maximum records, 0 for all")

	rebuildCmd := &cobra.Command{
		Use:   "rebuild PATH LEDGER_ID",
		Short: "Replay a ledger's records and print the rebuilt state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(args[0], func(j *journal.Journal) error {
				snap, err := j.Rebuild(args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snapshotView(snap))
			})
		},
	}

	cmd.AddCommand(ledgersCmd, dumpCmd, rebuildCmd)
	return cmd
}

type holderView struct {
	Address string `json:"address"`
	Shares  int64  `json:"shares"`
	Claimed string `json:"claimed"`
}

type splitView struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Active           bool         `json:"active"`
	PendingBalance   string       `json:"pending_balance"`
	PendingFees      string       `json:"pending_fees"`
	TotalDistributed string       `json:"total_distributed"`
	Holders          []holderView `json:"holders"`
}

type ledgerView struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Owner              string      `json:"owner"`
	FeeRateBps         int64       `json:"fee_rate_bps"`
	TotalFeesCollected string      `json:"total_fees_collected"`
	FeesWithdrawable   string      `json:"fees_withdrawable"`
	TotalDistributed   string      `json:"total_distributed"`
	Splits             []splitView `json:"splits"`
}

func snapshotView(snap *domain.LedgerSnapshot) ledgerView {
	l := snap.Ledger
	view := ledgerView{
		ID:                 l.ID,
		Name:               l.Name,
		Owner:              l.Owner.String(),
		FeeRateBps:         l.FeeRateBps,
		TotalFeesCollected: l.TotalFeesCollected.String(),
		FeesWithdrawable:   l.FeesWithdrawable.String(),
		TotalDistributed:   l.TotalDistributed.String(),
		Splits:             make([]splitView, 0, len(snap.Splits)),
	}

	// Split ids are dense from zero.
	for id := int64(0); id < l.SplitCount; id++ {
		s, ok := snap.Splits[id]
		if !ok {
			continue
		}
		sv := splitView{
			ID:               s.ID,
			Name:             s.Name,
			Active:           s.Active,
			PendingBalance:   s.PendingBalance.String(),
			PendingFees:      s.PendingFees.String(),
			TotalDistributed: s.TotalDistributed.String(),
			Holders:          make([]holderView, len(s.Holders)),
		}
		for i, h := range s.Holders {
			sv.Holders[i] = holderView{Address: h.Address.String(), Shares: h.Shares, Claimed: h.Claimed.String()}
		}
		view.Splits = append(view.Splits, sv)
	}

	return view
}
