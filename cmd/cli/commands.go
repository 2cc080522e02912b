package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// call runs one API request and prints the response.
func call(cmd *cobra.Command, opts *options, method, path string, body any) error {
	data, err := newAPIClient(opts).do(cmd.Context(), method, path, body)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func protocolPath(ledgerID string, parts ...string) string {
	p := "/api/v1/protocols/" + url.PathEscape(ledgerID)
	if len(parts) > 0 {
		p += "/" + strings.Join(parts, "/")
	}
	return p
}

func protocolCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protocol",
		Short: "Factory operations",
	}

	var name, payment string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a protocol ledger owned by the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, "/api/v1/protocols", map[string]string{
				"name":    name,
				"payment": payment,
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Protocol name")
	createCmd.Flags().StringVar(&payment, "payment", "", "Creation payment in base units")
	_ = createCmd.MarkFlagRequired("name")

	var creator string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/protocols"
			if creator != "" {
				path += "?creator=" + url.QueryEscape(creator)
			}
			return call(cmd, opts, http.MethodGet, path, nil)
		},
	}
	listCmd.Flags().StringVar(&creator, "creator", "", "Only protocols created by this address")

	getCmd := &cobra.Command{
		Use:   "get LEDGER_ID",
		Short: "Show a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, protocolPath(args[0]), nil)
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show factory totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, "/api/v1/protocols/stats", nil)
		},
	}

	cmd.AddCommand(createCmd, listCmd, getCmd, statsCmd)
	return cmd
}

// parseHolders splits ADDRESS:SHARES pairs into parallel lists.
func parseHolders(pairs []string) ([]string, []int64, error) {
	holders := make([]string, 0, len(pairs))
	shares := make([]int64, 0, len(pairs))
	for _, pair := range pairs {
		addr, raw, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, nil, fmt.Errorf("holder %q must be ADDRESS:SHARES", pair)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("holder %q: invalid shares: %w", pair, err)
		}
		holders = append(holders, addr)
		shares = append(shares, n)
	}
	return holders, shares, nil
}

func splitCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split registry and distribution operations",
	}

	var (
		name  string
		pairs []string
	)
	createCmd := &cobra.Command{
		Use:   "create LEDGER_ID",
		Short: "Register a split with fixed holders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			holders, shares, err := parseHolders(pairs)
			if err != nil {
				return err
			}
			return call(cmd, opts, http.MethodPost, protocolPath(args[0], "splits"), map[string]any{
				"name":    name,
				"holders": holders,
				"shares":  shares,
			})
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Split name")
	createCmd.Flags().StringArrayVar(&pairs, "holder", nil, "Holder as ADDRESS:SHARES, repeat in payout order")
	_ = createCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list LEDGER_ID",
		Short: "List a protocol's splits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, protocolPath(args[0], "splits"), nil)
		},
	}

	splitRoute := func(use, short, method string, suffix ...string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " LEDGER_ID SPLIT_ID",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				parts := append([]string{"splits", args[1]}, suffix...)
				return call(cmd, opts, method, protocolPath(args[0], parts...), nil)
			},
		}
	}

	depositCmd := &cobra.Command{
		Use:   "deposit LEDGER_ID SPLIT_ID AMOUNT",
		Short: "Pay AMOUNT base units into a split",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, protocolPath(args[0], "splits", args[1], "deposits"),
				map[string]string{"amount": args[2]})
		},
	}

	claimableCmd := &cobra.Command{
		Use:   "claimable LEDGER_ID SPLIT_ID ADDRESS",
		Short: "Show what a holder would receive now",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet,
				protocolPath(args[0], "splits", args[1], "holders", args[2], "claimable"), nil)
		},
	}

	cmd.AddCommand(
		createCmd,
		listCmd,
		splitRoute("get", "Show a split", http.MethodGet),
		splitRoute("holders", "List a split's holders", http.MethodGet, "holders"),
		splitRoute("deactivate", "Stop a split accepting deposits", http.MethodPost, "deactivate"),
		splitRoute("distribute", "Pay out a split's pending balance", http.MethodPost, "distributions"),
		depositCmd,
		claimableCmd,
	)
	return cmd
}

func feeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Protocol fee operations",
	}

	getCmd := &cobra.Command{
		Use:   "get LEDGER_ID",
		Short: "Show fee rate and balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, protocolPath(args[0], "fees"), nil)
		},
	}

	setRateCmd := &cobra.Command{
		Use:   "set-rate LEDGER_ID BPS",
		Short: "Change the protocol fee rate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bps, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rate %q: %w", args[1], err)
			}
			return call(cmd, opts, http.MethodPut, protocolPath(args[0], "fees", "rate"),
				map[string]int64{"rate_bps": bps})
		},
	}

	withdrawCmd := &cobra.Command{
		Use:   "withdraw LEDGER_ID",
		Short: "Withdraw accrued fees to the owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodPost, protocolPath(args[0], "fees", "withdrawals"), nil)
		},
	}

	cmd.AddCommand(getCmd, setRateCmd, withdrawCmd)
	return cmd
}

func ledgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	consistencyCmd := &cobra.Command{
		Use:   "consistency LEDGER_ID",
		Short: "Check ledger consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(opts).do(cmd.Context(), http.MethodGet, protocolPath(args[0], "consistency"), nil)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				fmt.Fprintln(cmd.OutOrStdout(), "Consistency check FAILED")
				_ = printJSON(cmd.OutOrStdout(), data)
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Consistency check PASSED")
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	var (
		after int64
		limit int
	)
	eventsCmd := &cobra.Command{
		Use:   "events LEDGER_ID",
		Short: "List emitted records in sequence order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("%s?after=%d&limit=%d", protocolPath(args[0], "events"), after, limit)
			return call(cmd, opts, http.MethodGet, path, nil)
		},
	}
	eventsCmd.Flags().Int64Var(&after, "after", 0, "Only records with a greater sequence")
	eventsCmd.Flags().IntVar(&limit, "limit", 100, "Maximum records to return")

	cmd.AddCommand(consistencyCmd, eventsCmd)
	return cmd
}

func whoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the caller the server resolves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, opts, http.MethodGet, "/api/v1/whoami", nil)
		},
	}
}
