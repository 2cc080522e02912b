package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// options are the persistent flags shared by API commands.
type options struct {
	baseURL        string
	timeout        time.Duration
	caller         string
	token          string
	idempotencyKey string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "splitledger-cli",
		Short:         "SplitLedger CLI tool",
		Long:          `A command line interface for the SplitLedger API and its offline journal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.baseURL, "url", envOr("SPLITLEDGER_URL", "http://localhost:8080"), "Base URL of the SplitLedger API")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	flags.StringVar(&opts.caller, "caller", os.Getenv("SPLITLEDGER_CALLER"), "Caller address sent when the server runs without auth")
	flags.StringVar(&opts.token, "token", os.Getenv("SPLITLEDGER_TOKEN"), "Bearer token sent when the server runs with auth")
	flags.StringVar(&opts.idempotencyKey, "idempotency-key", "", "Idempotency-Key header for mutating requests")

	rootCmd.AddCommand(
		protocolCmd(opts),
		splitCmd(opts),
		feeCmd(opts),
		ledgerCmd(opts),
		whoamiCmd(opts),
		tokenCmd(),
		unitsCmd(),
		journalCmd(),
	)

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
