package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile  string
	debug       bool
	keypairFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "darkpool",
	Short: "goDarkpool - confidential darkpool client",
	Long: `goDarkpool places and matches orders whose amounts and prices stay
encrypted on the ledger, tracks the off-chain computations that compare
them, and settles matched trades through the most private transfer
mechanism available.`,
	Version:           "0.1.0-dev",
	SilenceUsage:      true,
	PersistentPreRunE: loadRuntime,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer closeRuntime()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeRuntime()
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&keypairFile, "keypair", "", "signing keypair file (JSON array of 64 bytes)")
}
