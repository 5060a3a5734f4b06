package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/order"
)

var deriveCircuit string

var circuits = map[string]string{
	"compare": order.CircuitComparePrices,
	"fill":    order.CircuitCalculateFill,
}

// deriveCmd represents the derive command group
var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive program account addresses",
	Long:  `Derive the addresses the darkpool and MPC programs use, without touching the network.`,
}

var deriveExchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange singleton",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := rt.deriver.Exchange()
		return printDerived(cmd, d, err)
	},
}

var derivePairCmd = &cobra.Command{
	Use:   "pair <base-mint> <quote-mint>",
	Short: "Trading pair account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := parsePubkeyArg("base mint", args[0])
		if err != nil {
			return err
		}
		quote, err := parsePubkeyArg("quote mint", args[1])
		if err != nil {
			return err
		}
		d, err := rt.deriver.Pair(base, quote)
		return printDerived(cmd, d, err)
	},
}

var deriveOrderCmd = &cobra.Command{
	Use:   "order <maker> <nonce>",
	Short: "Order account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		maker, err := parsePubkeyArg("maker", args[0])
		if err != nil {
			return err
		}
		nonce, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("nonce: %w", err)
		}
		d, err := rt.deriver.Order(maker, nonce)
		return printDerived(cmd, d, err)
	},
}

var deriveBalanceCmd = &cobra.Command{
	Use:   "balance <owner> <mint>",
	Short: "User balance account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parsePubkeyArg("owner", args[0])
		if err != nil {
			return err
		}
		mint, err := parsePubkeyArg("mint", args[1])
		if err != nil {
			return err
		}
		d, err := rt.deriver.Balance(owner, mint)
		return printDerived(cmd, d, err)
	},
}

var deriveComputationCmd = &cobra.Command{
	Use:   "computation <offset>",
	Short: "MPC accounts for a computation queued under offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("offset: %w", err)
		}
		circuit, ok := circuits[deriveCircuit]
		if !ok {
			return fmt.Errorf("unknown circuit %q: want compare or fill", deriveCircuit)
		}
		accts, err := rt.deriver.ComputationAccountsFor(rt.cfg.Cluster.Offset, offset, circuit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		rows := []struct {
			name string
			pk   address.Pubkey
		}{
			{"mxe", accts.MXE},
			{"mempool", accts.Mempool},
			{"execpool", accts.Execpool},
			{"computation", accts.Computation},
			{"comp_def", accts.CompDef},
			{"cluster", accts.Cluster},
			{"fee_pool", accts.FeePool},
			{"clock", accts.Clock},
			{"signer", accts.Signer},
		}
		for _, row := range rows {
			fmt.Fprintf(out, "%-12s %s\n", row.name, row.pk)
		}
		return nil
	},
}

func printDerived(cmd *cobra.Command, d address.Derived, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s bump=%d\n", d.Address, d.Bump)
	return nil
}

func init() {
	rootCmd.AddCommand(deriveCmd)
	deriveCmd.AddCommand(deriveExchangeCmd, derivePairCmd, deriveOrderCmd, deriveBalanceCmd, deriveComputationCmd)
	deriveComputationCmd.Flags().StringVar(&deriveCircuit, "circuit", "compare", "circuit the computation runs: compare or fill")
}
