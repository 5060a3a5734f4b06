package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goDarkpool/internal/order"
	"github.com/LeJamon/goDarkpool/internal/settlement"
)

var (
	settleBuyer       string
	settleSeller      string
	settleBaseMint    string
	settleQuoteMint   string
	settleBaseAmount  string
	settleQuoteAmount string
)

// settleCmd represents the settle command group
var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle matched trades",
}

var settleExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Transfer this side's legs of a matched trade",
	Long: `Transfer the legs of a matched trade the signer owes. A buyer sends the
quote amount to the seller and a seller sends the base amount to the buyer.
Each leg goes through the most private settlement mechanism available.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		buyer, err := parsePubkeyArg("buyer", settleBuyer)
		if err != nil {
			return err
		}
		seller, err := parsePubkeyArg("seller", settleSeller)
		if err != nil {
			return err
		}
		base, err := parsePubkeyArg("base mint", settleBaseMint)
		if err != nil {
			return err
		}
		quote, err := parsePubkeyArg("quote mint", settleQuoteMint)
		if err != nil {
			return err
		}

		ctx, cancel := rt.withConfirmTimeout(cmd.Context())
		defer cancel()

		baseDecimals, err := rt.mintDecimals(ctx, base)
		if err != nil {
			return err
		}
		quoteDecimals, err := rt.mintDecimals(ctx, quote)
		if err != nil {
			return err
		}
		baseAmount, err := order.ParseAmount(settleBaseAmount, baseDecimals)
		if err != nil {
			return fmt.Errorf("base amount: %w", err)
		}
		quoteAmount, err := order.ParseAmount(settleQuoteAmount, quoteDecimals)
		if err != nil {
			return fmt.Errorf("quote amount: %w", err)
		}

		settle, caller, err := rt.settlement(ctx)
		if err != nil {
			return err
		}
		res, err := settle.Execute(ctx, settlement.Request{
			Caller:      caller,
			Buyer:       buyer,
			Seller:      seller,
			BaseMint:    base,
			QuoteMint:   quote,
			BaseAmount:  baseAmount,
			QuoteAmount: quoteAmount,
		})
		if res != nil {
			if perr := printSettlement(cmd, res); perr != nil {
				return errors.Join(err, perr)
			}
		}
		return err
	},
}

var settleShieldedBalanceCmd = &cobra.Command{
	Use:   "shielded-balance <mint>",
	Short: "Show the signer's balance in the shielded pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mint, err := parsePubkeyArg("mint", args[0])
		if err != nil {
			return err
		}
		settle, owner, err := rt.settlement(cmd.Context())
		if err != nil {
			return err
		}
		bal, err := settle.ShieldedBalance(cmd.Context(), owner, mint)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), bal)
		return nil
	},
}

func printSettlement(cmd *cobra.Command, res *settlement.Result) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEG\tTO\tPROVIDER\tHIDDEN\tFEE\tRECEIPT")
	for _, l := range res.Legs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			l.Leg.Name, l.Leg.To, l.Receipt.Provider, l.Receipt.Hidden, l.Receipt.Fee, receiptRef(l.Receipt))
	}
	for _, l := range res.Failed {
		fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t%s\n",
			l.Leg.Name, l.Leg.To, failedProvider(l.Receipt), failedRef(l))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if res.Partial() && len(res.Failed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "the counterparty settles the other leg")
	}
	return nil
}

func receiptRef(r settlement.Receipt) string {
	if !r.Signature.IsZero() {
		return r.Signature.String()
	}
	return r.Reference
}

func failedProvider(r settlement.Receipt) string {
	if r.Provider == "" {
		return "-"
	}
	return string(r.Provider)
}

// failedRef shows the signature of a sent but unconfirmed leg so it can be
// checked on the ledger.
func failedRef(l settlement.LegResult) string {
	if errors.Is(l.Err, settlement.ErrOutcomeUnknown) {
		return "UNCONFIRMED " + l.Receipt.Signature.String()
	}
	return "FAILED"
}

func init() {
	rootCmd.AddCommand(settleCmd)
	settleCmd.AddCommand(settleExecuteCmd, settleShieldedBalanceCmd)

	f := settleExecuteCmd.Flags()
	f.StringVar(&settleBuyer, "buyer", "", "buyer wallet")
	f.StringVar(&settleSeller, "seller", "", "seller wallet")
	f.StringVar(&settleBaseMint, "base-mint", "", "base token mint")
	f.StringVar(&settleQuoteMint, "quote-mint", "", "quote token mint")
	f.StringVar(&settleBaseAmount, "base-amount", "", "filled base amount in tokens")
	f.StringVar(&settleQuoteAmount, "quote-amount", "", "quote amount owed in tokens")
	for _, name := range []string{"buyer", "seller", "base-mint", "quote-mint", "base-amount", "quote-amount"} {
		_ = settleExecuteCmd.MarkFlagRequired(name)
	}
}
