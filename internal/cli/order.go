package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/order"
	"github.com/LeJamon/goDarkpool/internal/proof"
	"github.com/LeJamon/goDarkpool/internal/tracker"
)

var (
	placeBaseMint   string
	placeQuoteMint  string
	placeSide       string
	placeKind       string
	placeAmount     string
	placePrice      string
	placeNonce      uint64
	placeProve      bool
	placeProofParam map[string]string

	showBaseDecimals  int
	showQuoteDecimals int

	matchWait bool
)

// orderCmd represents the order command group
var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Place, cancel, inspect and match confidential orders",
}

var orderPlaceCmd = &cobra.Command{
	Use:   "place",
	Short: "Encrypt and place an order",
	Long: `Place an order on a trading pair. Amount is in base tokens and price in
quote tokens per base token; both are encrypted before submission.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := parsePubkeyArg("base mint", placeBaseMint)
		if err != nil {
			return err
		}
		quote, err := parsePubkeyArg("quote mint", placeQuoteMint)
		if err != nil {
			return err
		}
		side, err := order.ParseSide(placeSide)
		if err != nil {
			return err
		}
		kind, err := order.ParseKind(placeKind)
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
		amount, err := order.ParseAmount(placeAmount, baseDecimals)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		price, err := order.ParseAmount(placePrice, quoteDecimals)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		nonce := placeNonce
		if nonce == 0 {
			nonce = uint64(time.Now().UnixNano())
		}

		req := order.PlaceRequest{
			BaseMint:  base,
			QuoteMint: quote,
			Side:      side,
			Kind:      kind,
			Amount:    amount,
			Price:     price,
			Nonce:     nonce,
		}
		if placeProve {
			p, err := requestProof(ctx, placeProofParam)
			if err != nil {
				return err
			}
			req.Eligibility = &p
		}

		orders, err := rt.orders(ctx)
		if err != nil {
			return err
		}
		placed, err := orders.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "order:     %s\n", placed.Order)
		fmt.Fprintf(out, "nonce:     %d\n", nonce)
		fmt.Fprintf(out, "signature: %s\n", placed.Signature)
		return nil
	},
}

var orderCancelCmd = &cobra.Command{
	Use:   "cancel <order>",
	Short: "Cancel an order you placed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parsePubkeyArg("order", args[0])
		if err != nil {
			return err
		}
		ctx, cancel := rt.withConfirmTimeout(cmd.Context())
		defer cancel()

		orders, err := rt.orders(ctx)
		if err != nil {
			return err
		}
		sig, err := orders.CancelOrder(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signature: %s\n", sig)
		return nil
	},
}

var orderShowCmd = &cobra.Command{
	Use:   "show <order>",
	Short: "Fetch an order and decrypt its fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parsePubkeyArg("order", args[0])
		if err != nil {
			return err
		}
		orders, err := rt.readOnlyOrders(cmd.Context())
		if err != nil {
			return err
		}
		o, err := orders.FetchOrder(cmd.Context(), addr)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "order:   %s\n", o.Address)
		fmt.Fprintf(out, "maker:   %s\n", o.Maker)
		fmt.Fprintf(out, "pair:    %s\n", o.Pair)
		fmt.Fprintf(out, "side:    %s\n", o.Side)
		fmt.Fprintf(out, "kind:    %s\n", o.Kind)
		fmt.Fprintf(out, "status:  %s\n", o.Status)
		fmt.Fprintf(out, "nonce:   %d\n", o.Nonce)
		fmt.Fprintf(out, "created: %s\n", o.CreatedAt.UTC().Format(time.RFC3339))

		r, err := orders.Reveal(cmd.Context(), o)
		if err != nil {
			// Fields stay hidden when no provider can decrypt them.
			fmt.Fprintf(out, "amount:  <%s> (%v)\n", o.Amount.Format(), err)
			return nil
		}
		fmt.Fprintf(out, "amount:  %s\n", showUnits(r.Amount, showBaseDecimals))
		fmt.Fprintf(out, "price:   %s\n", showUnits(r.Price, showQuoteDecimals))
		fmt.Fprintf(out, "filled:  %s\n", showUnits(r.Filled, showBaseDecimals))
		return nil
	},
}

var orderMatchCmd = &cobra.Command{
	Use:   "match <buy-order> <sell-order>",
	Short: "Queue the encrypted price comparison of two orders",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		buy, err := parsePubkeyArg("buy order", args[0])
		if err != nil {
			return err
		}
		sell, err := parsePubkeyArg("sell order", args[1])
		if err != nil {
			return err
		}

		tr := rt.computationTracker()
		if matchWait {
			// Subscribe before submitting so the result cannot be missed.
			if err := tr.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start tracker: %w", err)
			}
		}

		ctx, cancel := rt.withConfirmTimeout(cmd.Context())
		defer cancel()
		orders, err := rt.orders(ctx)
		if err != nil {
			return err
		}
		m, err := orders.RequestMatch(ctx, buy, sell)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "computation offset: %d\n", m.ComputationOffset)
		fmt.Fprintf(out, "request id:         %s\n", hex.EncodeToString(m.RequestID))
		fmt.Fprintf(out, "signature:          %s\n", m.Signature)
		if !matchWait {
			return nil
		}

		waitCtx, waitCancel := context.WithTimeout(cmd.Context(), tr.EstimateTimeout(tracker.KindCompare))
		defer waitCancel()
		res, err := tr.Await(waitCtx, m.RequestID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "status:             %s\n", res.Status)
		fmt.Fprintf(out, "prices match:       %t\n", res.PricesMatch)
		return nil
	},
}

func (r *runtimeEnv) mintDecimals(ctx context.Context, mint address.Pubkey) (uint8, error) {
	info, err := r.ledgerClient().GetAccountInfo(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("fetch mint %s: %w", mint, err)
	}
	return ledger.DecodeMintDecimals(info.Data)
}

func showUnits(units uint64, decimals int) string {
	if decimals < 0 || decimals > 255 {
		return strconv.FormatUint(units, 10)
	}
	return order.FormatAmount(units, uint8(decimals))
}

func requestProof(ctx context.Context, raw map[string]string) (proof.Proof, error) {
	params := make(map[string]uint64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return proof.Proof{}, fmt.Errorf("proof param %s: %w", k, err)
		}
		params[k] = n
	}
	kp, err := rt.keypair()
	if err != nil {
		return proof.Proof{}, err
	}
	req, err := proof.NewRequest(kp, params)
	if err != nil {
		return proof.Proof{}, err
	}
	return rt.prover().Prove(ctx, req)
}

func init() {
	rootCmd.AddCommand(orderCmd)
	orderCmd.AddCommand(orderPlaceCmd, orderCancelCmd, orderShowCmd, orderMatchCmd)

	f := orderPlaceCmd.Flags()
	f.StringVar(&placeBaseMint, "base-mint", "", "base token mint")
	f.StringVar(&placeQuoteMint, "quote-mint", "", "quote token mint")
	f.StringVar(&placeSide, "side", "", "buy or sell")
	f.StringVar(&placeKind, "kind", "limit", "limit or market")
	f.StringVar(&placeAmount, "amount", "", "amount in base tokens, e.g. 1.5")
	f.StringVar(&placePrice, "price", "0", "limit price in quote tokens per base token")
	f.Uint64Var(&placeNonce, "nonce", 0, "order nonce (default: current time in nanoseconds)")
	f.BoolVar(&placeProve, "prove", false, "attach an eligibility proof from the proof service")
	f.StringToStringVar(&placeProofParam, "proof-param", nil, "eligibility parameter as key=value, repeatable")
	_ = orderPlaceCmd.MarkFlagRequired("base-mint")
	_ = orderPlaceCmd.MarkFlagRequired("quote-mint")
	_ = orderPlaceCmd.MarkFlagRequired("side")
	_ = orderPlaceCmd.MarkFlagRequired("amount")

	orderShowCmd.Flags().IntVar(&showBaseDecimals, "base-decimals", -1, "render amounts with these decimals instead of base units")
	orderShowCmd.Flags().IntVar(&showQuoteDecimals, "quote-decimals", -1, "render the price with these decimals instead of base units")

	orderMatchCmd.Flags().BoolVar(&matchWait, "wait", false, "wait for the comparison result")
}
