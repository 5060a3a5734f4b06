package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/tracker"
)

var (
	watchOffsets []string
	watchKind    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow computation results on the darkpool program's log stream",
	Long: `Subscribe to the darkpool program's logs and report the results of the
computations queued under the given offsets until interrupted. Metrics are
served while watching when enabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := tracker.ParseKind(watchKind)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		tr := rt.computationTracker()
		for _, raw := range watchOffsets {
			offset, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("offset %q: %w", raw, err)
			}
			tr.Track(tracker.RequestID(offset), kind, tracker.OrderRefs{})
		}

		report := func(r tracker.ComputationResult) {
			switch r.Kind {
			case tracker.KindCompare:
				fmt.Fprintf(out, "compare %s buy=%s sell=%s match=%t\n", r.Status, r.Refs.Buy, r.Refs.Sell, r.PricesMatch)
			case tracker.KindFill:
				fmt.Fprintf(out, "fill %s buy=%s sell=%s amount=%d buy_filled=%t sell_filled=%t\n",
					r.Status, r.Refs.Buy, r.Refs.Sell, r.FillAmount, r.BuyFilled, r.SellFilled)
			}
		}
		compare := tr.OnResult(tracker.KindCompare, report)
		fill := tr.OnResult(tracker.KindFill, report)
		abandoned := tr.OnAbandoned(func(p tracker.PendingComputation) {
			rt.logger.Warn("computation abandoned",
				zap.String("request_id", hex.EncodeToString(p.RequestID)),
				zap.Stringer("kind", p.Kind),
				zap.Time("created_at", p.CreatedAt))
		})
		defer func() {
			tr.Unsubscribe(compare)
			tr.Unsubscribe(fill)
			tr.Unsubscribe(abandoned)
		}()

		rt.serveMetrics(ctx)
		if err := tr.Start(ctx); err != nil {
			return fmt.Errorf("start tracker: %w", err)
		}
		<-ctx.Done()
		tr.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVar(&watchOffsets, "offset", nil, "computation offset to follow, repeatable")
	watchCmd.Flags().StringVar(&watchKind, "kind", "compare", "circuit of the followed computations: compare or fill")
}
