package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goDarkpool/internal/provider"
)

var (
	forceProvider  string
	preferProvider string
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Initialize the encryption providers and show which one is active",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc, err := rt.encryption(cmd.Context())
		if err != nil {
			return err
		}
		if preferProvider != "" {
			if err := enc.SetPreference(provider.ID(preferProvider)); err != nil {
				return err
			}
		}
		if forceProvider != "" {
			if err := enc.SetForceOverride(provider.ID(forceProvider)); err != nil {
				return err
			}
		}

		st := enc.Status()
		out := cmd.OutOrStdout()
		active := string(st.Active)
		if active == "" {
			active = "none"
		}
		fmt.Fprintf(out, "active: %s", active)
		if st.Forced != "" {
			fmt.Fprintf(out, " (forced)")
		}
		if st.Degraded {
			fmt.Fprintf(out, " (degraded)")
		}
		if !st.Confidential {
			fmt.Fprintf(out, " (values visible on ledger)")
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tTIER\tREADY\tAVAILABLE\tERROR")
		for _, p := range st.Providers {
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", p.ID, p.Tier, p.Ready, p.Available, p.LastError)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.Flags().StringVar(&forceProvider, "force", "", "force a provider regardless of readiness")
	providersCmd.Flags().StringVar(&preferProvider, "prefer", "", "prefer a provider when it is ready")
}
