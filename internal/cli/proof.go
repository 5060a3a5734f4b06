package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var proofParams map[string]string

var proofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Interact with the eligibility proof service",
}

var proofRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a signed eligibility proof and print it as hex",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := requestProof(cmd.Context(), proofParams)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(p[:]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(proofCmd)
	proofCmd.AddCommand(proofRequestCmd)
	proofRequestCmd.Flags().StringToStringVar(&proofParams, "param", nil, "eligibility parameter as key=value, repeatable")
}
