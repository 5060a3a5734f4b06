package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goDarkpool/internal/codec"
)

// valueCmd represents the value command group
var valueCmd = &cobra.Command{
	Use:   "value",
	Short: "Encode, inspect, encrypt and decrypt 64-byte encrypted values",
}

var valueEncodeCmd = &cobra.Command{
	Use:   "encode <u64>",
	Short: "Frame a value in the plaintext fallback format",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), codec.EncodePlaintext(v))
		return nil
	},
}

var valueInspectCmd = &cobra.Command{
	Use:   "inspect <hex>",
	Short: "Show the format and fields of an encrypted value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := codec.ParseEncryptedValueHex(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "format: %s\n", ev.Format())
		switch p := codec.Decode(ev).(type) {
		case codec.Plaintext:
			fmt.Fprintf(out, "value:  %d\n", p.Value)
		case codec.MPCCiphertext:
			fmt.Fprintf(out, "nonce:  %s (counter %d)\n", hex.EncodeToString(p.Nonce[:]), p.NonceCounter())
			fmt.Fprintf(out, "block:  %s\n", hex.EncodeToString(p.Block[:]))
			fmt.Fprintf(out, "tag:    %s\n", hex.EncodeToString(p.Tag[:]))
		case codec.TEEHandle:
			fmt.Fprintf(out, "handle: %s\n", hex.EncodeToString(p.Handle[:]))
		}
		return nil
	},
}

var valueEncryptCmd = &cobra.Command{
	Use:   "encrypt <u64>",
	Short: "Encrypt a value with the active encryption provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		enc, err := rt.encryption(cmd.Context())
		if err != nil {
			return err
		}
		ev, err := enc.Encrypt(cmd.Context(), v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ev)
		return nil
	},
}

var valueDecryptCmd = &cobra.Command{
	Use:   "decrypt <hex>",
	Short: "Decrypt a value with the provider that handles its format",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := codec.ParseEncryptedValueHex(args[0])
		if err != nil {
			return err
		}
		enc, err := rt.encryption(cmd.Context())
		if err != nil {
			return err
		}
		v, err := enc.Decrypt(cmd.Context(), ev)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(valueCmd)
	valueCmd.AddCommand(valueEncodeCmd, valueInspectCmd, valueEncryptCmd, valueDecryptCmd)
}
