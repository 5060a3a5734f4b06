package cli

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/config"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(closeRuntime)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func defaultDeriver(t *testing.T) *address.Deriver {
	t.Helper()
	programs, err := config.Default().ProgramIDs()
	require.NoError(t, err)
	d, err := address.NewDeriver(programs.AddressPrograms(), 0)
	require.NoError(t, err)
	return d
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "goDarkpool version "+rootCmd.Version)
	assert.Contains(t, out, "Git commit: ")
}

func TestDeriveCommands(t *testing.T) {
	d := defaultDeriver(t)

	t.Run("exchange", func(t *testing.T) {
		want, err := d.Exchange()
		require.NoError(t, err)

		out, err := executeCommand(t, "derive", "exchange")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%s bump=%d\n", want.Address, want.Bump), out)
	})

	t.Run("order", func(t *testing.T) {
		maker := address.Pubkey{1, 2, 3}
		want, err := d.Order(maker, 42)
		require.NoError(t, err)

		out, err := executeCommand(t, "derive", "order", maker.String(), "42")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, want.Address.String()+" "))
	})

	t.Run("bad nonce", func(t *testing.T) {
		_, err := executeCommand(t, "derive", "order", address.Pubkey{1}.String(), "soon")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nonce")
	})

	t.Run("bad pubkey", func(t *testing.T) {
		_, err := executeCommand(t, "derive", "balance", "not-a-key", address.Pubkey{1}.String())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner")
	})

	t.Run("computation", func(t *testing.T) {
		out, err := executeCommand(t, "derive", "computation", "7")
		require.NoError(t, err)
		for _, name := range []string{"mxe", "mempool", "execpool", "computation", "comp_def", "cluster", "fee_pool", "clock", "signer"} {
			assert.Contains(t, out, name)
		}
	})

	t.Run("computation circuit", func(t *testing.T) {
		for circuit, name := range map[string]string{"compare": "compare_prices", "fill": "calculate_fill"} {
			want, err := d.CompDef(address.CompDefOffset(name))
			require.NoError(t, err)
			out, err := executeCommand(t, "derive", "computation", "7", "--circuit", circuit)
			require.NoError(t, err)
			assert.Contains(t, out, want.Address.String(), circuit)
		}

		_, err := executeCommand(t, "derive", "computation", "7", "--circuit", "settle")
		assert.ErrorContains(t, err, "unknown circuit")
		_, _ = executeCommand(t, "derive", "computation", "7", "--circuit", "compare")
	})
}

func TestValueCommands(t *testing.T) {
	out, err := executeCommand(t, "value", "encode", "1500")
	require.NoError(t, err)
	encoded := strings.TrimSpace(out)
	assert.Equal(t, codec.EncodePlaintext(1500).String(), encoded)

	out, err = executeCommand(t, "value", "inspect", encoded)
	require.NoError(t, err)
	assert.Contains(t, out, "format: plaintext")
	assert.Contains(t, out, "value:  1500")

	_, err = executeCommand(t, "value", "encode", "lots")
	require.Error(t, err)

	_, err = executeCommand(t, "value", "inspect", "abcd")
	require.Error(t, err)
}

func TestSigningCommandsRequireKeypair(t *testing.T) {
	keypairFile = ""
	_, err := executeCommand(t, "settle", "shielded-balance", address.Pubkey{9}.String())
	require.ErrorIs(t, err, errNoKeypair)

	_, err = executeCommand(t, "order", "cancel", address.Pubkey{9}.String())
	require.ErrorIs(t, err, errNoKeypair)
}

func TestShowUnits(t *testing.T) {
	assert.Equal(t, "1500000", showUnits(1_500_000, -1))
	assert.Equal(t, "1.5", showUnits(1_500_000, 6))
	assert.Equal(t, "0", showUnits(0, 9))
}
