package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LeJamon/goDarkpool/internal/address"
)

// Token program instruction tags.
const (
	tokenTransferChecked = 12
	ataCreateIdempotent  = 1
)

// Token account and mint layouts.
const (
	tokenAccountSize      = 165
	tokenAccountMintOfs   = 0
	tokenAccountOwnerOfs  = 32
	tokenAccountAmountOfs = 64
	mintSize              = 82
	mintDecimalsOfs       = 44
)

// ErrInvalidTokenAccount is returned when account data is not a token
// account or mint.
var ErrInvalidTokenAccount = errors.New("invalid token account data")

// TransferChecked moves amount of mint from source to destination, signed by
// owner. The program rejects it when decimals does not match the mint.
func TransferChecked(tokenProgram, source, mint, destination, owner address.Pubkey, amount uint64, decimals uint8) Instruction {
	data := make([]byte, 10)
	data[0] = tokenTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return Instruction{
		ProgramID: tokenProgram,
		Accounts: []AccountMeta{
			Meta(source, false, true),
			Meta(mint, false, false),
			Meta(destination, false, true),
			Meta(owner, true, false),
		},
		Data: data,
	}
}

// CreateAssociatedTokenAccountIdempotent creates owner's associated token
// account for mint if it does not exist yet.
func CreateAssociatedTokenAccountIdempotent(payer, ata, owner, mint, tokenProgram address.Pubkey) Instruction {
	return Instruction{
		ProgramID: address.AssociatedTokenProgram,
		Accounts: []AccountMeta{
			Meta(payer, true, true),
			Meta(ata, false, true),
			Meta(owner, false, false),
			Meta(mint, false, false),
			Meta(address.SystemProgram, false, false),
			Meta(tokenProgram, false, false),
		},
		Data: []byte{ataCreateIdempotent},
	}
}

// TokenAccount is the decoded prefix of a token account.
type TokenAccount struct {
	Mint   address.Pubkey
	Owner  address.Pubkey
	Amount uint64
}

// DecodeTokenAccount decodes token account data. Extended accounts (longer
// than the base layout) are accepted.
func DecodeTokenAccount(data []byte) (TokenAccount, error) {
	if len(data) < tokenAccountSize {
		return TokenAccount{}, fmt.Errorf("%w: %d bytes", ErrInvalidTokenAccount, len(data))
	}
	var acct TokenAccount
	copy(acct.Mint[:], data[tokenAccountMintOfs:tokenAccountMintOfs+address.PubkeySize])
	copy(acct.Owner[:], data[tokenAccountOwnerOfs:tokenAccountOwnerOfs+address.PubkeySize])
	acct.Amount = binary.LittleEndian.Uint64(data[tokenAccountAmountOfs:])
	return acct, nil
}

// DecodeMintDecimals returns the decimals of a mint account.
func DecodeMintDecimals(data []byte) (uint8, error) {
	if len(data) < mintSize {
		return 0, fmt.Errorf("%w: mint is %d bytes", ErrInvalidTokenAccount, len(data))
	}
	return data[mintDecimalsOfs], nil
}
