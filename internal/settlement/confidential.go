package settlement

import (
	"context"
	"fmt"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/cascade"
	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/ledger"
)

// Confidential token program instruction tags.
const (
	confidentialTransferExtension = 27
	confidentialTransfer          = 7
)

// Submitter sends instructions signed by the caller.
type Submitter interface {
	Payer() address.Pubkey
	Submit(ctx context.Context, instructions []ledger.Instruction, signers ...ledger.Signer) (ledger.Signature, error)
}

// Encrypter produces encrypted amounts. *cascade.Cascade implements it.
type Encrypter interface {
	Encrypt(ctx context.Context, v uint64) (codec.EncryptedValue, error)
	Status() cascade.Status
}

// ConfidentialProvider transfers through the confidential token program.
// The amount travels as an encrypted value and there is no fee.
type ConfidentialProvider struct {
	program   address.Pubkey
	submitter Submitter
	deriver   *address.Deriver
	enc       Encrypter
}

// NewConfidentialProvider creates a ConfidentialProvider for program.
func NewConfidentialProvider(program address.Pubkey, submitter Submitter, deriver *address.Deriver, enc Encrypter) *ConfidentialProvider {
	return &ConfidentialProvider{program: program, submitter: submitter, deriver: deriver, enc: enc}
}

func (p *ConfidentialProvider) ID() ProviderID { return Confidential }

// Available reports whether the encryption cascade currently produces
// confidential values.
func (p *ConfidentialProvider) Available(context.Context) bool {
	if p.program.IsZero() {
		return false
	}
	st := p.enc.Status()
	return st.Active != "" && st.Confidential
}

func (p *ConfidentialProvider) Transfer(ctx context.Context, leg Leg) (Receipt, error) {
	if leg.From != p.submitter.Payer() {
		return Receipt{}, ErrWrongSigner
	}
	src, err := p.deriver.AssociatedTokenAccount(leg.From, leg.Mint, p.program)
	if err != nil {
		return Receipt{}, err
	}
	dst, err := p.deriver.AssociatedTokenAccount(leg.To, leg.Mint, p.program)
	if err != nil {
		return Receipt{}, err
	}
	amount, err := p.enc.Encrypt(ctx, leg.Amount)
	if err != nil {
		return Receipt{}, fmt.Errorf("encrypt amount: %w", err)
	}

	ix := ConfidentialTransfer(p.program, src, leg.Mint, dst, leg.From, amount)
	sig, err := p.submitter.Submit(ctx, []ledger.Instruction{ix})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Provider: Confidential, Signature: sig, Hidden: true}, nil
}

// ConfidentialTransfer builds the confidential transfer instruction moving an
// encrypted amount from source to destination.
func ConfidentialTransfer(program, source, mint, destination, owner address.Pubkey, amount codec.EncryptedValue) ledger.Instruction {
	data := make([]byte, 0, 2+codec.ValueSize)
	data = append(data, confidentialTransferExtension, confidentialTransfer)
	data = append(data, amount[:]...)
	return ledger.Instruction{
		ProgramID: program,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(source, false, true),
			ledger.Meta(mint, false, false),
			ledger.Meta(destination, false, true),
			ledger.Meta(owner, true, false),
		},
		Data: data,
	}
}
