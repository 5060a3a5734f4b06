package settlement

import (
	"context"
	"fmt"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/ledger"
)

// PublicProvider transfers with the plain token program. The amount is
// visible on the ledger.
type PublicProvider struct {
	program   address.Pubkey
	client    ledger.Client
	submitter Submitter
	deriver   *address.Deriver
}

// NewPublicProvider creates a PublicProvider. client is used to read mint
// decimals.
func NewPublicProvider(program address.Pubkey, client ledger.Client, submitter Submitter, deriver *address.Deriver) *PublicProvider {
	return &PublicProvider{program: program, client: client, submitter: submitter, deriver: deriver}
}

func (p *PublicProvider) ID() ProviderID { return Public }

func (p *PublicProvider) Available(context.Context) bool { return true }

func (p *PublicProvider) Transfer(ctx context.Context, leg Leg) (Receipt, error) {
	if leg.From != p.submitter.Payer() {
		return Receipt{}, ErrWrongSigner
	}

	mint, err := p.client.GetAccountInfo(ctx, leg.Mint)
	if err != nil {
		return Receipt{}, fmt.Errorf("fetch mint %s: %w", leg.Mint, err)
	}
	decimals, err := ledger.DecodeMintDecimals(mint.Data)
	if err != nil {
		return Receipt{}, err
	}

	src, err := p.deriver.AssociatedTokenAccount(leg.From, leg.Mint, p.program)
	if err != nil {
		return Receipt{}, err
	}
	dst, err := p.deriver.AssociatedTokenAccount(leg.To, leg.Mint, p.program)
	if err != nil {
		return Receipt{}, err
	}

	sig, err := p.submitter.Submit(ctx, []ledger.Instruction{
		ledger.CreateAssociatedTokenAccountIdempotent(leg.From, dst, leg.To, leg.Mint, p.program),
		ledger.TransferChecked(p.program, src, leg.Mint, dst, leg.From, leg.Amount, decimals),
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Provider: Public, Signature: sig}, nil
}
