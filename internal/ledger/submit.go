package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeJamon/goDarkpool/internal/address"
)

// Submitter builds, signs, sends and confirms transactions paid for by a
// single fee payer.
type Submitter struct {
	client       Client
	payer        Signer
	commitment   Commitment
	pollInterval time.Duration
}

// NewSubmitter creates a Submitter. The payer signs every transaction.
func NewSubmitter(client Client, payer Signer, commitment Commitment, pollInterval time.Duration) *Submitter {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Submitter{
		client:       client,
		payer:        payer,
		commitment:   commitment,
		pollInterval: pollInterval,
	}
}

// Payer returns the fee payer's address.
func (s *Submitter) Payer() address.Pubkey {
	return s.payer.PublicKey()
}

// Client returns the underlying node client.
func (s *Submitter) Client() Client {
	return s.client
}

// Submit sends instructions in one transaction and waits for confirmation.
// Additional signers are used for accounts that must sign besides the payer.
// Once the transaction is sent, any error other than ErrTransactionFailed is
// an *UnconfirmedError carrying its signature.
func (s *Submitter) Submit(ctx context.Context, instructions []Instruction, signers ...Signer) (Signature, error) {
	bh, err := s.client.GetLatestBlockhash(ctx)
	if err != nil {
		return Signature{}, fmt.Errorf("fetch blockhash: %w", err)
	}

	msg, err := CompileMessage(s.payer.PublicKey(), bh.Hash, instructions...)
	if err != nil {
		return Signature{}, err
	}
	tx, err := SignTransaction(msg, append([]Signer{s.payer}, signers...)...)
	if err != nil {
		return Signature{}, err
	}
	wire, err := tx.Serialize()
	if err != nil {
		return Signature{}, err
	}

	sig, err := s.client.SendTransaction(ctx, wire)
	if err != nil {
		return Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	if err := ConfirmTransaction(ctx, s.client, sig, s.commitment, s.pollInterval); err != nil {
		if errors.Is(err, ErrTransactionFailed) {
			return sig, err
		}
		return sig, &UnconfirmedError{Signature: sig, Err: err}
	}
	return sig, nil
}
