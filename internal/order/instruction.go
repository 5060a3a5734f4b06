// Package order encodes darkpool program instructions and decodes order
// accounts.
package order

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/proof"
)

// Instruction names.
const (
	InstructionPlaceOrder  = "place_order"
	InstructionCancelOrder = "cancel_order"
	InstructionMatchOrders = "match_orders"
)

// Circuits queued by match_orders.
const (
	CircuitComparePrices = "compare_prices"
	CircuitCalculateFill = "calculate_fill"
)

// Discriminator is the 8-byte prefix of instruction data and account data.
type Discriminator [8]byte

// InstructionDiscriminator returns the data prefix of the named instruction.
func InstructionDiscriminator(name string) Discriminator {
	return discriminator("global:" + name)
}

// AccountDiscriminator returns the data prefix of the named account type.
func AccountDiscriminator(name string) Discriminator {
	return discriminator("account:" + name)
}

func discriminator(preimage string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(preimage))
	copy(d[:], sum[:8])
	return d
}

// PlaceOrderParams are the instruction arguments of place_order.
type PlaceOrderParams struct {
	Side   Side
	Kind   Kind
	Amount codec.EncryptedValue
	Price  codec.EncryptedValue
	Nonce  uint64
	// Eligibility is attached when the pair requires an eligibility proof.
	Eligibility *proof.Proof
}

// PlaceOrderAccounts are the accounts place_order touches.
type PlaceOrderAccounts struct {
	Maker    address.Pubkey
	Exchange address.Pubkey
	Pair     address.Pubkey
	Order    address.Pubkey
	Balance  address.Pubkey
}

// PlaceOrderData encodes place_order arguments:
//
//	disc[8] | side u8 | kind u8 | amount[64] | price[64] | nonce u64 | has_proof u8 | proof[256]?
func PlaceOrderData(p PlaceOrderParams) []byte {
	disc := InstructionDiscriminator(InstructionPlaceOrder)
	data := make([]byte, 0, 8+2+2*codec.ValueSize+8+1+proof.ProofSize)
	data = append(data, disc[:]...)
	data = append(data, byte(p.Side), byte(p.Kind))
	data = append(data, p.Amount[:]...)
	data = append(data, p.Price[:]...)
	data = binary.LittleEndian.AppendUint64(data, p.Nonce)
	if p.Eligibility == nil {
		return append(data, 0)
	}
	data = append(data, 1)
	return append(data, p.Eligibility[:]...)
}

// PlaceOrder builds the place_order instruction.
func PlaceOrder(program address.Pubkey, accts PlaceOrderAccounts, p PlaceOrderParams) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: program,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(accts.Maker, true, true),
			ledger.Meta(accts.Exchange, false, false),
			ledger.Meta(accts.Pair, false, true),
			ledger.Meta(accts.Order, false, true),
			ledger.Meta(accts.Balance, false, true),
			ledger.Meta(address.SystemProgram, false, false),
		},
		Data: PlaceOrderData(p),
	}
}

// CancelOrder builds the cancel_order instruction.
func CancelOrder(program, maker, order address.Pubkey) ledger.Instruction {
	disc := InstructionDiscriminator(InstructionCancelOrder)
	return ledger.Instruction{
		ProgramID: program,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(maker, true, true),
			ledger.Meta(order, false, true),
		},
		Data: append([]byte(nil), disc[:]...),
	}
}

// MatchOrdersAccounts are the accounts match_orders touches.
type MatchOrdersAccounts struct {
	Payer       address.Pubkey
	Exchange    address.Pubkey
	BuyOrder    address.Pubkey
	SellOrder   address.Pubkey
	Computation address.ComputationAccounts
	MPCProgram  address.Pubkey
}

// MatchOrders builds the match_orders instruction, which queues the price
// comparison of two orders under computationOffset.
func MatchOrders(program address.Pubkey, accts MatchOrdersAccounts, computationOffset uint64) ledger.Instruction {
	disc := InstructionDiscriminator(InstructionMatchOrders)
	data := make([]byte, 0, 16)
	data = append(data, disc[:]...)
	data = binary.LittleEndian.AppendUint64(data, computationOffset)

	c := accts.Computation
	return ledger.Instruction{
		ProgramID: program,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(accts.Payer, true, true),
			ledger.Meta(accts.Exchange, false, false),
			ledger.Meta(accts.BuyOrder, false, true),
			ledger.Meta(accts.SellOrder, false, true),
			ledger.Meta(c.Signer, false, true),
			ledger.Meta(c.MXE, false, false),
			ledger.Meta(c.Mempool, false, true),
			ledger.Meta(c.Execpool, false, true),
			ledger.Meta(c.Computation, false, true),
			ledger.Meta(c.CompDef, false, false),
			ledger.Meta(c.Cluster, false, true),
			ledger.Meta(c.FeePool, false, true),
			ledger.Meta(c.Clock, false, false),
			ledger.Meta(address.SystemProgram, false, false),
			ledger.Meta(accts.MPCProgram, false, false),
		},
		Data: data,
	}
}
