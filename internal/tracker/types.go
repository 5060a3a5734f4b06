package tracker

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LeJamon/goDarkpool/internal/address"
)

// Kind is the circuit a computation runs.
type Kind uint8

const (
	// KindCompare is the encrypted price comparison of a buy and a sell.
	KindCompare Kind = iota
	// KindFill is the fill calculation after a successful comparison.
	KindFill
)

func (k Kind) String() string {
	switch k {
	case KindCompare:
		return "compare"
	case KindFill:
		return "fill"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses the log name of a kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "compare":
		return KindCompare, nil
	case "fill":
		return KindFill, nil
	default:
		return 0, fmt.Errorf("unknown computation kind %q", s)
	}
}

// Status is the lifecycle state of a computation.
type Status uint8

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
	// StatusAbandoned marks a computation no result arrived for in time. It is
	// distinct from StatusFailed: the computation may still have run.
	StatusAbandoned
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// OrderRefs are the orders a computation is about.
type OrderRefs struct {
	Buy  address.Pubkey
	Sell address.Pubkey
}

// ComputationResult is the outcome reported by the ledger program.
type ComputationResult struct {
	RequestID []byte
	Kind      Kind
	Status    Status
	Refs      OrderRefs

	// Compare results.
	PricesMatch bool

	// Fill results.
	FillAmount uint64
	BuyFilled  bool
	SellFilled bool

	// Reason is set for failed computations.
	Reason string

	Signature string
	Slot      uint64
}

// PendingComputation is a tracked computation.
type PendingComputation struct {
	RequestID []byte
	Kind      Kind
	Refs      OrderRefs
	CreatedAt time.Time
	Status    Status
	Result    *ComputationResult

	seq uint64
}

func (p *PendingComputation) key() string {
	return requestKey(p.RequestID)
}

func (p *PendingComputation) clone() PendingComputation {
	c := *p
	c.RequestID = append([]byte(nil), p.RequestID...)
	if p.Result != nil {
		r := *p.Result
		c.Result = &r
	}
	return c
}

func requestKey(id []byte) string {
	return hex.EncodeToString(id)
}

// SubscriptionHandle identifies a registered listener.
type SubscriptionHandle uuid.UUID

func (h SubscriptionHandle) String() string {
	return uuid.UUID(h).String()
}
