// Package settlement moves the two legs of a matched trade between the
// counterparties, using the most private transfer mechanism available.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/metrics"
)

// ProviderID names a transfer mechanism.
type ProviderID string

const (
	Confidential ProviderID = "confidential"
	Shielded     ProviderID = "shielded"
	Public       ProviderID = "public"
)

// Order is the tier order providers are tried in.
var Order = []ProviderID{Confidential, Shielded, Public}

// LegName distinguishes the two legs of a trade.
type LegName string

const (
	// LegBase moves the base token from seller to buyer.
	LegBase LegName = "base"
	// LegQuote moves the quote token from buyer to seller.
	LegQuote LegName = "quote"
)

var (
	// ErrNotCounterparty is returned when the caller is neither buyer nor
	// seller.
	ErrNotCounterparty = errors.New("caller is not a counterparty of the trade")
	// ErrNoTransferProvider is returned when every tier failed a leg.
	ErrNoTransferProvider = errors.New("no transfer provider could settle the leg")
	// ErrShieldedUnavailable is returned when no shielded pool is configured.
	ErrShieldedUnavailable = errors.New("shielded pool unavailable")
	// ErrWrongSigner is returned when a leg's sender is not the signing key.
	ErrWrongSigner = errors.New("leg sender is not the signer")
	// ErrOutcomeUnknown matches *OutcomeUnknownError.
	ErrOutcomeUnknown = errors.New("leg outcome unknown")
)

// OutcomeUnknownError reports a leg whose transfer was sent but not
// confirmed. The transfer may still land, so no other tier is tried; check
// Signature on the ledger before settling the leg again.
type OutcomeUnknownError struct {
	Provider  ProviderID
	Leg       LegName
	Signature ledger.Signature
	Err       error
}

func (e *OutcomeUnknownError) Error() string {
	return fmt.Sprintf("%s leg sent via %s as %s but not confirmed: %v", e.Leg, e.Provider, e.Signature, e.Err)
}

func (e *OutcomeUnknownError) Unwrap() error { return e.Err }

func (e *OutcomeUnknownError) Is(target error) bool { return target == ErrOutcomeUnknown }

// Leg is one token movement.
type Leg struct {
	Name   LegName
	From   address.Pubkey
	To     address.Pubkey
	Mint   address.Pubkey
	Amount uint64
}

// Receipt records how a leg was settled.
type Receipt struct {
	Provider  ProviderID
	Signature ledger.Signature
	// Reference identifies settlements that have no ledger signature.
	Reference string
	// Hidden is true when the amount is not visible on the ledger.
	Hidden bool
	Fee    uint64
}

// TransferProvider is one settlement mechanism.
type TransferProvider interface {
	ID() ProviderID
	Available(ctx context.Context) bool
	Transfer(ctx context.Context, leg Leg) (Receipt, error)
}

// Request describes a matched trade from the caller's point of view.
type Request struct {
	Caller      address.Pubkey
	Buyer       address.Pubkey
	Seller      address.Pubkey
	BaseMint    address.Pubkey
	QuoteMint   address.Pubkey
	BaseAmount  uint64
	QuoteAmount uint64
}

// LegResult is an attempted leg. Err is nil for settled legs.
type LegResult struct {
	Leg     Leg
	Receipt Receipt
	Err     error
}

// Result is the outcome of Execute. Legs holds the settled legs and Failed
// the legs that could not be settled.
type Result struct {
	Legs   []LegResult
	Failed []LegResult
}

// Partial reports whether only one of the two legs was settled by this
// caller. The counterparty settles the other.
func (r *Result) Partial() bool {
	return len(r.Legs) < 2
}

// Hidden reports whether every settled leg kept its amount private.
func (r *Result) Hidden() bool {
	for _, l := range r.Legs {
		if !l.Receipt.Hidden {
			return false
		}
	}
	return len(r.Legs) > 0
}

// Legs returns the legs the caller is responsible for: the quote leg when
// buying, the base leg when selling, both for a self-trade.
func Legs(req Request) ([]Leg, error) {
	isBuyer := req.Caller == req.Buyer
	isSeller := req.Caller == req.Seller
	if !isBuyer && !isSeller {
		return nil, ErrNotCounterparty
	}

	var legs []Leg
	if isBuyer {
		legs = append(legs, Leg{
			Name:   LegQuote,
			From:   req.Buyer,
			To:     req.Seller,
			Mint:   req.QuoteMint,
			Amount: req.QuoteAmount,
		})
	}
	if isSeller {
		legs = append(legs, Leg{
			Name:   LegBase,
			From:   req.Seller,
			To:     req.Buyer,
			Mint:   req.BaseMint,
			Amount: req.BaseAmount,
		})
	}
	return legs, nil
}

// Cascade settles legs through the first provider that succeeds.
type Cascade struct {
	providers []TransferProvider
	logger    *zap.Logger
	rec       metrics.Recorder
	closers   []func(context.Context) error
}

// NewCascade orders providers by tier. Providers not named in Order are
// tried last.
func NewCascade(providers []TransferProvider, logger *zap.Logger, rec metrics.Recorder) *Cascade {
	ordered := make([]TransferProvider, 0, len(providers))
	for _, id := range Order {
		for _, p := range providers {
			if p.ID() == id {
				ordered = append(ordered, p)
			}
		}
	}
	for _, p := range providers {
		known := false
		for _, id := range Order {
			known = known || p.ID() == id
		}
		if !known {
			ordered = append(ordered, p)
		}
	}
	return &Cascade{
		providers: ordered,
		logger:    logging.OrNop(logger).Named("settlement"),
		rec:       metrics.OrNop(rec),
	}
}

// Providers returns the registered providers in tier order.
func (c *Cascade) Providers() []ProviderID {
	ids := make([]ProviderID, len(c.providers))
	for i, p := range c.providers {
		ids[i] = p.ID()
	}
	return ids
}

// Execute settles the caller's legs of a trade. Every leg is attempted; a
// failed leg is recorded in Result.Failed and its error joined into the
// returned error.
func (c *Cascade) Execute(ctx context.Context, req Request) (*Result, error) {
	legs, err := Legs(req)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var errs []error
	for _, leg := range legs {
		var receipt Receipt
		err := ctx.Err()
		if err == nil {
			receipt, err = c.settle(ctx, leg)
		}
		if err != nil {
			err = fmt.Errorf("settle %s leg: %w", leg.Name, err)
			result.Failed = append(result.Failed, LegResult{Leg: leg, Receipt: receipt, Err: err})
			errs = append(errs, err)
			continue
		}
		result.Legs = append(result.Legs, LegResult{Leg: leg, Receipt: receipt})
	}
	return result, errors.Join(errs...)
}

func (c *Cascade) settle(ctx context.Context, leg Leg) (Receipt, error) {
	var lastErr error
	for _, p := range c.providers {
		if !p.Available(ctx) {
			c.logger.Debug("transfer provider unavailable", zap.String("provider", string(p.ID())), zap.String("leg", string(leg.Name)))
			continue
		}
		receipt, err := p.Transfer(ctx, leg)
		if err == nil {
			c.rec.SettlementLeg(string(p.ID()), string(leg.Name), "ok")
			c.logger.Info("leg settled",
				zap.String("provider", string(p.ID())),
				zap.String("leg", string(leg.Name)),
				zap.Bool("hidden", receipt.Hidden),
				zap.Stringer("signature", receipt.Signature))
			return receipt, nil
		}

		var sent *ledger.UnconfirmedError
		if errors.As(err, &sent) {
			c.rec.SettlementLeg(string(p.ID()), string(leg.Name), "unknown")
			c.logger.Error("transfer sent but not confirmed, not falling back",
				zap.String("provider", string(p.ID())),
				zap.String("leg", string(leg.Name)),
				zap.Stringer("signature", sent.Signature),
				zap.Error(err))
			return Receipt{Provider: p.ID(), Signature: sent.Signature}, &OutcomeUnknownError{
				Provider:  p.ID(),
				Leg:       leg.Name,
				Signature: sent.Signature,
				Err:       err,
			}
		}

		c.rec.SettlementLeg(string(p.ID()), string(leg.Name), "failed")
		lastErr = fmt.Errorf("%s: %w", p.ID(), err)
		if ctx.Err() != nil {
			return Receipt{}, lastErr
		}
		c.logger.Warn("transfer failed, trying next tier",
			zap.String("provider", string(p.ID())), zap.String("leg", string(leg.Name)), zap.Error(err))
	}
	if lastErr == nil {
		return Receipt{}, ErrNoTransferProvider
	}
	return Receipt{}, fmt.Errorf("%w: %w", ErrNoTransferProvider, lastErr)
}

// Close releases provider resources such as the shielded pool runtime.
func (c *Cascade) Close(ctx context.Context) error {
	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// ShieldedBalance returns owner's balance of mint in the shielded pool.
func (c *Cascade) ShieldedBalance(ctx context.Context, owner, mint address.Pubkey) (uint64, error) {
	for _, p := range c.providers {
		if sp, ok := p.(*ShieldedProvider); ok {
			return sp.Balance(ctx, owner, mint)
		}
	}
	return 0, ErrShieldedUnavailable
}
