package order

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/proof"
	"github.com/LeJamon/goDarkpool/internal/tracker"
)

// ErrNotMaker is returned when cancelling an order the signer did not
// place.
var ErrNotMaker = errors.New("signer is not the order maker")

// Cipher encrypts and decrypts values. *cascade.Cascade implements it.
type Cipher interface {
	Encrypt(ctx context.Context, v uint64) (codec.EncryptedValue, error)
	Decrypt(ctx context.Context, ev codec.EncryptedValue) (uint64, error)
}

// Submitter sends instructions paid for and signed by its payer.
type Submitter interface {
	Payer() address.Pubkey
	Submit(ctx context.Context, instructions []ledger.Instruction, signers ...ledger.Signer) (ledger.Signature, error)
}

// Tracker registers queued computations.
type Tracker interface {
	Track(requestID []byte, kind tracker.Kind, refs tracker.OrderRefs) *tracker.PendingComputation
}

// Config holds the ids and cluster the client targets.
type Config struct {
	Darkpool      address.Pubkey
	MPC           address.Pubkey
	ClusterOffset uint32
}

// Client places, cancels and matches orders.
type Client struct {
	cfg       Config
	ledger    ledger.Client
	submitter Submitter
	deriver   *address.Deriver
	cipher    Cipher
	tracker   Tracker
	logger    *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, client ledger.Client, submitter Submitter, deriver *address.Deriver, cipher Cipher, tr Tracker, logger *zap.Logger) *Client {
	return &Client{
		cfg:       cfg,
		ledger:    client,
		submitter: submitter,
		deriver:   deriver,
		cipher:    cipher,
		tracker:   tr,
		logger:    logging.OrNop(logger).Named("order"),
	}
}

// PlaceRequest describes a new order in base units.
type PlaceRequest struct {
	BaseMint    address.Pubkey
	QuoteMint   address.Pubkey
	Side        Side
	Kind        Kind
	Amount      uint64
	Price       uint64
	Nonce       uint64
	Eligibility *proof.Proof
}

// Placed is a submitted order.
type Placed struct {
	Order     address.Pubkey
	Signature ledger.Signature
}

// PlaceOrder encrypts amount and price and submits place_order. The payer is
// the maker.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceRequest) (*Placed, error) {
	maker := c.submitter.Payer()

	amount, err := c.cipher.Encrypt(ctx, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("encrypt amount: %w", err)
	}
	price, err := c.cipher.Encrypt(ctx, req.Price)
	if err != nil {
		return nil, fmt.Errorf("encrypt price: %w", err)
	}

	exchange, err := c.deriver.Exchange()
	if err != nil {
		return nil, err
	}
	pair, err := c.deriver.Pair(req.BaseMint, req.QuoteMint)
	if err != nil {
		return nil, err
	}
	ord, err := c.deriver.Order(maker, req.Nonce)
	if err != nil {
		return nil, err
	}
	// Buyers lock quote, sellers lock base.
	lockMint := req.QuoteMint
	if req.Side == Sell {
		lockMint = req.BaseMint
	}
	balance, err := c.deriver.Balance(maker, lockMint)
	if err != nil {
		return nil, err
	}

	ix := PlaceOrder(c.cfg.Darkpool, PlaceOrderAccounts{
		Maker:    maker,
		Exchange: exchange.Address,
		Pair:     pair.Address,
		Order:    ord.Address,
		Balance:  balance.Address,
	}, PlaceOrderParams{
		Side:        req.Side,
		Kind:        req.Kind,
		Amount:      amount,
		Price:       price,
		Nonce:       req.Nonce,
		Eligibility: req.Eligibility,
	})

	sig, err := c.submitter.Submit(ctx, []ledger.Instruction{ix})
	if err != nil {
		return nil, fmt.Errorf("submit place_order: %w", err)
	}
	c.logger.Info("order placed",
		zap.Stringer("order", ord.Address),
		zap.Stringer("side", req.Side),
		zap.Stringer("amount_format", amount.Format()),
		zap.Stringer("signature", sig))
	return &Placed{Order: ord.Address, Signature: sig}, nil
}

// CancelOrder cancels an order placed by the payer.
func (c *Client) CancelOrder(ctx context.Context, orderAddr address.Pubkey) (ledger.Signature, error) {
	o, err := c.FetchOrder(ctx, orderAddr)
	if err != nil {
		return ledger.Signature{}, err
	}
	maker := c.submitter.Payer()
	if o.Maker != maker {
		return ledger.Signature{}, ErrNotMaker
	}

	sig, err := c.submitter.Submit(ctx, []ledger.Instruction{CancelOrder(c.cfg.Darkpool, maker, orderAddr)})
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("submit cancel_order: %w", err)
	}
	c.logger.Info("order cancelled", zap.Stringer("order", orderAddr), zap.Stringer("signature", sig))
	return sig, nil
}

// MatchRequest is a queued price comparison.
type MatchRequest struct {
	ComputationOffset uint64
	RequestID         []byte
	Signature         ledger.Signature
	Pending           *tracker.PendingComputation
}

// RequestMatch queues the price comparison of buy and sell under a fresh
// computation offset and tracks it.
func (c *Client) RequestMatch(ctx context.Context, buy, sell address.Pubkey) (*MatchRequest, error) {
	offset, err := address.RandomComputationOffset()
	if err != nil {
		return nil, err
	}
	comp, err := c.deriver.ComputationAccountsFor(c.cfg.ClusterOffset, offset, CircuitComparePrices)
	if err != nil {
		return nil, err
	}
	exchange, err := c.deriver.Exchange()
	if err != nil {
		return nil, err
	}

	ix := MatchOrders(c.cfg.Darkpool, MatchOrdersAccounts{
		Payer:       c.submitter.Payer(),
		Exchange:    exchange.Address,
		BuyOrder:    buy,
		SellOrder:   sell,
		Computation: comp,
		MPCProgram:  c.cfg.MPC,
	}, offset)

	sig, err := c.submitter.Submit(ctx, []ledger.Instruction{ix})
	if err != nil {
		return nil, fmt.Errorf("submit match_orders: %w", err)
	}

	id := tracker.RequestID(offset)
	pending := c.tracker.Track(id, tracker.KindCompare, tracker.OrderRefs{Buy: buy, Sell: sell})
	c.logger.Info("match requested",
		zap.Uint64("computation_offset", offset),
		zap.Stringer("buy", buy),
		zap.Stringer("sell", sell),
		zap.Stringer("signature", sig))
	return &MatchRequest{ComputationOffset: offset, RequestID: id, Signature: sig, Pending: pending}, nil
}

// FetchOrder reads and decodes an order account.
func (c *Client) FetchOrder(ctx context.Context, orderAddr address.Pubkey) (*Order, error) {
	info, err := c.ledger.GetAccountInfo(ctx, orderAddr)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderAddr, err)
	}
	o, err := DecodeOrder(info.Data)
	if err != nil {
		return nil, err
	}
	o.Address = orderAddr
	return o, nil
}

// Revealed holds the decrypted fields of an order.
type Revealed struct {
	Amount uint64
	Price  uint64
	Filled uint64
}

// Reveal decrypts the order's amount, price and filled fields. An all-zero
// filled field means nothing has been filled yet.
func (c *Client) Reveal(ctx context.Context, o *Order) (Revealed, error) {
	var r Revealed
	var err error
	if r.Amount, err = c.cipher.Decrypt(ctx, o.Amount); err != nil {
		return Revealed{}, fmt.Errorf("decrypt amount: %w", err)
	}
	if r.Price, err = c.cipher.Decrypt(ctx, o.Price); err != nil {
		return Revealed{}, fmt.Errorf("decrypt price: %w", err)
	}
	if !o.Filled.IsZero() {
		if r.Filled, err = c.cipher.Decrypt(ctx, o.Filled); err != nil {
			return Revealed{}, fmt.Errorf("decrypt filled: %w", err)
		}
	}
	return r, nil
}
