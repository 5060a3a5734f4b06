package order

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/codec"
)

// Side of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide parses "buy" or "sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Kind of an order.
type Kind uint8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses "limit" or "market".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "limit":
		return Limit, nil
	case "market":
		return Market, nil
	default:
		return 0, fmt.Errorf("unknown order kind %q", s)
	}
}

// Status is the lifecycle state of an order. The program only moves an
// order forward; orders are never deleted.
type Status uint8

const (
	StatusOpen Status = iota
	StatusMatching
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusMatching:
		return "matching"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Order account layout.
const (
	AccountName = "Order"

	makerOfs     = 8
	pairOfs      = makerOfs + address.PubkeySize
	sideOfs      = pairOfs + address.PubkeySize
	kindOfs      = sideOfs + 1
	amountOfs    = kindOfs + 1
	priceOfs     = amountOfs + codec.ValueSize
	filledOfs    = priceOfs + codec.ValueSize
	nonceOfs     = filledOfs + codec.ValueSize
	statusOfs    = nonceOfs + 8
	createdAtOfs = statusOfs + 1
	bumpOfs      = createdAtOfs + 8

	// AccountSize is the size of an order account.
	AccountSize = bumpOfs + 1
)

// ErrInvalidOrderAccount is returned when account data is not an order.
var ErrInvalidOrderAccount = errors.New("invalid order account")

// Order is a decoded order account. Amount, Price and Filled are encrypted.
type Order struct {
	Address   address.Pubkey
	Maker     address.Pubkey
	Pair      address.Pubkey
	Side      Side
	Kind      Kind
	Amount    codec.EncryptedValue
	Price     codec.EncryptedValue
	Filled    codec.EncryptedValue
	Nonce     uint64
	Status    Status
	CreatedAt time.Time
	Bump      uint8
}

// DecodeOrder decodes order account data.
func DecodeOrder(data []byte) (*Order, error) {
	if len(data) < AccountSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidOrderAccount, len(data), AccountSize)
	}
	disc := AccountDiscriminator(AccountName)
	if !bytes.Equal(data[:8], disc[:]) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidOrderAccount)
	}

	o := &Order{
		Side:      Side(data[sideOfs]),
		Kind:      Kind(data[kindOfs]),
		Nonce:     binary.LittleEndian.Uint64(data[nonceOfs:]),
		Status:    Status(data[statusOfs]),
		CreatedAt: time.Unix(int64(binary.LittleEndian.Uint64(data[createdAtOfs:])), 0).UTC(),
		Bump:      data[bumpOfs],
	}
	copy(o.Maker[:], data[makerOfs:])
	copy(o.Pair[:], data[pairOfs:])
	copy(o.Amount[:], data[amountOfs:])
	copy(o.Price[:], data[priceOfs:])
	copy(o.Filled[:], data[filledOfs:])

	if o.Side > Sell || o.Kind > Market || o.Status > StatusCancelled {
		return nil, fmt.Errorf("%w: side %d kind %d status %d", ErrInvalidOrderAccount, o.Side, o.Kind, o.Status)
	}
	return o, nil
}

// Encode serializes o in the account layout.
func (o *Order) Encode() []byte {
	disc := AccountDiscriminator(AccountName)
	data := make([]byte, AccountSize)
	copy(data, disc[:])
	copy(data[makerOfs:], o.Maker[:])
	copy(data[pairOfs:], o.Pair[:])
	data[sideOfs] = byte(o.Side)
	data[kindOfs] = byte(o.Kind)
	copy(data[amountOfs:], o.Amount[:])
	copy(data[priceOfs:], o.Price[:])
	copy(data[filledOfs:], o.Filled[:])
	binary.LittleEndian.PutUint64(data[nonceOfs:], o.Nonce)
	data[statusOfs] = byte(o.Status)
	binary.LittleEndian.PutUint64(data[createdAtOfs:], uint64(o.CreatedAt.Unix()))
	data[bumpOfs] = o.Bump
	return data
}
