// Package provider defines the confidential-computation backends the
// encryption cascade chooses between.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeJamon/goDarkpool/internal/codec"
)

// ID names a provider.
type ID string

const (
	// MPC is the production multi-party computation cluster.
	MPC ID = "mpc"
	// TEE is the trusted-execution covalidator.
	TEE ID = "tee"
	// MPCDemo is the MPC scheme against a locally generated cluster key.
	MPCDemo ID = "mpc-demo"
	// Plaintext is the development fallback; values are not hidden.
	Plaintext ID = "plaintext"
)

// AutoOrder is the order providers are tried in when nothing is forced or
// preferred.
var AutoOrder = []ID{MPC, TEE, MPCDemo, Plaintext}

func (id ID) String() string { return string(id) }

// Tier ranks providers; a lower value is stronger.
type Tier int

const (
	TierProduction Tier = iota
	TierHardware
	TierDemo
	TierFallback
)

func (t Tier) String() string {
	switch t {
	case TierProduction:
		return "production"
	case TierHardware:
		return "hardware"
	case TierDemo:
		return "demo"
	case TierFallback:
		return "fallback"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Provider is one confidential-computation backend.
type Provider interface {
	ID() ID
	Tier() Tier
	// Initialize prepares the provider; it may contact remote services.
	Initialize(ctx context.Context) error
	// Ready reports whether Initialize succeeded and the provider has not
	// since been marked unavailable.
	Ready() bool
	// Confidential reports whether values are hidden from the ledger.
	Confidential() bool
	Handles(format codec.FormatTag) bool
	Encrypt(ctx context.Context, value uint64) (codec.Payload, error)
	Decrypt(ctx context.Context, payload codec.Payload) (uint64, error)
}

var (
	// ErrNotInitialized is returned by providers used before Initialize.
	ErrNotInitialized = errors.New("provider not initialized")
	// ErrUnsupportedPayload is returned when a provider is handed a payload
	// format it does not produce.
	ErrUnsupportedPayload = errors.New("unsupported payload format")
	// ErrForeignCiphertext is returned when a ciphertext was produced by a
	// different session.
	ErrForeignCiphertext = errors.New("ciphertext belongs to another session")
)

// Error attributes a failure to a provider and operation.
type Error struct {
	Provider ID
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err attributed to provider and op, or nil when err is nil.
// Errors already attributed are returned unchanged.
func Wrap(id ID, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Provider: id, Op: op, Err: err}
}
