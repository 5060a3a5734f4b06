// Package ledger is a client for the ledger node: JSON-RPC over HTTP for
// account reads and transaction submission, and a websocket log stream for
// program events.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Commitment levels understood by the node.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// rank orders commitment levels; unknown levels rank lowest.
func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Reaches reports whether c is at least as strong as target.
func (c Commitment) Reaches(target Commitment) bool {
	return c.rank() >= target.rank() && c.rank() > 0
}

var (
	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTransactionFailed is returned when a confirmed transaction carries an
	// execution error.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrInvalidSignature is returned when a signature cannot be parsed.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidHash is returned when a blockhash cannot be parsed.
	ErrInvalidHash = errors.New("invalid hash")
	// ErrUnconfirmed matches *UnconfirmedError.
	ErrUnconfirmed = errors.New("transaction sent but not confirmed")
)

// UnconfirmedError is returned by Submit when a transaction was sent but its
// outcome could not be established. It may still land.
type UnconfirmedError struct {
	Signature Signature
	Err       error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("transaction %s sent but not confirmed: %v", e.Signature, e.Err)
}

func (e *UnconfirmedError) Unwrap() error { return e.Err }

func (e *UnconfirmedError) Is(target error) bool { return target == ErrUnconfirmed }

// jsonRPCRequest is a JSON-RPC 2.0 request.
type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// jsonRPCResponse is a JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HashSize is the size of a blockhash.
const HashSize = 32

// Hash is a recent blockhash.
type Hash [HashSize]byte

// ParseHash decodes a base58 blockhash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := base58.Decode(s)
	if err != nil || len(b) != HashSize {
		return h, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

// SignatureSize is the size of an ed25519 transaction signature.
const SignatureSize = 64

// Signature identifies a transaction.
type Signature [SignatureSize]byte

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	b, err := base58.Decode(s)
	if err != nil || len(b) != SignatureSize {
		return sig, fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}
	copy(sig[:], b)
	return sig, nil
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// IsZero reports whether the signature is unset.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// AccountInfo is the state of an account.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte
	Executable bool
	RentEpoch  uint64
	Slot       uint64
}

// Blockhash is a recent blockhash and the last block height it is valid for.
type Blockhash struct {
	Hash                 Hash
	LastValidBlockHeight uint64
}

// SignatureStatus is the processing state of a submitted transaction.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	Err                json.RawMessage
	ConfirmationStatus Commitment
}

// Failed reports whether the transaction executed with an error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// LogNotification is one transaction's program logs.
type LogNotification struct {
	Slot      uint64
	Signature string
	Err       json.RawMessage
	Logs      []string
}

// Failed reports whether the transaction that produced the logs failed.
func (n LogNotification) Failed() bool {
	return len(n.Err) > 0 && string(n.Err) != "null"
}

// wire shapes of RPC results

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type accountInfoResult struct {
	Context rpcContext `json:"context"`
	Value   *struct {
		Lamports   uint64   `json:"lamports"`
		Owner      string   `json:"owner"`
		Data       []string `json:"data"`
		Executable bool     `json:"executable"`
		RentEpoch  uint64   `json:"rentEpoch"`
	} `json:"value"`
}

type blockhashResult struct {
	Context rpcContext `json:"context"`
	Value   struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

type signatureStatusesResult struct {
	Context rpcContext `json:"context"`
	Value   []*struct {
		Slot               uint64          `json:"slot"`
		Confirmations      *uint64         `json:"confirmations"`
		Err                json.RawMessage `json:"err"`
		ConfirmationStatus Commitment      `json:"confirmationStatus"`
	} `json:"value"`
}

type logsNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Context rpcContext `json:"context"`
			Value   struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}
