package ledger

import (
	"errors"
	"fmt"

	"github.com/LeJamon/goDarkpool/internal/address"
)

// MaxTransactionSize is the largest serialized transaction the node accepts.
const MaxTransactionSize = 1232

var (
	// ErrNoInstructions is returned when compiling an empty message.
	ErrNoInstructions = errors.New("message has no instructions")
	// ErrTooManyAccounts is returned when a message references more than 256
	// accounts.
	ErrTooManyAccounts = errors.New("message references too many accounts")
	// ErrTransactionTooLarge is returned when a transaction exceeds
	// MaxTransactionSize.
	ErrTransactionTooLarge = errors.New("transaction too large")
	// ErrMissingSigner is returned when a required signer is not provided.
	ErrMissingSigner = errors.New("missing signer")
)

// AccountMeta is an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     address.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Meta is shorthand for building an AccountMeta.
func Meta(pk address.Pubkey, signer, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: signer, IsWritable: writable}
}

// Instruction is one program invocation.
type Instruction struct {
	ProgramID address.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader counts the signer and read-only sections of the key list.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into the message keys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is a compiled legacy transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []address.Pubkey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// CompileMessage orders every referenced account (fee payer first, then
// writable signers, read-only signers, writable non-signers and read-only
// non-signers) and rewrites instructions against that ordering.
func CompileMessage(payer address.Pubkey, blockhash Hash, instructions ...Instruction) (*Message, error) {
	if len(instructions) == 0 {
		return nil, ErrNoInstructions
	}

	type entry struct {
		signer, writable bool
	}
	order := []address.Pubkey{payer}
	flags := map[address.Pubkey]*entry{payer: {signer: true, writable: true}}
	touch := func(pk address.Pubkey, signer, writable bool) {
		e, ok := flags[pk]
		if !ok {
			e = &entry{}
			flags[pk] = e
			order = append(order, pk)
		}
		e.signer = e.signer || signer
		e.writable = e.writable || writable
	}
	for _, ix := range instructions {
		for _, m := range ix.Accounts {
			touch(m.Pubkey, m.IsSigner, m.IsWritable)
		}
		touch(ix.ProgramID, false, false)
	}

	var sections [4][]address.Pubkey
	for _, pk := range order {
		e := flags[pk]
		switch {
		case e.signer && e.writable:
			sections[0] = append(sections[0], pk)
		case e.signer:
			sections[1] = append(sections[1], pk)
		case e.writable:
			sections[2] = append(sections[2], pk)
		default:
			sections[3] = append(sections[3], pk)
		}
	}

	keys := make([]address.Pubkey, 0, len(order))
	for _, s := range sections {
		keys = append(keys, s...)
	}
	if len(keys) > 256 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyAccounts, len(keys))
	}
	index := make(map[address.Pubkey]uint8, len(keys))
	for i, pk := range keys {
		index[pk] = uint8(i)
	}

	msg := &Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(sections[0]) + len(sections[1])),
			NumReadonlySignedAccounts:   uint8(len(sections[1])),
			NumReadonlyUnsignedAccounts: uint8(len(sections[3])),
		},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
	}
	for _, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           ix.Data,
		}
		for i, m := range ix.Accounts {
			ci.Accounts[i] = index[m.Pubkey]
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Signers returns the keys that must sign the message, in order.
func (m *Message) Signers() []address.Pubkey {
	return m.AccountKeys[:m.Header.NumRequiredSignatures]
}

// IsWritable reports whether the key at index i is writable.
func (m *Message) IsWritable(i int) bool {
	h := m.Header
	numSigners := int(h.NumRequiredSignatures)
	if i < numSigners {
		return i < numSigners-int(h.NumReadonlySignedAccounts)
	}
	return i < len(m.AccountKeys)-int(h.NumReadonlyUnsignedAccounts)
}

// Serialize encodes the message in the wire format that is signed.
func (m *Message) Serialize() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, m.Header.NumRequiredSignatures, m.Header.NumReadonlySignedAccounts, m.Header.NumReadonlyUnsignedAccounts)
	buf = AppendCompactU16(buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = AppendCompactU16(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		buf = AppendCompactU16(buf, len(ix.Accounts))
		buf = append(buf, ix.Accounts...)
		buf = AppendCompactU16(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Transaction is a message with its signatures.
type Transaction struct {
	Signatures []Signature
	Message    *Message
}

// SignTransaction signs msg with every required signer. Extra signers are
// ignored.
func SignTransaction(msg *Message, signers ...Signer) (*Transaction, error) {
	byKey := make(map[address.Pubkey]Signer, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}

	payload := msg.Serialize()
	required := msg.Signers()
	tx := &Transaction{Signatures: make([]Signature, len(required)), Message: msg}
	for i, pk := range required {
		s, ok := byKey[pk]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSigner, pk)
		}
		sig, err := s.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("sign with %s: %w", pk, err)
		}
		tx.Signatures[i] = sig
	}
	return tx, nil
}

// Serialize encodes the signed transaction for sendTransaction.
func (tx *Transaction) Serialize() ([]byte, error) {
	msg := tx.Message.Serialize()
	buf := make([]byte, 0, 1+len(tx.Signatures)*SignatureSize+len(msg))
	buf = AppendCompactU16(buf, len(tx.Signatures))
	for _, s := range tx.Signatures {
		buf = append(buf, s[:]...)
	}
	buf = append(buf, msg...)
	if len(buf) > MaxTransactionSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTransactionTooLarge, len(buf))
	}
	return buf, nil
}

// Signature returns the transaction id: the fee payer's signature.
func (tx *Transaction) Signature() Signature {
	if len(tx.Signatures) == 0 {
		return Signature{}
	}
	return tx.Signatures[0]
}

// AppendCompactU16 appends n in the variable-length encoding used for
// lengths inside messages: seven bits per byte, high bit set on all but the
// last byte.
func AppendCompactU16(buf []byte, n int) []byte {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// DecodeCompactU16 decodes a compact-u16 and returns the value and the number
// of bytes read.
func DecodeCompactU16(b []byte) (int, int, error) {
	var v int
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("compact-u16: truncated")
		}
		v |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, errors.New("compact-u16: overflow")
}
