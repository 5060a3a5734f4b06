package address

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// Namespace identifies a family of derived accounts by its leading seed.
// The values mirror the seed constants compiled into the on-chain programs.
type Namespace string

// Darkpool program namespaces
const (
	NamespaceExchange Namespace = "exchange"
	NamespacePair     Namespace = "pair"
	NamespaceOrder    Namespace = "order"
	NamespaceBalance  Namespace = "user_balance"
	NamespaceSigner   Namespace = "SignerAccount"
)

// MPC program namespaces
const (
	NamespaceMXE         Namespace = "MXEAccount"
	NamespaceMempool     Namespace = "Mempool"
	NamespaceExecpool    Namespace = "Execpool"
	NamespaceComputation Namespace = "ComputationAccount"
	NamespaceCompDef     Namespace = "ComputationDefinitionAccount"
	NamespaceCluster     Namespace = "Cluster"
	NamespaceFeePool     Namespace = "FeePool"
	NamespaceClock       Namespace = "ClockAccount"
)

// Derived is an address together with its bump and the namespace that
// produced it.
type Derived struct {
	Namespace Namespace
	Address   Pubkey
	Bump      uint8
}

// Derive finds the program address for namespace and key material.
func Derive(ns Namespace, program Pubkey, keyMaterial ...[]byte) (Derived, error) {
	seeds := make([][]byte, 0, len(keyMaterial)+1)
	seeds = append(seeds, []byte(ns))
	seeds = append(seeds, keyMaterial...)

	pk, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		return Derived{}, err
	}
	return Derived{Namespace: ns, Address: pk, Bump: bump}, nil
}

// U64Seed encodes v as an 8-byte little-endian seed.
func U64Seed(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// U32Seed encodes v as a 4-byte little-endian seed.
func U32Seed(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// CompDefOffset returns the computation-definition offset for a circuit name:
// the first four bytes of SHA-256(name), little-endian.
func CompDefOffset(name string) uint32 {
	sum := sha256.Sum256([]byte(name))
	return binary.LittleEndian.Uint32(sum[:4])
}

// RandomComputationOffset returns a fresh random computation offset.
func RandomComputationOffset() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return 0, fmt.Errorf("computation offset: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
