// Package proof requests eligibility proofs from the external prover service.
//
// A proof is a Groth16 proof over BN254 serialized as three uncompressed
// points, A (G1), B (G2) and C (G1), 256 bytes in total.
package proof

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
)

// ProofSize is the serialized size of a proof.
const ProofSize = 256

const (
	g1Size = bn254.SizeOfG1AffineUncompressed
	g2Size = bn254.SizeOfG2AffineUncompressed
)

var (
	// ErrProofService is wrapped by every failure talking to the prover.
	ErrProofService = errors.New("proof service error")
	// ErrInvalidProofSize is returned when the prover answers with the wrong
	// number of bytes.
	ErrInvalidProofSize = errors.New("invalid proof size")
	// ErrMalformedProof is returned when a proof point is not on the curve.
	ErrMalformedProof = errors.New("malformed proof")
)

// Proof is a serialized eligibility proof.
type Proof [ProofSize]byte

// FromBytes copies b into a Proof after checking its length and points.
func FromBytes(b []byte) (Proof, error) {
	var p Proof
	if len(b) != ProofSize {
		return p, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidProofSize, len(b), ProofSize)
	}
	copy(p[:], b)
	if err := p.Validate(); err != nil {
		return Proof{}, err
	}
	return p, nil
}

// Points decodes the proof's A, B and C points.
func (p Proof) Points() (a bn254.G1Affine, b bn254.G2Affine, c bn254.G1Affine, err error) {
	if err = a.Unmarshal(p[:g1Size]); err != nil {
		return a, b, c, fmt.Errorf("%w: A: %v", ErrMalformedProof, err)
	}
	if err = b.Unmarshal(p[g1Size : g1Size+g2Size]); err != nil {
		return a, b, c, fmt.Errorf("%w: B: %v", ErrMalformedProof, err)
	}
	if err = c.Unmarshal(p[g1Size+g2Size:]); err != nil {
		return a, b, c, fmt.Errorf("%w: C: %v", ErrMalformedProof, err)
	}
	return a, b, c, nil
}

// Validate checks that every point is a non-identity point of its group.
func (p Proof) Validate() error {
	a, b, c, err := p.Points()
	if err != nil {
		return err
	}
	if a.IsInfinity() || b.IsInfinity() || c.IsInfinity() {
		return fmt.Errorf("%w: point at infinity", ErrMalformedProof)
	}
	return nil
}

// Encode serializes proof points.
func Encode(a *bn254.G1Affine, b *bn254.G2Affine, c *bn254.G1Affine) Proof {
	var p Proof
	ab := a.RawBytes()
	bb := b.RawBytes()
	cb := c.RawBytes()
	copy(p[:g1Size], ab[:])
	copy(p[g1Size:g1Size+g2Size], bb[:])
	copy(p[g1Size+g2Size:], cb[:])
	return p
}
