package address

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	// MaxSeeds is the maximum number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLen is the maximum length of a single seed.
	MaxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	// ErrMaxSeedsExceeded is returned when too many seeds are supplied.
	ErrMaxSeedsExceeded = errors.New("max seeds exceeded")
	// ErrSeedTooLong is returned when a seed exceeds MaxSeedLen.
	ErrSeedTooLong = errors.New("seed exceeds max length")
	// ErrOnCurve is returned when a candidate address lies on the curve.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")
	// ErrNoViableBump is returned when no bump produces an off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump")
)

// CreateProgramAddress hashes seeds with the program id and rejects results
// that are valid ed25519 points.
func CreateProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Pubkey{}, ErrMaxSeedsExceeded
	}

	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Pubkey{}, fmt.Errorf("%w: seed %d is %d bytes", ErrSeedTooLong, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write(pdaMarker)

	var pk Pubkey
	copy(pk[:], h.Sum(nil))
	if pk.IsOnCurve() {
		return Pubkey{}, ErrOnCurve
	}
	return pk, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{0}

	for b := 255; b >= 0; b-- {
		bump[0] = uint8(b)
		withBump[len(seeds)] = bump
		pk, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return pk, uint8(b), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Pubkey{}, 0, err
		}
	}
	return Pubkey{}, 0, ErrNoViableBump
}
