// field.go - BN254 scalar-field arithmetic and Poseidon hashing.
//
// All commitments, nullifiers, and Merkle nodes live in the BN254 scalar
// field Fr. On the wire a field element is a fixed 32-byte big-endian buffer
// or a decimal string; internally everything is a canonical (least-residue)
// *big.Int. Poseidon uses the circomlib round constants and MDS matrix, so
// every hash here is bit-compatible with the settlement circuit.

package field

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// ByteLen is the wire size of one field element.
const ByteLen = 32

// Modulus returns the BN254 scalar prime r.
func Modulus() *big.Int {
	return fr.Modulus()
}

// Reduce canonicalizes x to its least residue mod r. The input is not
// mutated.
func Reduce(x *big.Int) *big.Int {
	return new(big.Int).Mod(x, fr.Modulus())
}

// ReduceBytes interprets b as a big-endian integer and reduces it mod r.
// This is how opaque identifiers (asset addresses, trader IDs) enter the
// field.
func ReduceBytes(b []byte) *big.Int {
	return Reduce(new(big.Int).SetBytes(b))
}

// Bytes32 encodes x as a fixed 32-byte big-endian buffer.
func Bytes32(x *big.Int) [ByteLen]byte {
	var e fr.Element
	e.SetBigInt(Reduce(x))
	return e.Bytes()
}

// FromBytes32 decodes a 32-byte big-endian buffer into a canonical element.
func FromBytes32(buf [ByteLen]byte) *big.Int {
	return ReduceBytes(buf[:])
}

// FromDecimal parses a base-10 field element string.
func FromDecimal(s string) (*big.Int, error) {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid field element %q", s)
	}
	if x.Sign() < 0 {
		return nil, fmt.Errorf("negative field element %q", s)
	}
	return Reduce(x), nil
}

// Decimal renders x as its canonical base-10 string.
func Decimal(x *big.Int) string {
	return Reduce(x).String()
}

// Random draws a uniform field element from crypto/rand. Secrets and nonces
// must be indistinguishable from uniform over Fr; fr.Element.SetRandom
// rejection-samples from the CSPRNG.
func Random() (*big.Int, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return nil, fmt.Errorf("field randomness: %w", err)
	}
	return e.BigInt(new(big.Int)), nil
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("randomness: %w", err)
	}
	return b, nil
}

// Poseidon hashes the inputs with the circomlib parameters for the matching
// arity (t = len+1). Inputs are canonicalized first; the output is the least
// residue. Deterministic and pure.
func Poseidon(inputs ...*big.Int) (*big.Int, error) {
	reduced := make([]*big.Int, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("poseidon: nil input at position %d", i)
		}
		reduced[i] = Reduce(in)
	}
	out, err := poseidon.Hash(reduced)
	if err != nil {
		return nil, fmt.Errorf("poseidon: %w", err)
	}
	return out, nil
}
