// encode.go - On-chain encodings of Groth16 proofs and public signals.
//
// The on-chain verifier consumes a fixed 256-byte proof:
//
//	A.x || A.y || B.x1 || B.x0 || B.y1 || B.y0 || C.x || C.y
//
// with 32-byte big-endian coordinates. Note the Fp2 ordering: the imaginary
// limb comes first, which is the verifier's convention and the reverse of
// the snarkjs JSON order. Public signals are length-prefixed (4-byte BE
// count) followed by 32 bytes per signal; the last signal is the nullifier.

package prover

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/iden3/go-rapidsnark/types"

	"darkpool/internal/field"
)

// ProofLen is the byte length of an encoded proof.
const ProofLen = 256

// EncodeProof validates the prover's G1/G2 points and packs them for the
// on-chain verifier.
func EncodeProof(p *types.ProofData) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil proof")
	}
	if len(p.A) < 2 || len(p.C) < 2 || len(p.B) < 2 || len(p.B[0]) < 2 || len(p.B[1]) < 2 {
		return nil, fmt.Errorf("malformed proof shape")
	}

	a, err := g1Point(p.A[0], p.A[1])
	if err != nil {
		return nil, fmt.Errorf("proof point A: %w", err)
	}
	// snarkjs stores Fp2 limbs real-first: B[i] = [x0, x1].
	b, err := g2Point(p.B[0][0], p.B[0][1], p.B[1][0], p.B[1][1])
	if err != nil {
		return nil, fmt.Errorf("proof point B: %w", err)
	}
	c, err := g1Point(p.C[0], p.C[1])
	if err != nil {
		return nil, fmt.Errorf("proof point C: %w", err)
	}

	out := make([]byte, 0, ProofLen)
	out = appendFp(out, &a.X)
	out = appendFp(out, &a.Y)
	out = appendFp(out, &b.X.A1) // x1 first
	out = appendFp(out, &b.X.A0)
	out = appendFp(out, &b.Y.A1)
	out = appendFp(out, &b.Y.A0)
	out = appendFp(out, &c.X)
	out = appendFp(out, &c.Y)
	return out, nil
}

// EncodePublicSignals packs the circuit's public signals with a 4-byte
// big-endian count prefix.
func EncodePublicSignals(signals []string) ([]byte, error) {
	out := make([]byte, 4, 4+len(signals)*field.ByteLen)
	binary.BigEndian.PutUint32(out, uint32(len(signals)))
	for i, s := range signals {
		x, err := field.FromDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("public signal %d: %w", i, err)
		}
		buf := field.Bytes32(x)
		out = append(out, buf[:]...)
	}
	return out, nil
}

// Nullifier extracts the circuit output (the last public signal).
func Nullifier(signals []string) (*big.Int, error) {
	if len(signals) == 0 {
		return nil, fmt.Errorf("no public signals")
	}
	return field.FromDecimal(signals[len(signals)-1])
}

// ProofHash is a short stable identifier for an encoded proof, used in
// events.
func ProofHash(proofBytes []byte) string {
	sum := sha256.Sum256(proofBytes)
	return hex.EncodeToString(sum[:])
}

func g1Point(xs, ys string) (*bn254.G1Affine, error) {
	x, err := baseField(xs)
	if err != nil {
		return nil, err
	}
	y, err := baseField(ys)
	if err != nil {
		return nil, err
	}
	var p bn254.G1Affine
	p.X.SetBigInt(x)
	p.Y.SetBigInt(y)
	if !p.IsOnCurve() {
		return nil, fmt.Errorf("point not on curve")
	}
	return &p, nil
}

func g2Point(x0s, x1s, y0s, y1s string) (*bn254.G2Affine, error) {
	coords := make([]*big.Int, 4)
	for i, s := range []string{x0s, x1s, y0s, y1s} {
		x, err := baseField(s)
		if err != nil {
			return nil, err
		}
		coords[i] = x
	}
	var p bn254.G2Affine
	p.X.A0.SetBigInt(coords[0])
	p.X.A1.SetBigInt(coords[1])
	p.Y.A0.SetBigInt(coords[2])
	p.Y.A1.SetBigInt(coords[3])
	if !p.IsOnCurve() {
		return nil, fmt.Errorf("point not on curve")
	}
	return &p, nil
}

func baseField(s string) (*big.Int, error) {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok || x.Sign() < 0 {
		return nil, fmt.Errorf("invalid coordinate %q", s)
	}
	if x.Cmp(fp.Modulus()) >= 0 {
		return nil, fmt.Errorf("coordinate %q exceeds base field", s)
	}
	return x, nil
}

func appendFp(dst []byte, e *fp.Element) []byte {
	buf := e.Bytes()
	return append(dst, buf[:]...)
}
