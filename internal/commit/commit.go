// commit.go - Order commitments, asset hashes, and nullifier derivation.
//
// A commitment binds an order's parameters under Poseidon:
//
//	commitment = Poseidon(assetHash, side, quantity, price, nonce, secret)
//
// The nullifier ties a matched pair together and prevents double-settlement
// on-chain:
//
//	nullifier = Poseidon(buyCommit, sellCommit, quantity, buyerSecret + sellerSecret)
//
// The additive secret combination makes the nullifier symmetric in the two
// parties.

package commit

import (
	"fmt"
	"math/big"

	"darkpool/internal/field"
)

// Opening is the private data returned alongside a fresh commitment. The
// trader keeps secret and nonce; both are needed for settlement.
type Opening struct {
	Commitment *big.Int
	Secret     *big.Int
	Nonce      *big.Int
}

// HashAsset maps an opaque asset address to a field element: the address
// bytes are read as a big-endian integer, reduced mod r, and hashed.
func HashAsset(addr string) (*big.Int, error) {
	x := field.ReduceBytes([]byte(addr))
	return field.Poseidon(x)
}

// Commitment recomputes a commitment from its explicit opening. Used to
// check reproducibility at the submission boundary.
func Commitment(assetHash *big.Int, side uint8, quantity, price int64, nonce, secret *big.Int) (*big.Int, error) {
	if quantity <= 0 || price <= 0 {
		return nil, fmt.Errorf("commitment requires positive quantity and price")
	}
	return field.Poseidon(
		assetHash,
		big.NewInt(int64(side)),
		big.NewInt(quantity),
		big.NewInt(price),
		nonce,
		secret,
	)
}

// GenerateOrderCommitment draws a fresh secret and nonce from the CSPRNG and
// commits to the order parameters. Predictable values here leak order
// intent, so both come from field.Random (uniform over Fr).
func GenerateOrderCommitment(assetHash *big.Int, side uint8, quantity, price int64) (*Opening, error) {
	secret, err := field.Random()
	if err != nil {
		return nil, err
	}
	nonce, err := field.Random()
	if err != nil {
		return nil, err
	}
	c, err := Commitment(assetHash, side, quantity, price, nonce, secret)
	if err != nil {
		return nil, err
	}
	return &Opening{Commitment: c, Secret: secret, Nonce: nonce}, nil
}

// ComputeNullifier derives the one-time settlement tag for a matched pair.
// Secrets enter via their field sum, so the result is independent of which
// side is passed first.
func ComputeNullifier(buyCommit, sellCommit *big.Int, quantity int64, buyerSecret, sellerSecret *big.Int) (*big.Int, error) {
	if buyCommit == nil || sellCommit == nil || buyerSecret == nil || sellerSecret == nil {
		return nil, fmt.Errorf("nullifier requires both commitments and both secrets")
	}
	sum := field.Reduce(new(big.Int).Add(buyerSecret, sellerSecret))
	return field.Poseidon(buyCommit, sellCommit, big.NewInt(quantity), sum)
}
