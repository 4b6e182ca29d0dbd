// witness.go - Witness assembly for the settlement circuit.

package prover

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"darkpool/internal/book"
	"darkpool/internal/commit"
	"darkpool/internal/field"
	"darkpool/internal/whitelist"
)

// BuildWitness assembles the circuit input map for one match against a
// whitelist snapshot. Field names follow the circuit exactly.
//
// Private inputs: both traders' leaf hashes and Merkle paths, both orders'
// secrets and nonces. Public inputs: both commitments, the asset hash, the
// matched quantity, the execution price, and the whitelist root.
func BuildWitness(m *book.Match, tree *whitelist.Tree, log *zap.Logger) (map[string]any, error) {
	if tree == nil {
		return nil, fmt.Errorf("no whitelist snapshot")
	}

	// The matcher guarantees these equalities under the exact-quantity
	// policy; a violation means the commitments were bound to different
	// values and the circuit will reject the witness.
	if m.ExecutionQuantity != m.Buy.Quantity || m.ExecutionQuantity != m.Sell.Quantity {
		log.Warn("execution quantity diverges from order quantities",
			zap.String("matchId", m.ID),
			zap.Int64("executionQuantity", m.ExecutionQuantity),
			zap.Int64("buyQuantity", m.Buy.Quantity),
			zap.Int64("sellQuantity", m.Sell.Quantity),
		)
	}
	if m.ExecutionPrice != m.Buy.Price || m.ExecutionPrice != m.Sell.Price {
		log.Warn("execution price diverges from committed prices",
			zap.String("matchId", m.ID),
			zap.Int64("executionPrice", m.ExecutionPrice),
			zap.Int64("buyPrice", m.Buy.Price),
			zap.Int64("sellPrice", m.Sell.Price),
		)
	}

	assetHash, err := commit.HashAsset(m.Buy.Asset)
	if err != nil {
		return nil, fmt.Errorf("asset hash: %w", err)
	}

	buyerLeaf, buyerProof, err := memberPath(tree, m.Buy)
	if err != nil {
		return nil, fmt.Errorf("buyer whitelist path: %w", err)
	}
	sellerLeaf, sellerProof, err := memberPath(tree, m.Sell)
	if err != nil {
		return nil, fmt.Errorf("seller whitelist path: %w", err)
	}

	return map[string]any{
		"buyerIdHash":         buyerLeaf,
		"sellerIdHash":        sellerLeaf,
		"buyerMerkleProof":    siblingsOf(buyerProof),
		"buyerMerkleIndices":  indicesOf(buyerProof),
		"sellerMerkleProof":   siblingsOf(sellerProof),
		"sellerMerkleIndices": indicesOf(sellerProof),
		"buySecret":           m.Buy.Secret,
		"buyNonce":            m.Buy.Nonce,
		"sellSecret":          m.Sell.Secret,
		"sellNonce":           m.Sell.Nonce,
		"buyCommitment":       m.Buy.Commitment,
		"sellCommitment":      m.Sell.Commitment,
		"assetHash":           assetHash,
		"matchedQuantity":     big.NewInt(m.ExecutionQuantity),
		"executionPrice":      big.NewInt(m.ExecutionPrice),
		"whitelistRoot":       tree.Root(),
	}, nil
}

// memberPath resolves an order's whitelist leaf and Merkle path, checking
// that the order's index actually holds this trader's ID.
func memberPath(tree *whitelist.Tree, o *book.Order) (*big.Int, *whitelist.Proof, error) {
	id := field.ReduceBytes([]byte(o.Trader))
	at, err := tree.ID(o.WhitelistIndex)
	if err != nil {
		return nil, nil, err
	}
	if at.Cmp(id) != 0 {
		return nil, nil, fmt.Errorf("trader %s is not at whitelist index %d", o.Trader, o.WhitelistIndex)
	}
	leaf, err := whitelist.LeafOf(id)
	if err != nil {
		return nil, nil, err
	}
	proof, err := tree.Proof(o.WhitelistIndex)
	if err != nil {
		return nil, nil, err
	}
	return leaf, proof, nil
}

func siblingsOf(p *whitelist.Proof) []*big.Int {
	out := make([]*big.Int, whitelist.Depth)
	for i, s := range p.Siblings {
		out[i] = s
	}
	return out
}

func indicesOf(p *whitelist.Proof) []*big.Int {
	out := make([]*big.Int, whitelist.Depth)
	for i, ix := range p.Indices {
		out[i] = big.NewInt(int64(ix))
	}
	return out
}
