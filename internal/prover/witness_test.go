package prover

import (
	"math/big"
	"testing"
	"time"

	"go.uber.org/zap"

	"darkpool/internal/book"
	"darkpool/internal/commit"
	"darkpool/internal/field"
	"darkpool/internal/whitelist"
)

func testMatch(t *testing.T) (*book.Match, *whitelist.Tree) {
	t.Helper()
	buyer := "CBUYERADDRESS"
	seller := "CSELLERADDRESS"
	tree, err := whitelist.Build([]*big.Int{
		field.ReduceBytes([]byte(buyer)),
		field.ReduceBytes([]byte(seller)),
		field.ReduceBytes([]byte("CSOMEONEELSE")),
	})
	if err != nil {
		t.Fatalf("whitelist build failed: %v", err)
	}

	assetHash, err := commit.HashAsset("GOLD")
	if err != nil {
		t.Fatalf("HashAsset failed: %v", err)
	}
	buyOp, err := commit.GenerateOrderCommitment(assetHash, uint8(book.Buy), 100, 50)
	if err != nil {
		t.Fatalf("buy commitment failed: %v", err)
	}
	sellOp, err := commit.GenerateOrderCommitment(assetHash, uint8(book.Sell), 100, 50)
	if err != nil {
		t.Fatalf("sell commitment failed: %v", err)
	}

	m := &book.Match{
		ID: "00ff",
		Buy: &book.Order{
			Commitment:     buyOp.Commitment,
			Trader:         buyer,
			Asset:          "GOLD",
			Side:           book.Buy,
			Quantity:       100,
			Price:          50,
			Secret:         buyOp.Secret,
			Nonce:          buyOp.Nonce,
			WhitelistIndex: 0,
		},
		Sell: &book.Order{
			Commitment:     sellOp.Commitment,
			Trader:         seller,
			Asset:          "GOLD",
			Side:           book.Sell,
			Quantity:       100,
			Price:          50,
			Secret:         sellOp.Secret,
			Nonce:          sellOp.Nonce,
			WhitelistIndex: 1,
		},
		ExecutionPrice:    50,
		ExecutionQuantity: 100,
		Timestamp:         time.Now(),
	}
	return m, tree
}

func TestBuildWitnessShape(t *testing.T) {
	m, tree := testMatch(t)
	inputs, err := BuildWitness(m, tree, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildWitness failed: %v", err)
	}

	for _, key := range []string{
		"buyerIdHash", "sellerIdHash",
		"buyerMerkleProof", "buyerMerkleIndices",
		"sellerMerkleProof", "sellerMerkleIndices",
		"buySecret", "buyNonce", "sellSecret", "sellNonce",
		"buyCommitment", "sellCommitment",
		"assetHash", "matchedQuantity", "executionPrice", "whitelistRoot",
	} {
		if _, ok := inputs[key]; !ok {
			t.Errorf("witness missing input %q", key)
		}
	}

	proof := inputs["buyerMerkleProof"].([]*big.Int)
	indices := inputs["buyerMerkleIndices"].([]*big.Int)
	if len(proof) != whitelist.Depth || len(indices) != whitelist.Depth {
		t.Errorf("merkle path length %d/%d, want %d", len(proof), len(indices), whitelist.Depth)
	}

	if got := inputs["whitelistRoot"].(*big.Int); got.Cmp(tree.Root()) != 0 {
		t.Errorf("whitelist root mismatch")
	}
	if got := inputs["matchedQuantity"].(*big.Int); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("matchedQuantity = %s, want 100", got)
	}
}

func TestBuildWitnessLeafConsistency(t *testing.T) {
	m, tree := testMatch(t)
	inputs, err := BuildWitness(m, tree, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildWitness failed: %v", err)
	}
	// The buyer's leaf and path must verify against the root we hand the
	// circuit.
	leaf := inputs["buyerIdHash"].(*big.Int)
	proof, err := tree.Proof(m.Buy.WhitelistIndex)
	if err != nil {
		t.Fatalf("Proof failed: %v", err)
	}
	if !whitelist.Verify(proof, leaf, tree.Root()) {
		t.Errorf("buyer witness path does not verify")
	}
}

func TestBuildWitnessRejectsWrongIndex(t *testing.T) {
	m, tree := testMatch(t)
	m.Buy.WhitelistIndex = 2 // someone else's slot
	if _, err := BuildWitness(m, tree, zap.NewNop()); err == nil {
		t.Errorf("expected error for a whitelist index that belongs to another trader")
	}
	m.Buy.WhitelistIndex = 99
	if _, err := BuildWitness(m, tree, zap.NewNop()); err == nil {
		t.Errorf("expected error for an out-of-range whitelist index")
	}
}

func TestBuildWitnessRequiresSnapshot(t *testing.T) {
	m, _ := testMatch(t)
	if _, err := BuildWitness(m, nil, zap.NewNop()); err == nil {
		t.Errorf("expected error without a whitelist snapshot")
	}
}
