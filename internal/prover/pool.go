// pool.go - Bounded Groth16 proof worker pool.
//
// Proof generation is CPU-bound (seconds per match). The pool bounds
// concurrency with a semaphore; ordering across matches is irrelevant, and
// each match's steps run sequentially inside one call.

package prover

import (
	"context"
	"fmt"
	"math/big"
	"runtime"
	"time"

	"github.com/iden3/go-rapidsnark/prover"
	"github.com/iden3/go-rapidsnark/verifier"
	"go.uber.org/zap"

	"darkpool/internal/book"
	"darkpool/internal/commit"
	"darkpool/internal/whitelist"
)

// Proved is the output handed to the settlement coordinator.
type Proved struct {
	ProofBytes    []byte // 256-byte on-chain encoding
	PublicSignals []byte // length-prefixed encoding
	RawSignals    []string
	Nullifier     *big.Int
	Duration      time.Duration
}

// Pool runs proofs with bounded parallelism against shared artifacts.
type Pool struct {
	art *Artifacts
	sem chan struct{}
	log *zap.Logger
}

// NewPool sizes the pool; workers <= 0 means one per CPU.
func NewPool(art *Artifacts, workers int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		art: art,
		sem: make(chan struct{}, workers),
		log: log,
	}
}

// Prove generates, locally verifies (when a vkey is loaded), and encodes the
// settlement proof for one match.
func (p *Pool) Prove(ctx context.Context, m *book.Match, tree *whitelist.Tree) (*Proved, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	inputs, err := BuildWitness(m, tree, p.log)
	if err != nil {
		return nil, fmt.Errorf("build witness: %w", err)
	}

	wtns, err := p.art.calc.CalculateWTNSBin(inputs, true)
	if err != nil {
		return nil, fmt.Errorf("witness calculation: %w", err)
	}

	zkProof, err := prover.Groth16Prover(p.art.Zkey, wtns)
	if err != nil {
		return nil, fmt.Errorf("groth16 prove: %w", err)
	}

	if len(p.art.Vkey) > 0 {
		if err := verifier.VerifyGroth16(*zkProof, p.art.Vkey); err != nil {
			return nil, fmt.Errorf("local proof verification: %w", err)
		}
	}

	proofBytes, err := EncodeProof(zkProof.Proof)
	if err != nil {
		return nil, fmt.Errorf("encode proof: %w", err)
	}
	signalBytes, err := EncodePublicSignals(zkProof.PubSignals)
	if err != nil {
		return nil, fmt.Errorf("encode public signals: %w", err)
	}
	nullifier, err := Nullifier(zkProof.PubSignals)
	if err != nil {
		return nil, fmt.Errorf("extract nullifier: %w", err)
	}

	// Cross-check the circuit output against the native derivation.
	native, err := commit.ComputeNullifier(m.Buy.Commitment, m.Sell.Commitment, m.ExecutionQuantity, m.Buy.Secret, m.Sell.Secret)
	if err == nil && native.Cmp(nullifier) != 0 {
		p.log.Warn("circuit nullifier diverges from native derivation",
			zap.String("matchId", m.ID),
		)
	}

	elapsed := time.Since(start)
	p.log.Info("proof generated",
		zap.String("matchId", m.ID),
		zap.Duration("elapsed", elapsed),
		zap.Int("publicSignals", len(zkProof.PubSignals)),
	)
	return &Proved{
		ProofBytes:    proofBytes,
		PublicSignals: signalBytes,
		RawSignals:    zkProof.PubSignals,
		Nullifier:     nullifier,
		Duration:      elapsed,
	}, nil
}
