// artifacts.go - Circuit artifact loading.
//
// The circuit is a fixed external Groth16 artifact: a circom WASM witness
// generator and a snarkjs proving key. Both are loaded once at boot and
// shared read-only across the worker pool. The verification key is optional;
// when present, every proof is checked locally before handoff.

package prover

import (
	"fmt"
	"os"

	witness "github.com/iden3/go-rapidsnark/witness/v2"
	"github.com/iden3/go-rapidsnark/witness/wazero"
)

// Artifacts holds the loaded circuit material.
type Artifacts struct {
	Zkey []byte
	Vkey []byte // empty when local verification is disabled

	calc witness.Calculator
}

// LoadArtifacts reads the WASM witness generator and proving key, and
// optionally the exported verification key.
func LoadArtifacts(wasmPath, zkeyPath, vkeyPath string) (*Artifacts, error) {
	wasm, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("read witness generator: %w", err)
	}
	zkey, err := os.ReadFile(zkeyPath)
	if err != nil {
		return nil, fmt.Errorf("read proving key: %w", err)
	}

	calc, err := witness.NewCalculator(wasm, witness.WithWasmEngine(wazero.NewCircom2WZWitnessCalculator))
	if err != nil {
		return nil, fmt.Errorf("instantiate witness calculator: %w", err)
	}

	a := &Artifacts{Zkey: zkey, calc: calc}
	if vkeyPath != "" {
		vkey, err := os.ReadFile(vkeyPath)
		if err != nil {
			return nil, fmt.Errorf("read verification key: %w", err)
		}
		a.Vkey = vkey
	}
	return a, nil
}
