// tree.go - Poseidon Merkle tree over compliance-approved participant IDs.
//
// The tree has a fixed circuit depth of 20. Participants occupy a dense
// subtree of the least depth d with 2^d >= max(n, 2); the dense root is then
// extended to depth 20 by repeatedly hashing with the zero ladder on the
// right. Inclusion proofs carry exactly Depth siblings: the first d are real
// siblings, the rest are zero-ladder nodes with index 0.

package whitelist

import (
	"fmt"
	"math/big"

	"darkpool/internal/field"
)

// Depth is the fixed Merkle depth expected by the settlement circuit.
const Depth = 20

// Proof is an inclusion proof for one leaf. Indices are 0 when the running
// node is the left child, 1 when it is the right child.
type Proof struct {
	Index    int
	Siblings [Depth]*big.Int
	Indices  [Depth]uint8
}

// Tree is an immutable whitelist snapshot. Readers share it by reference;
// rebuilding publishes a fresh Tree and never touches an old one.
type Tree struct {
	root       *big.Int
	ids        []*big.Int
	levels     [][]*big.Int // dense levels; levels[0] is the padded leaf row
	denseDepth int
	zeros      [Depth + 1]*big.Int
	indexOf    map[string]int
}

// LeafOf computes the leaf hash for a participant ID element.
func LeafOf(id *big.Int) (*big.Int, error) {
	return field.Poseidon(id)
}

// Build constructs a snapshot over the ordered participant ID list.
func Build(ids []*big.Int) (*Tree, error) {
	if len(ids) > 1<<Depth {
		return nil, fmt.Errorf("whitelist exceeds capacity: %d > %d", len(ids), 1<<Depth)
	}

	t := &Tree{
		ids:     make([]*big.Int, len(ids)),
		indexOf: make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		if id == nil {
			return nil, fmt.Errorf("nil participant ID at index %d", i)
		}
		canonical := field.Reduce(id)
		t.ids[i] = canonical
		// First occurrence wins; every copy of a duplicate ID has the same
		// leaf, so the proof at the first index verifies for it.
		key := canonical.String()
		if _, dup := t.indexOf[key]; !dup {
			t.indexOf[key] = i
		}
	}

	// Zero ladder: Z[0] = 0, Z[k] = Poseidon(Z[k-1], Z[k-1]).
	t.zeros[0] = big.NewInt(0)
	for k := 1; k <= Depth; k++ {
		z, err := field.Poseidon(t.zeros[k-1], t.zeros[k-1])
		if err != nil {
			return nil, err
		}
		t.zeros[k] = z
	}

	// Dense depth: least d with 2^d >= max(n, 2).
	d := 1
	for (1 << d) < len(ids) {
		d++
	}
	t.denseDepth = d

	// Leaf row, padded with the zero leaf.
	leaves := make([]*big.Int, 1<<d)
	for i := range leaves {
		if i < len(ids) {
			leaf, err := LeafOf(t.ids[i])
			if err != nil {
				return nil, err
			}
			leaves[i] = leaf
		} else {
			leaves[i] = t.zeros[0]
		}
	}

	t.levels = make([][]*big.Int, d+1)
	t.levels[0] = leaves
	for lvl := 1; lvl <= d; lvl++ {
		prev := t.levels[lvl-1]
		row := make([]*big.Int, len(prev)/2)
		for i := range row {
			h, err := field.Poseidon(prev[2*i], prev[2*i+1])
			if err != nil {
				return nil, err
			}
			row[i] = h
		}
		t.levels[lvl] = row
	}

	// Extend the dense root to the circuit depth; the padded zero subtree is
	// always the right sibling.
	root := t.levels[d][0]
	for k := d; k < Depth; k++ {
		h, err := field.Poseidon(root, t.zeros[k])
		if err != nil {
			return nil, err
		}
		root = h
	}
	t.root = root
	return t, nil
}

// Root returns the whitelist root expected by the circuit.
func (t *Tree) Root() *big.Int {
	return t.root
}

// Size returns the number of real participants.
func (t *Tree) Size() int {
	return len(t.ids)
}

// ID returns the participant ID element at index i.
func (t *Tree) ID(i int) (*big.Int, error) {
	if i < 0 || i >= len(t.ids) {
		return nil, fmt.Errorf("whitelist index %d out of range [0,%d)", i, len(t.ids))
	}
	return t.ids[i], nil
}

// IndexOf resolves a participant ID element to its leaf index.
func (t *Tree) IndexOf(id *big.Int) (int, bool) {
	i, ok := t.indexOf[field.Reduce(id).String()]
	return i, ok
}

// Proof emits the inclusion proof for leaf i.
func (t *Tree) Proof(i int) (*Proof, error) {
	if i < 0 || i >= len(t.ids) {
		return nil, fmt.Errorf("whitelist index %d out of range [0,%d)", i, len(t.ids))
	}
	p := &Proof{Index: i}
	pos := i
	for k := 0; k < t.denseDepth; k++ {
		row := t.levels[k]
		if pos%2 == 0 {
			p.Siblings[k] = row[pos+1]
			p.Indices[k] = 0
		} else {
			p.Siblings[k] = row[pos-1]
			p.Indices[k] = 1
		}
		pos /= 2
	}
	for k := t.denseDepth; k < Depth; k++ {
		p.Siblings[k] = t.zeros[k]
		p.Indices[k] = 0
	}
	return p, nil
}

// Verify checks an inclusion proof against a leaf and root. It runs exactly
// Depth Poseidon invocations and never panics on malformed input.
func Verify(p *Proof, leaf, root *big.Int) bool {
	if p == nil || leaf == nil || root == nil {
		return false
	}
	cur := field.Reduce(leaf)
	for k := 0; k < Depth; k++ {
		sib := p.Siblings[k]
		if sib == nil {
			return false
		}
		var (
			h   *big.Int
			err error
		)
		switch p.Indices[k] {
		case 0:
			h, err = field.Poseidon(cur, sib)
		case 1:
			h, err = field.Poseidon(sib, cur)
		default:
			return false
		}
		if err != nil {
			return false
		}
		cur = h
	}
	return cur.Cmp(field.Reduce(root)) == 0
}
