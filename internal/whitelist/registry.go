// registry.go - Atomic snapshot holder for the whitelist tree.
//
// The tree is rebuilt whenever the on-chain registry changes. Rebuild
// publishes a new immutable snapshot; readers that took a reference keep
// working against the tree they observed.

package whitelist

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"go.uber.org/zap"

	"darkpool/internal/field"
)

// Registry holds the current whitelist snapshot.
type Registry struct {
	current atomic.Pointer[Tree]
	log     *zap.Logger
}

// NewRegistry creates an empty registry. Snapshot returns nil until the
// first Rebuild.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log}
}

// Rebuild constructs a fresh tree over the ordered participant IDs and
// atomically publishes it.
func (r *Registry) Rebuild(ids []*big.Int) (*Tree, error) {
	t, err := Build(ids)
	if err != nil {
		return nil, fmt.Errorf("whitelist rebuild: %w", err)
	}
	r.current.Store(t)
	r.log.Info("whitelist rebuilt",
		zap.Int("participants", t.Size()),
		zap.String("root", field.Decimal(t.Root())),
	)
	return t, nil
}

// RebuildFromAddresses reduces each opaque address into the field before
// building, preserving order.
func (r *Registry) RebuildFromAddresses(addrs []string) (*Tree, error) {
	ids := make([]*big.Int, len(addrs))
	for i, a := range addrs {
		ids[i] = field.ReduceBytes([]byte(a))
	}
	return r.Rebuild(ids)
}

// Snapshot returns the current immutable tree, or nil before first build.
func (r *Registry) Snapshot() *Tree {
	return r.current.Load()
}

// IndexOfAddress resolves a trader address to its leaf index in the current
// snapshot.
func (r *Registry) IndexOfAddress(addr string) (int, bool) {
	t := r.current.Load()
	if t == nil {
		return 0, false
	}
	return t.IndexOf(field.ReduceBytes([]byte(addr)))
}
