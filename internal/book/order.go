// order.go - Private orders and matches.

package book

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// Side of an order. The numeric values are circuit inputs; do not reorder.
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Order is a private order held off-chain. Quantity and price are integers
// scaled by 1e7; the commitment binds asset hash, side, quantity, price,
// nonce, and secret.
type Order struct {
	Commitment     *big.Int
	Trader         string
	Asset          string
	Symbol         string
	Side           Side
	Quantity       int64
	Price          int64
	Secret         *big.Int
	Nonce          *big.Int
	Seq            uint64 // ingest order; defines time priority
	Received       time.Time
	Expiry         time.Time
	WhitelistIndex int
}

// Expired reports whether the order's wall-clock deadline has passed.
func (o *Order) Expired(now time.Time) bool {
	return !o.Expiry.After(now)
}

// Match pairs one buy with one sell of identical quantity.
type Match struct {
	ID                string // 32 random bytes, hex
	Buy               *Order
	Sell              *Order
	ExecutionPrice    int64
	ExecutionQuantity int64
	Timestamp         time.Time
}

// NewMatchID draws a fresh 32-byte match identifier.
func NewMatchID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("match id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
