// book.go - Per-asset order book and the exact-quantity matcher.
//
// Matching is pure and in-memory. The commitment scheme binds quantity, so a
// trade pairs only when both orders specify identical quantities; partial
// fills do not exist here. Price-time priority: best price first, earliest
// arrival breaks ties.

package book

import (
	"fmt"
	"sort"
	"time"
)

// Book holds the resting orders for every asset. It is not safe for
// concurrent use; the Engine owns the only mutable instance.
type Book struct {
	buys  map[string][]*Order
	sells map[string][]*Order
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{
		buys:  make(map[string][]*Order),
		sells: make(map[string][]*Order),
	}
}

func (b *Book) add(o *Order) {
	if o.Side == Buy {
		b.buys[o.Asset] = append(b.buys[o.Asset], o)
	} else {
		b.sells[o.Asset] = append(b.sells[o.Asset], o)
	}
}

// depth returns the resting order counts for an asset.
func (b *Book) depth(asset string) (buys, sells int) {
	return len(b.buys[asset]), len(b.sells[asset])
}

// sweepExpired drops orders whose deadline has passed.
func (b *Book) sweepExpired(asset string, now time.Time) (dropped []*Order) {
	keep := func(orders []*Order) []*Order {
		out := orders[:0]
		for _, o := range orders {
			if o.Expired(now) {
				dropped = append(dropped, o)
			} else {
				out = append(out, o)
			}
		}
		return out
	}
	b.buys[asset] = keep(b.buys[asset])
	b.sells[asset] = keep(b.sells[asset])
	return dropped
}

// matchAsset runs one greedy matching pass for the asset and removes every
// claimed order. Buys are visited best-price-first (ties by arrival); each
// buy takes the first unclaimed sell at a crossing price with an identical
// quantity.
func (b *Book) matchAsset(asset string, now time.Time) ([]*Match, error) {
	buys := b.buys[asset]
	sells := b.sells[asset]
	if len(buys) == 0 || len(sells) == 0 {
		return nil, nil
	}

	sort.SliceStable(buys, func(i, j int) bool {
		if buys[i].Price != buys[j].Price {
			return buys[i].Price > buys[j].Price
		}
		return buys[i].Seq < buys[j].Seq
	})
	sort.SliceStable(sells, func(i, j int) bool {
		if sells[i].Price != sells[j].Price {
			return sells[i].Price < sells[j].Price
		}
		return sells[i].Seq < sells[j].Seq
	})

	claimedBuy := make(map[*Order]bool)
	claimedSell := make(map[*Order]bool)
	var matches []*Match

	for _, buy := range buys {
		for _, sell := range sells {
			if claimedSell[sell] {
				continue
			}
			if buy.Price < sell.Price {
				// Sells are price-ascending; nothing later can cross.
				break
			}
			if buy.Quantity != sell.Quantity {
				continue
			}
			id, err := NewMatchID()
			if err != nil {
				return matches, err
			}
			matches = append(matches, &Match{
				ID:                id,
				Buy:               buy,
				Sell:              sell,
				ExecutionPrice:    (buy.Price + sell.Price) / 2,
				ExecutionQuantity: buy.Quantity,
				Timestamp:         now,
			})
			claimedBuy[buy] = true
			claimedSell[sell] = true
			break
		}
	}

	if len(matches) > 0 {
		remaining := func(orders []*Order, claimed map[*Order]bool) []*Order {
			out := orders[:0]
			for _, o := range orders {
				if !claimed[o] {
					out = append(out, o)
				}
			}
			return out
		}
		b.buys[asset] = remaining(buys, claimedBuy)
		b.sells[asset] = remaining(sells, claimedSell)
	}
	return matches, nil
}

// noMatchReason explains why a freshly submitted order found no counterparty.
// Returns "" when the opposite side of the asset has no resting orders; a
// resting opposite side yields a reason whether or not any of it crosses.
func (b *Book) noMatchReason(o *Order) string {
	var opposite []*Order
	if o.Side == Buy {
		opposite = b.sells[o.Asset]
	} else {
		opposite = b.buys[o.Asset]
	}
	if len(opposite) == 0 {
		return ""
	}
	crossing := 0
	for _, c := range opposite {
		crosses := false
		if o.Side == Buy {
			crosses = o.Price >= c.Price
		} else {
			crosses = c.Price >= o.Price
		}
		if crosses {
			crossing++
		}
	}
	if crossing == 0 {
		return fmt.Sprintf("%d resting counterorder(s) on %s, none at a crossing price", len(opposite), o.Asset)
	}
	return fmt.Sprintf("%d crossing counterorder(s) on %s, none with quantity %d (exact-quantity matching)", crossing, o.Asset, o.Quantity)
}
