// engine.go - Single-writer ingest actor.
//
// All book mutation happens on one goroutine, so sort-and-claim matching
// never races with reads. Callers talk to the actor over a command channel
// and get copies back; the actor never blocks on network or CPU.

package book

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"darkpool/internal/bus"
)

// ErrEngineClosed is returned for commands after Close.
var ErrEngineClosed = errors.New("order book engine closed")

// Snapshot is a read-only view of one asset's resting orders.
type Snapshot struct {
	Asset string
	Buys  []Entry
	Sells []Entry
}

// Entry is one resting order as exposed to queries.
type Entry struct {
	Trader   string
	Quantity int64
	Price    int64
	Seq      uint64
	Expiry   time.Time
}

// SubmitResult reports the outcome of one order submission.
type SubmitResult struct {
	Order         *Order
	Matches       []*Match
	NoMatchReason string
	Snapshot      Snapshot
}

// Engine owns the books, the FIFO match queue, and the completed-matches
// log.
type Engine struct {
	cmds chan any
	quit chan struct{}
	done chan struct{}

	book      *Book
	seq       uint64
	pending   []*Match
	completed []*Match

	bus *bus.Bus
	log *zap.Logger
}

type submitCmd struct {
	order *Order
	resp  chan SubmitResult
}

type snapshotCmd struct {
	asset string
	resp  chan Snapshot
}

type matchesCmd struct {
	resp chan []*Match
}

type drainCmd struct {
	resp chan []*Match
}

type pendingCountCmd struct {
	resp chan int
}

// NewEngine starts the ingest actor.
func NewEngine(b *bus.Bus, log *zap.Logger) *Engine {
	e := &Engine{
		cmds: make(chan any, 64),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		book: NewBook(),
		bus:  b,
		log:  log,
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case cmd := <-e.cmds:
			switch c := cmd.(type) {
			case submitCmd:
				c.resp <- e.handleSubmit(c.order)
			case snapshotCmd:
				c.resp <- e.snapshot(c.asset)
			case matchesCmd:
				out := make([]*Match, len(e.completed))
				copy(out, e.completed)
				c.resp <- out
			case drainCmd:
				out := e.pending
				e.pending = nil
				c.resp <- out
			case pendingCountCmd:
				c.resp <- len(e.pending)
			}
		}
	}
}

func (e *Engine) handleSubmit(o *Order) SubmitResult {
	now := time.Now()
	e.seq++
	o.Seq = e.seq
	o.Received = now

	if dropped := e.book.sweepExpired(o.Asset, now); len(dropped) > 0 {
		e.log.Debug("swept expired orders",
			zap.String("asset", o.Asset),
			zap.Int("count", len(dropped)),
		)
	}

	e.book.add(o)
	e.publishOrderSubmitted(o, now)

	matches, err := e.book.matchAsset(o.Asset, now)
	if err != nil {
		// Match ID entropy failure; orders stay on the book.
		e.log.Error("matching pass aborted", zap.Error(err))
	}
	for _, m := range matches {
		e.pending = append(e.pending, m)
		e.completed = append(e.completed, m)
		e.publishOrderMatched(m)
		e.log.Info("orders matched",
			zap.String("matchId", m.ID),
			zap.String("asset", m.Buy.Asset),
			zap.Int64("executionPrice", m.ExecutionPrice),
			zap.Int64("executionQuantity", m.ExecutionQuantity),
		)
	}

	res := SubmitResult{
		Order:    o,
		Matches:  matches,
		Snapshot: e.snapshot(o.Asset),
	}
	if len(matches) == 0 {
		res.NoMatchReason = e.book.noMatchReason(o)
	}
	return res
}

func (e *Engine) snapshot(asset string) Snapshot {
	view := func(orders []*Order) []Entry {
		out := make([]Entry, len(orders))
		for i, o := range orders {
			out[i] = Entry{
				Trader:   o.Trader,
				Quantity: o.Quantity,
				Price:    o.Price,
				Seq:      o.Seq,
				Expiry:   o.Expiry,
			}
		}
		return out
	}
	return Snapshot{
		Asset: asset,
		Buys:  view(e.book.buys[asset]),
		Sells: view(e.book.sells[asset]),
	}
}

func (e *Engine) publishOrderSubmitted(o *Order, now time.Time) {
	e.bus.Publish(bus.TopicOrderSubmitted,
		[]string{bus.OrderbookChannel(o.Asset), bus.TraderChannel(o.Trader)},
		map[string]any{
			"trader":    o.Trader,
			"asset":     o.Asset,
			"side":      o.Side.String(),
			"timestamp": now.UnixMilli(),
		})
}

func (e *Engine) publishOrderMatched(m *Match) {
	e.bus.Publish(bus.TopicOrderMatched,
		[]string{
			bus.OrderbookChannel(m.Buy.Asset),
			bus.TraderChannel(m.Buy.Trader),
			bus.TraderChannel(m.Sell.Trader),
			bus.SettlementChannel(m.ID),
		},
		map[string]any{
			"matchId":           m.ID,
			"buyerAddress":      m.Buy.Trader,
			"sellerAddress":     m.Sell.Trader,
			"asset":             m.Buy.Asset,
			"executionPrice":    m.ExecutionPrice,
			"executionQuantity": m.ExecutionQuantity,
			"timestamp":         m.Timestamp.UnixMilli(),
		})
}

// Submit hands an order to the actor and waits for the matching pass.
func (e *Engine) Submit(o *Order) (SubmitResult, error) {
	resp := make(chan SubmitResult, 1)
	select {
	case e.cmds <- submitCmd{order: o, resp: resp}:
	case <-e.quit:
		return SubmitResult{}, ErrEngineClosed
	}
	select {
	case r := <-resp:
		return r, nil
	case <-e.done:
		return SubmitResult{}, ErrEngineClosed
	}
}

// SnapshotAsset returns the current resting orders for an asset.
func (e *Engine) SnapshotAsset(asset string) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	select {
	case e.cmds <- snapshotCmd{asset: asset, resp: resp}:
	case <-e.quit:
		return Snapshot{}, ErrEngineClosed
	}
	select {
	case s := <-resp:
		return s, nil
	case <-e.done:
		return Snapshot{}, ErrEngineClosed
	}
}

// Matches returns the completed-matches log.
func (e *Engine) Matches() ([]*Match, error) {
	resp := make(chan []*Match, 1)
	select {
	case e.cmds <- matchesCmd{resp: resp}:
	case <-e.quit:
		return nil, ErrEngineClosed
	}
	select {
	case ms := <-resp:
		return ms, nil
	case <-e.done:
		return nil, ErrEngineClosed
	}
}

// DrainPending removes and returns the queued matches, FIFO.
func (e *Engine) DrainPending() ([]*Match, error) {
	resp := make(chan []*Match, 1)
	select {
	case e.cmds <- drainCmd{resp: resp}:
	case <-e.quit:
		return nil, ErrEngineClosed
	}
	select {
	case ms := <-resp:
		return ms, nil
	case <-e.done:
		return nil, ErrEngineClosed
	}
}

// PendingCount reports the match queue length.
func (e *Engine) PendingCount() (int, error) {
	resp := make(chan int, 1)
	select {
	case e.cmds <- pendingCountCmd{resp: resp}:
	case <-e.quit:
		return 0, ErrEngineClosed
	}
	select {
	case n := <-resp:
		return n, nil
	case <-e.done:
		return 0, ErrEngineClosed
	}
}

// Close stops the actor. Matches still in the queue are dropped; nothing
// replays them at the next boot.
func (e *Engine) Close() {
	close(e.quit)
	<-e.done
}
