// coordinator.go - Per-match settlement state machine.
//
// Each match gets one actor goroutine that owns its record. Proof results,
// signature submissions, and sink callbacks arrive as typed messages and are
// serialized through the actor, so the rendezvous needs no shared flags. The
// actor dispatches CPU- and network-bound work to helper goroutines and
// never blocks the message loop on them.

package settle

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"darkpool/internal/book"
	"darkpool/internal/bus"
	"darkpool/internal/prover"
	"darkpool/internal/store"
	"darkpool/internal/whitelist"
)

// Prover generates the settlement proof for one match.
type Prover interface {
	Prove(ctx context.Context, m *book.Match, tree *whitelist.Tree) (*prover.Proved, error)
}

// Config tunes the coordinator.
type Config struct {
	// SignatureTimeout overrides the default deadline (the earlier order
	// expiry) when positive.
	SignatureTimeout time.Duration
	// RetryInitial is the first backoff delay for transient sink errors.
	RetryInitial time.Duration
	// RetryFactor multiplies the delay after each attempt.
	RetryFactor int
	// RetryAttempts caps sink submissions.
	RetryAttempts int
}

// DefaultConfig matches the documented retry policy: 1 s initial, factor 2,
// five attempts.
func DefaultConfig() Config {
	return Config{
		RetryInitial:  time.Second,
		RetryFactor:   2,
		RetryAttempts: 5,
	}
}

type msgKind int

const (
	msgProofOK msgKind = iota
	msgProofFail
	msgSigBuyer
	msgSigSeller
	msgConfirm
	msgFail
)

type sigReply struct {
	buyerSigned  bool
	sellerSigned bool
	err          error
}

type message struct {
	kind      msgKind
	proved    *prover.Proved
	err       error
	signature string
	reply     chan sigReply
}

type actor struct {
	matchID string
	inbox   chan message
	done    chan struct{}
}

// Coordinator drives every match through settlement.
type Coordinator struct {
	cfg      Config
	prover   Prover
	registry *whitelist.Registry
	sink     Sink
	bus      *bus.Bus
	store    *store.Store // optional
	log      *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record
	actors  map[string]*actor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator wires the coordinator. store may be nil for a purely
// in-memory run.
func NewCoordinator(cfg Config, p Prover, reg *whitelist.Registry, sink Sink, b *bus.Bus, st *store.Store, log *zap.Logger) *Coordinator {
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = time.Second
	}
	if cfg.RetryFactor < 2 {
		cfg.RetryFactor = 2
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		prover:   p,
		registry: reg,
		sink:     sink,
		bus:      b,
		store:    st,
		log:      log,
		records:  make(map[string]*Record),
		actors:   make(map[string]*actor),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Process registers a match and starts its settlement actor. Duplicate
// match IDs are rejected.
func (c *Coordinator) Process(m *book.Match) error {
	rec := &Record{
		MatchID:   m.ID,
		Asset:     m.Buy.Asset,
		Buyer:     m.Buy.Trader,
		Seller:    m.Sell.Trader,
		Status:    StatusMatched,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	a := &actor{
		matchID: m.ID,
		inbox:   make(chan message, 16),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.records[m.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("match %s already in settlement", m.ID)
	}
	c.records[m.ID] = rec
	c.actors[m.ID] = a
	c.mu.Unlock()
	c.persist(rec)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(a.done)
		c.runActor(a, m)
		c.mu.Lock()
		delete(c.actors, m.ID)
		c.mu.Unlock()
	}()
	return nil
}

// SubmitSignature records one side's settlement signature. Idempotent for
// the same role; rejected for unknown matches, invalid roles, and matches
// not yet awaiting signatures.
func (c *Coordinator) SubmitSignature(matchID string, role Role, signature string) (buyerSigned, sellerSigned bool, err error) {
	if !role.Valid() {
		return false, false, fmt.Errorf("invalid role %q", role)
	}
	if signature == "" {
		return false, false, fmt.Errorf("empty signature")
	}

	c.mu.RLock()
	rec := c.records[matchID]
	a := c.actors[matchID]
	c.mu.RUnlock()
	if rec == nil {
		return false, false, fmt.Errorf("unknown match %s", matchID)
	}
	if a == nil {
		// Actor finished. A resubmission of an already-recorded signature
		// stays a no-op; anything else is too late.
		c.mu.RLock()
		defer c.mu.RUnlock()
		rec = c.records[matchID]
		already := (role == RoleBuyer && rec.BuyerSigned) || (role == RoleSeller && rec.SellerSigned)
		if already {
			return rec.BuyerSigned, rec.SellerSigned, nil
		}
		return rec.BuyerSigned, rec.SellerSigned, fmt.Errorf("match %s is %s", matchID, rec.Status)
	}

	kind := msgSigBuyer
	if role == RoleSeller {
		kind = msgSigSeller
	}
	reply := make(chan sigReply, 1)
	select {
	case a.inbox <- message{kind: kind, signature: signature, reply: reply}:
	case <-a.done:
		return c.SubmitSignature(matchID, role, signature) // actor just finished
	case <-c.ctx.Done():
		return false, false, fmt.Errorf("coordinator shutting down")
	}
	select {
	case r := <-reply:
		return r.buyerSigned, r.sellerSigned, r.err
	case <-c.ctx.Done():
		return false, false, fmt.Errorf("coordinator shutting down")
	}
}

// Record returns a copy of one settlement record.
func (c *Coordinator) Record(matchID string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[matchID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Records returns copies of all records, optionally filtered to one trader.
func (c *Coordinator) Records(trader string) []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		if trader != "" && rec.Buyer != trader && rec.Seller != trader {
			continue
		}
		out = append(out, rec.clone())
	}
	return out
}

// Close stops all actors and waits for them.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// --- actor lifecycle ---

func (c *Coordinator) runActor(a *actor, m *book.Match) {
	parties := []string{bus.TraderChannel(m.Buy.Trader), bus.TraderChannel(m.Sell.Trader), bus.SettlementChannel(m.ID)}
	base := func() map[string]any {
		return map[string]any{
			"matchId":       m.ID,
			"buyerAddress":  m.Buy.Trader,
			"sellerAddress": m.Sell.Trader,
		}
	}

	// Proving.
	c.transition(a.matchID, StatusProving, nil)
	c.bus.Publish(bus.TopicProofGenerating, parties, base())

	proofCh := make(chan message, 1)
	tree := c.registry.Snapshot()
	go func() {
		proved, err := c.prover.Prove(c.ctx, m, tree)
		if err != nil {
			proofCh <- message{kind: msgProofFail, err: err}
			return
		}
		proofCh <- message{kind: msgProofOK, proved: proved}
	}()

	var proved *prover.Proved
proving:
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-a.inbox:
			c.rejectSignature(msg, "match not awaiting signatures")
		case msg := <-proofCh:
			if msg.kind == msgProofFail {
				data := base()
				data["error"] = msg.err.Error()
				c.fail(a.matchID, fmt.Sprintf("proof-failed: %v", msg.err))
				c.bus.Publish(bus.TopicProofFailed, parties, data)
				return
			}
			proved = msg.proved
			break proving
		}
	}

	nullifierHex := hex.EncodeToString(proved.Nullifier.Bytes())
	c.update(a.matchID, func(r *Record) {
		r.Status = StatusAwaitingSignatures
		r.ProofBytes = proved.ProofBytes
		r.PublicSignalsBytes = proved.PublicSignals
		r.NullifierHex = nullifierHex
	})
	data := base()
	data["proofHash"] = prover.ProofHash(proved.ProofBytes)
	c.bus.Publish(bus.TopicProofGenerated, parties, data)

	// Signature rendezvous.
	deadline := m.Buy.Expiry
	if m.Sell.Expiry.Before(deadline) {
		deadline = m.Sell.Expiry
	}
	if c.cfg.SignatureTimeout > 0 {
		deadline = time.Now().Add(c.cfg.SignatureTimeout)
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	var buyerSig, sellerSig string
	for buyerSig == "" || sellerSig == "" {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
			c.fail(a.matchID, "signature-timeout")
			failData := base()
			failData["error"] = "signature-timeout"
			c.bus.Publish(bus.TopicSettlementFailed, parties, failData)
			return
		case msg := <-a.inbox:
			switch msg.kind {
			case msgSigBuyer, msgSigSeller:
				role := RoleBuyer
				signer := m.Buy.Trader
				already := buyerSig != ""
				if msg.kind == msgSigSeller {
					role, signer, already = RoleSeller, m.Sell.Trader, sellerSig != ""
				}
				if already {
					msg.reply <- sigReply{buyerSigned: buyerSig != "", sellerSigned: sellerSig != ""}
					continue
				}
				if msg.kind == msgSigBuyer {
					buyerSig = msg.signature
				} else {
					sellerSig = msg.signature
				}
				status := StatusPartiallySigned
				if buyerSig != "" && sellerSig != "" {
					status = StatusSignaturesComplete
				}
				c.update(a.matchID, func(r *Record) {
					r.Status = status
					r.BuyerSigned = buyerSig != ""
					r.SellerSigned = sellerSig != ""
					r.BuyerSignature = buyerSig
					r.SellerSignature = sellerSig
				})
				msg.reply <- sigReply{buyerSigned: buyerSig != "", sellerSigned: sellerSig != ""}
				sigData := base()
				sigData["signer"] = signer
				sigData["role"] = string(role)
				sigData["buyerSigned"] = buyerSig != ""
				sigData["sellerSigned"] = sellerSig != ""
				c.bus.Publish(bus.TopicSignatureAdded, parties, sigData)
			default:
				// Late proof duplicates are impossible; ignore anything else.
			}
		}
	}
	c.bus.Publish(bus.TopicSignatureComplete, parties, base())

	// Transaction assembly and on-chain submission.
	packet := &Packet{
		MatchID:           m.ID,
		Asset:             m.Buy.Asset,
		Buyer:             m.Buy.Trader,
		Seller:            m.Sell.Trader,
		ExecutionPrice:    m.ExecutionPrice,
		ExecutionQuantity: m.ExecutionQuantity,
		ProofBytes:        proved.ProofBytes,
		PublicSignals:     proved.PublicSignals,
		NullifierHex:      nullifierHex,
		BuyerSignature:    buyerSig,
		SellerSignature:   sellerSig,
	}
	c.bus.Publish(bus.TopicSettlementTxBuilt, parties, base())
	c.transition(a.matchID, StatusQueuedOnChain, nil)
	c.bus.Publish(bus.TopicSettlementQueued, parties, base())

	sinkCh := make(chan message, 1)
	go func() {
		txHash, err := c.submitWithRetry(packet)
		if err != nil {
			sinkCh <- message{kind: msgFail, err: err}
			return
		}
		sinkCh <- message{kind: msgConfirm, signature: txHash}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-a.inbox:
			c.answerLateSignature(a.matchID, msg)
		case msg := <-sinkCh:
			if msg.kind == msgFail {
				c.fail(a.matchID, msg.err.Error())
				failData := base()
				failData["error"] = msg.err.Error()
				c.bus.Publish(bus.TopicSettlementFailed, parties, failData)
				return
			}
			txHash := msg.signature
			c.update(a.matchID, func(r *Record) {
				r.Status = StatusConfirmed
				r.TxHash = txHash
			})
			confirmData := base()
			confirmData["txHash"] = txHash
			c.bus.Publish(bus.TopicSettlementConfirmed, parties, confirmData)
			c.log.Info("settlement confirmed",
				zap.String("matchId", m.ID),
				zap.String("txHash", txHash),
			)
			return
		}
	}
}

func (c *Coordinator) submitWithRetry(p *Packet) (string, error) {
	delay := c.cfg.RetryInitial
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		txHash, err := c.sink.Submit(c.ctx, p)
		if err == nil {
			return txHash, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return "", err
		}
		c.log.Warn("transient on-chain submission error",
			zap.String("matchId", p.MatchID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return "", c.ctx.Err()
		}
		delay *= time.Duration(c.cfg.RetryFactor)
	}
	return "", fmt.Errorf("on-chain submission exhausted %d attempts: %w", c.cfg.RetryAttempts, lastErr)
}

// rejectSignature answers a signature message arriving in a state that
// cannot accept it.
func (c *Coordinator) rejectSignature(msg message, why string) {
	if msg.kind != msgSigBuyer && msg.kind != msgSigSeller {
		return
	}
	msg.reply <- sigReply{err: fmt.Errorf("%s", why)}
}

// answerLateSignature replies idempotently to signatures arriving after the
// rendezvous completed.
func (c *Coordinator) answerLateSignature(matchID string, msg message) {
	if msg.kind != msgSigBuyer && msg.kind != msgSigSeller {
		return
	}
	rec, ok := c.Record(matchID)
	if !ok {
		msg.reply <- sigReply{err: fmt.Errorf("unknown match %s", matchID)}
		return
	}
	msg.reply <- sigReply{buyerSigned: rec.BuyerSigned, sellerSigned: rec.SellerSigned}
}

// --- record mutation ---

func (c *Coordinator) update(matchID string, f func(*Record)) {
	c.mu.Lock()
	rec := c.records[matchID]
	if rec != nil {
		f(rec)
		rec.UpdatedAt = time.Now()
	}
	var snapshot *Record
	if rec != nil {
		snapshot = rec.clone()
	}
	c.mu.Unlock()
	if snapshot != nil {
		c.persist(snapshot)
	}
}

func (c *Coordinator) transition(matchID string, s Status, f func(*Record)) {
	c.update(matchID, func(r *Record) {
		r.Status = s
		if f != nil {
			f(r)
		}
	})
}

func (c *Coordinator) fail(matchID, reason string) {
	c.update(matchID, func(r *Record) {
		r.Status = StatusFailed
		r.Error = reason
	})
	c.log.Warn("settlement failed",
		zap.String("matchId", matchID),
		zap.String("reason", reason),
	)
}

func (c *Coordinator) persist(rec *Record) {
	if c.store == nil {
		return
	}
	if err := c.store.PutJSON(store.PrefixSettlement, rec.MatchID, rec); err != nil {
		c.log.Error("settlement record persistence failed",
			zap.String("matchId", rec.MatchID),
			zap.Error(err),
		)
	}
}
