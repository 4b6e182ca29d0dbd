// server.go - Request/response surface.
//
// JSON over net/http. Big integers cross the wire as decimal strings; proof
// material as hex. Failures carry a stable error code, a human message, and
// the matchId when one applies.

package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"darkpool/internal/book"
	"darkpool/internal/commit"
	"darkpool/internal/field"
	"darkpool/internal/settle"
	"darkpool/internal/store"
	"darkpool/internal/whitelist"
)

// Server exposes the core over HTTP.
type Server struct {
	engine      *book.Engine
	coord       *settle.Coordinator
	registry    *whitelist.Registry
	store       *store.Store // optional
	limiter     *TraderRateLimiter
	autoProcess bool
	log         *zap.Logger
}

// NewServer wires the API. st may be nil; autoProcess drains the match
// queue right after any submission that produced matches.
func NewServer(engine *book.Engine, coord *settle.Coordinator, registry *whitelist.Registry, st *store.Store, limiter *TraderRateLimiter, autoProcess bool, log *zap.Logger) *Server {
	return &Server{
		engine:      engine,
		coord:       coord,
		registry:    registry,
		store:       st,
		limiter:     limiter,
		autoProcess: autoProcess,
		log:         log,
	}
}

// Routes mounts every endpoint. ws, when non-nil, is mounted at /ws.
func (s *Server) Routes(ws http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /orderbook", s.handleOrderBook)
	mux.HandleFunc("GET /matches", s.handleMatches)
	mux.HandleFunc("GET /settlements", s.handleSettlements)
	mux.HandleFunc("POST /signatures", s.handleSubmitSignature)
	mux.HandleFunc("POST /admin/process-matches", s.handleProcessMatches)
	mux.HandleFunc("POST /admin/whitelist", s.handleRebuildWhitelist)
	if ws != nil {
		mux.Handle("/ws", ws)
	}
	return mux
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	MatchID string `json:"matchId,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message, matchID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]apiError{"error": {Code: code, Message: message, MatchID: matchID}})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encoding failed", zap.Error(err))
	}
}

// --- order submission ---

// SubmitOrderRequest mirrors PrivateOrder minus the server-assigned
// timestamp. Quantity and price are trader-facing decimals.
type SubmitOrderRequest struct {
	Commitment     string `json:"commitment"`
	Trader         string `json:"trader"`
	AssetAddress   string `json:"assetAddress"`
	Symbol         string `json:"symbol"`
	Side           int    `json:"side"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	Secret         string `json:"secret"`
	Nonce          string `json:"nonce"`
	Expiry         int64  `json:"expiry"` // unix milliseconds
	WhitelistIndex *int   `json:"whitelistIndex,omitempty"`
}

// SubmitOrderResponse reports the submission outcome and the post-match
// book.
type SubmitOrderResponse struct {
	Accepted       bool          `json:"accepted"`
	PendingMatches int           `json:"pendingMatches"`
	OrderBook      OrderBookView `json:"orderBookSnapshot"`
	NoMatchReason  string        `json:"noMatchReason,omitempty"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-input", fmt.Sprintf("malformed request: %v", err), "")
		return
	}

	order, reason := s.buildOrder(&req)
	if reason != "" {
		s.writeError(w, http.StatusBadRequest, "invalid-input", reason, "")
		return
	}

	if s.limiter != nil && !s.limiter.Allow(order.Trader) {
		s.writeError(w, http.StatusTooManyRequests, "rate-limited", "too many submissions, slow down", "")
		return
	}

	res, err := s.engine.Submit(order)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "internal", err.Error(), "")
		return
	}
	s.log.Info("order accepted",
		zap.String("trader", order.Trader),
		zap.String("asset", order.Asset),
		zap.String("side", order.Side.String()),
		zap.Int("matches", len(res.Matches)),
	)

	if s.autoProcess && len(res.Matches) > 0 {
		go func() {
			if _, err := s.ProcessPending(); err != nil {
				s.log.Error("auto-processing failed", zap.Error(err))
			}
		}()
	}

	s.writeJSON(w, SubmitOrderResponse{
		Accepted:       true,
		PendingMatches: len(res.Matches),
		OrderBook:      orderBookView(res.Snapshot),
		NoMatchReason:  res.NoMatchReason,
	})
}

// buildOrder validates the request and assembles the engine order. The
// returned reason is empty on success.
func (s *Server) buildOrder(req *SubmitOrderRequest) (*book.Order, string) {
	if err := validateAddress("trader", req.Trader); err != nil {
		return nil, err.Error()
	}
	if err := validateAddress("asset", req.AssetAddress); err != nil {
		return nil, err.Error()
	}
	symbol, err := normalizeSymbol(req.Symbol)
	if err != nil {
		return nil, err.Error()
	}
	if req.Side != int(book.Buy) && req.Side != int(book.Sell) {
		return nil, fmt.Sprintf("side must be %d (buy) or %d (sell)", book.Buy, book.Sell)
	}
	quantity, err := scaleAmount("quantity", req.Quantity)
	if err != nil {
		return nil, err.Error()
	}
	price, err := scaleAmount("price", req.Price)
	if err != nil {
		return nil, err.Error()
	}
	expiry := time.UnixMilli(req.Expiry)
	if !expiry.After(time.Now()) {
		return nil, "expiry must be in the future"
	}

	commitment, err := field.FromDecimal(req.Commitment)
	if err != nil {
		return nil, fmt.Sprintf("commitment: %v", err)
	}
	secret, err := field.FromDecimal(req.Secret)
	if err != nil {
		return nil, fmt.Sprintf("secret: %v", err)
	}
	nonce, err := field.FromDecimal(req.Nonce)
	if err != nil {
		return nil, fmt.Sprintf("nonce: %v", err)
	}

	assetHash, err := commit.HashAsset(req.AssetAddress)
	if err != nil {
		return nil, fmt.Sprintf("asset hash: %v", err)
	}
	recomputed, err := commit.Commitment(assetHash, uint8(req.Side), quantity, price, nonce, secret)
	if err != nil {
		return nil, fmt.Sprintf("commitment recompute: %v", err)
	}
	if recomputed.Cmp(commitment) != 0 {
		return nil, "commitment mismatch: not reproducible from the submitted fields"
	}

	index, ok := s.registry.IndexOfAddress(req.Trader)
	if !ok {
		return nil, "trader is not on the compliance whitelist"
	}
	if req.WhitelistIndex != nil && *req.WhitelistIndex != index {
		return nil, fmt.Sprintf("whitelist index %d does not match the registry (%d)", *req.WhitelistIndex, index)
	}

	return &book.Order{
		Commitment:     commitment,
		Trader:         req.Trader,
		Asset:          req.AssetAddress,
		Symbol:         symbol,
		Side:           book.Side(req.Side),
		Quantity:       quantity,
		Price:          price,
		Secret:         secret,
		Nonce:          nonce,
		Expiry:         expiry,
		WhitelistIndex: index,
	}, ""
}

// --- order book query ---

// OrderBookView is the public book shape: counts plus raw decimal-string
// arrays of the scaled integers.
type OrderBookView struct {
	Buys           int      `json:"buys"`
	Sells          int      `json:"sells"`
	BuyQuantities  []string `json:"buyQuantities"`
	SellQuantities []string `json:"sellQuantities"`
	BuyPrices      []string `json:"buyPrices"`
	SellPrices     []string `json:"sellPrices"`
}

func orderBookView(snap book.Snapshot) OrderBookView {
	v := OrderBookView{
		Buys:           len(snap.Buys),
		Sells:          len(snap.Sells),
		BuyQuantities:  make([]string, 0, len(snap.Buys)),
		SellQuantities: make([]string, 0, len(snap.Sells)),
		BuyPrices:      make([]string, 0, len(snap.Buys)),
		SellPrices:     make([]string, 0, len(snap.Sells)),
	}
	for _, e := range snap.Buys {
		v.BuyQuantities = append(v.BuyQuantities, strconv.FormatInt(e.Quantity, 10))
		v.BuyPrices = append(v.BuyPrices, strconv.FormatInt(e.Price, 10))
	}
	for _, e := range snap.Sells {
		v.SellQuantities = append(v.SellQuantities, strconv.FormatInt(e.Quantity, 10))
		v.SellPrices = append(v.SellPrices, strconv.FormatInt(e.Price, 10))
	}
	return v
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if err := validateAddress("asset", asset); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-input", err.Error(), "")
		return
	}
	snap, err := s.engine.SnapshotAsset(asset)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "internal", err.Error(), "")
		return
	}
	s.writeJSON(w, orderBookView(snap))
}

// --- match and settlement queries ---

// MatchView renders a match with all big integers as decimal strings.
type MatchView struct {
	MatchID           string `json:"matchId"`
	Asset             string `json:"asset"`
	Symbol            string `json:"symbol"`
	Buyer             string `json:"buyer"`
	Seller            string `json:"seller"`
	ExecutionPrice    string `json:"executionPrice"`
	ExecutionQuantity string `json:"executionQuantity"`
	Timestamp         int64  `json:"timestamp"`
}

func matchView(m *book.Match) MatchView {
	return MatchView{
		MatchID:           m.ID,
		Asset:             m.Buy.Asset,
		Symbol:            m.Buy.Symbol,
		Buyer:             m.Buy.Trader,
		Seller:            m.Sell.Trader,
		ExecutionPrice:    strconv.FormatInt(m.ExecutionPrice, 10),
		ExecutionQuantity: strconv.FormatInt(m.ExecutionQuantity, 10),
		Timestamp:         m.Timestamp.UnixMilli(),
	}
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.engine.Matches()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "internal", err.Error(), "")
		return
	}
	out := make([]MatchView, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchView(m))
	}
	s.writeJSON(w, out)
}

// SettlementView renders a record with proof material as hex.
type SettlementView struct {
	MatchID       string `json:"matchId"`
	Asset         string `json:"asset"`
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	Status        string `json:"status"`
	Nullifier     string `json:"nullifier,omitempty"`
	Proof         string `json:"proof,omitempty"`
	PublicSignals string `json:"publicSignals,omitempty"`
	BuyerSigned   bool   `json:"buyerSigned"`
	SellerSigned  bool   `json:"sellerSigned"`
	TxHash        string `json:"txHash,omitempty"`
	Error         string `json:"error,omitempty"`
	UpdatedAt     int64  `json:"updatedAt"`
}

func settlementView(rec *settle.Record) SettlementView {
	return SettlementView{
		MatchID:       rec.MatchID,
		Asset:         rec.Asset,
		Buyer:         rec.Buyer,
		Seller:        rec.Seller,
		Status:        string(rec.Status),
		Nullifier:     rec.NullifierHex,
		Proof:         hex.EncodeToString(rec.ProofBytes),
		PublicSignals: hex.EncodeToString(rec.PublicSignalsBytes),
		BuyerSigned:   rec.BuyerSigned,
		SellerSigned:  rec.SellerSigned,
		TxHash:        rec.TxHash,
		Error:         rec.Error,
		UpdatedAt:     rec.UpdatedAt.UnixMilli(),
	}
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader != "" {
		if err := validateAddress("trader", trader); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid-input", err.Error(), "")
			return
		}
	}
	records := s.coord.Records(trader)
	out := make([]SettlementView, 0, len(records))
	for _, rec := range records {
		out = append(out, settlementView(rec))
	}
	s.writeJSON(w, out)
}

// --- signatures ---

// SubmitSignatureRequest uploads one side's settlement signature.
type SubmitSignatureRequest struct {
	MatchID   string `json:"matchId"`
	Role      string `json:"role"`
	Signature string `json:"signature"`
}

// SubmitSignatureResponse reports the rendezvous state.
type SubmitSignatureResponse struct {
	MatchID      string `json:"matchId"`
	BuyerSigned  bool   `json:"buyerSigned"`
	SellerSigned bool   `json:"sellerSigned"`
}

func (s *Server) handleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	var req SubmitSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-input", fmt.Sprintf("malformed request: %v", err), "")
		return
	}
	if req.MatchID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid-input", "matchId is required", "")
		return
	}
	buyerSigned, sellerSigned, err := s.coord.SubmitSignature(req.MatchID, settle.Role(req.Role), req.Signature)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-input", err.Error(), req.MatchID)
		return
	}
	s.writeJSON(w, SubmitSignatureResponse{
		MatchID:      req.MatchID,
		BuyerSigned:  buyerSigned,
		SellerSigned: sellerSigned,
	})
}

// --- administrative ---

// matchLogEntry is the durable, secret-free projection of a match.
type matchLogEntry struct {
	MatchID           string `json:"matchId"`
	Asset             string `json:"asset"`
	Buyer             string `json:"buyer"`
	Seller            string `json:"seller"`
	ExecutionPrice    int64  `json:"executionPrice"`
	ExecutionQuantity int64  `json:"executionQuantity"`
	Timestamp         int64  `json:"timestamp"`
}

// ProcessPending drains the match queue through the settlement pipeline.
func (s *Server) ProcessPending() (int, error) {
	matches, err := s.engine.DrainPending()
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, m := range matches {
		if s.store != nil {
			entry := matchLogEntry{
				MatchID:           m.ID,
				Asset:             m.Buy.Asset,
				Buyer:             m.Buy.Trader,
				Seller:            m.Sell.Trader,
				ExecutionPrice:    m.ExecutionPrice,
				ExecutionQuantity: m.ExecutionQuantity,
				Timestamp:         m.Timestamp.UnixMilli(),
			}
			if err := s.store.PutJSON(store.PrefixMatch, m.ID, entry); err != nil {
				s.log.Error("match log persistence failed",
					zap.String("matchId", m.ID),
					zap.Error(err),
				)
			}
		}
		if err := s.coord.Process(m); err != nil {
			s.log.Error("settlement intake failed",
				zap.String("matchId", m.ID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *Server) handleProcessMatches(w http.ResponseWriter, r *http.Request) {
	n, err := s.ProcessPending()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "internal", err.Error(), "")
		return
	}
	s.writeJSON(w, map[string]int{"processed": n})
}

// RebuildWhitelistRequest carries the ordered registry participant list.
type RebuildWhitelistRequest struct {
	Addresses []string `json:"addresses"`
}

// handleRebuildWhitelist publishes a fresh whitelist snapshot after the
// on-chain registry changes. In-flight proofs keep the snapshot they took.
func (s *Server) handleRebuildWhitelist(w http.ResponseWriter, r *http.Request) {
	var req RebuildWhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-input", fmt.Sprintf("malformed request: %v", err), "")
		return
	}
	if len(req.Addresses) == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid-input", "addresses must not be empty", "")
		return
	}
	for _, a := range req.Addresses {
		if err := validateAddress("participant", a); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid-input", err.Error(), "")
			return
		}
	}
	tree, err := s.registry.RebuildFromAddresses(req.Addresses)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "internal", err.Error(), "")
		return
	}
	s.writeJSON(w, map[string]any{
		"participants": tree.Size(),
		"root":         field.Decimal(tree.Root()),
	})
}
