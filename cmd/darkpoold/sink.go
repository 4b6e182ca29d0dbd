// sink.go - Settlement relayer client.
//
// The on-chain settlement contract lives behind an external relayer that
// builds and submits the transaction. The daemon POSTs the settlement
// packet and reads back either a transaction hash or an error. Network
// failures and 5xx responses are transient; 4xx responses are terminal
// (e.g. a spent nullifier).
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"darkpool/internal/settle"
)

type relayerSink struct {
	url    string
	client *http.Client
}

func newRelayerSink(url string) *relayerSink {
	return &relayerSink{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type relayerRequest struct {
	MatchID           string `json:"matchId"`
	Asset             string `json:"asset"`
	Buyer             string `json:"buyer"`
	Seller            string `json:"seller"`
	ExecutionPrice    int64  `json:"executionPrice"`
	ExecutionQuantity int64  `json:"executionQuantity"`
	Proof             string `json:"proof"`
	PublicSignals     string `json:"publicSignals"`
	Nullifier         string `json:"nullifier"`
	BuyerSignature    string `json:"buyerSignature"`
	SellerSignature   string `json:"sellerSignature"`
}

type relayerResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error"`
}

func (s *relayerSink) Submit(ctx context.Context, p *settle.Packet) (string, error) {
	body, err := json.Marshal(relayerRequest{
		MatchID:           p.MatchID,
		Asset:             p.Asset,
		Buyer:             p.Buyer,
		Seller:            p.Seller,
		ExecutionPrice:    p.ExecutionPrice,
		ExecutionQuantity: p.ExecutionQuantity,
		Proof:             hex.EncodeToString(p.ProofBytes),
		PublicSignals:     hex.EncodeToString(p.PublicSignals),
		Nullifier:         p.NullifierHex,
		BuyerSignature:    p.BuyerSignature,
		SellerSignature:   p.SellerSignature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal settlement packet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build relayer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &settle.TransientError{Err: fmt.Errorf("relayer unreachable: %w", err)}
	}
	defer resp.Body.Close()

	var out relayerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &settle.TransientError{Err: fmt.Errorf("relayer response undecodable: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500:
		return "", &settle.TransientError{Err: fmt.Errorf("relayer %d: %s", resp.StatusCode, out.Error)}
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("relayer rejected settlement: %s", out.Error)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("relayer returned no transaction hash")
	}
	return out.TxHash, nil
}
