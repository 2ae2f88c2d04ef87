package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mr-tron/base58"

	"shares-market/internal/domain"
	"shares-market/internal/indexer"
	"shares-market/internal/market"
	"shares-market/internal/signature"
	"shares-market/internal/storage/memory"
)

var (
	subjAddr  = "0x" + strings.Repeat("ab", 20)
	aliceAddr = "0x" + strings.Repeat("aa", 20)
	feeAddr   = "0x" + strings.Repeat("fe", 20)
)

// newTestServer wires the market straight into the indexer so mirrored
// state is visible as soon as a trade returns.
func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()

	stores := &allStores{
		holdings:  memory.NewHoldingStore(),
		events:    memory.NewTradeEventStore(),
		users:     memory.NewUserMappingStore(),
		progress:  memory.NewSyncProgressStore(),
		analytics: memory.NewTradeAnalyticsStore(),
	}

	ix := indexer.New(indexer.Options{
		Holdings:  stores.holdings,
		Events:    stores.events,
		Progress:  stores.progress,
		Analytics: stores.analytics,
		BatchSize: 1,
	})
	if err := ix.Start(context.Background()); err != nil {
		t.Fatalf("start indexer: %v", err)
	}

	mkt, authority := market.New(market.Options{
		FeeDestination: domain.Address(feeAddr),
		Trades: market.TradeSinkFunc(func(ev domain.TradeEvent) {
			if err := ix.Apply(context.Background(), ev); err != nil {
				t.Errorf("apply event seq %d: %v", ev.Seq, err)
			}
		}),
	})

	verifier := signature.NewVerifier(signature.Options{Users: stores.users})

	server := NewServer(ServerOptions{
		Market:     mkt,
		Authority:  authority,
		Verifier:   verifier,
		Stores:     stores,
		AdminToken: "secret",
	})
	return server, server.Routes()
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any, wantStatus int) map[string]any {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != wantStatus {
		t.Fatalf("%s %s: status %d, want %d (body %s)", method, path, rec.Code, wantStatus, rec.Body.String())
	}

	var out map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
	}
	return out
}

func TestTradeFlow(t *testing.T) {
	_, mux := newTestServer(t)

	// Only the subject may open a fresh curve.
	doJSON(t, mux, "POST", "/trades/buy", tradeRequest{
		Trader: aliceAddr, Subject: subjAddr, Amount: 1, Payment: 1_000_000_000,
	}, http.StatusUnprocessableEntity)

	// Bootstrap: the first share is free.
	resp := doJSON(t, mux, "POST", "/trades/buy", tradeRequest{
		Trader: subjAddr, Subject: subjAddr, Amount: 1, Payment: 0,
	}, http.StatusOK)
	if resp["refund"].(float64) != 0 || resp["supply"].(float64) != 1 {
		t.Fatalf("bootstrap response: %v", resp)
	}

	resp = doJSON(t, mux, "POST", "/trades/buy", tradeRequest{
		Trader: aliceAddr, Subject: subjAddr, Amount: 1, Payment: 70_000_000,
	}, http.StatusOK)
	if resp["refund"].(float64) != 1_250_000 {
		t.Errorf("refund = %v, want 1250000", resp["refund"])
	}

	resp = doJSON(t, mux, "GET", "/subjects/"+subjAddr+"/supply", nil, http.StatusOK)
	if resp["supply"].(float64) != 2 {
		t.Errorf("supply = %v, want 2", resp["supply"])
	}

	// The mirror already shows the holding.
	resp = doJSON(t, mux, "GET", "/users/"+aliceAddr+"/shares", nil, http.StatusOK)
	shares := resp["shares"].([]any)
	if len(shares) != 1 {
		t.Fatalf("shares = %v", shares)
	}
	entry := shares[0].(map[string]any)
	if entry["subject"] != subjAddr || entry["share_amount"].(float64) != 1 {
		t.Errorf("share entry = %v", entry)
	}

	// The pool is short of the gross sell price until topped up.
	doJSON(t, mux, "POST", "/trades/sell", tradeRequest{
		Trader: aliceAddr, Subject: subjAddr, Amount: 1,
	}, http.StatusUnprocessableEntity)

	doJSON(t, mux, "POST", "/liquidity", map[string]any{
		"amount": 10_000_000, "payment": 10_000_000,
	}, http.StatusOK)

	resp = doJSON(t, mux, "POST", "/trades/sell", tradeRequest{
		Trader: aliceAddr, Subject: subjAddr, Amount: 1,
	}, http.StatusOK)
	if resp["payout"].(float64) != 56_250_000 {
		t.Errorf("payout = %v, want 56250000", resp["payout"])
	}

	// Trade history and analytics reflect all three trades.
	resp = doJSON(t, mux, "GET", "/subjects/"+subjAddr+"/trades", nil, http.StatusOK)
	if trades := resp["trades"].([]any); len(trades) != 3 {
		t.Errorf("trade history length = %d, want 3", len(trades))
	}
	resp = doJSON(t, mux, "GET", "/subjects/"+subjAddr+"/volume", nil, http.StatusOK)
	if resp["trade_count"].(float64) != 3 {
		t.Errorf("volume trade count = %v, want 3", resp["trade_count"])
	}
}

func TestPriceQuotes(t *testing.T) {
	_, mux := newTestServer(t)

	doJSON(t, mux, "POST", "/trades/buy", tradeRequest{
		Trader: subjAddr, Subject: subjAddr, Amount: 1, Payment: 0,
	}, http.StatusOK)

	resp := doJSON(t, mux, "GET", "/subjects/"+subjAddr+"/price", nil, http.StatusOK)
	if resp["price"].(float64) != 62_500_000 {
		t.Errorf("buy price = %v, want 62500000", resp["price"])
	}

	resp = doJSON(t, mux, "GET", "/subjects/"+subjAddr+"/price?after_fee=true", nil, http.StatusOK)
	if resp["price"].(float64) != 68_750_000 {
		t.Errorf("buy price after fee = %v, want 68750000", resp["price"])
	}

	// Selling the only share is quoted as impossible.
	doJSON(t, mux, "GET", "/subjects/"+subjAddr+"/price?side=sell", nil, http.StatusUnprocessableEntity)

	doJSON(t, mux, "GET", "/subjects/"+subjAddr+"/price?amount=0", nil, http.StatusBadRequest)
	doJSON(t, mux, "GET", "/subjects/"+subjAddr+"/price?side=hold", nil, http.StatusBadRequest)
	doJSON(t, mux, "GET", "/subjects/nonsense/price", nil, http.StatusBadRequest)
}

func TestAdminEndpoints(t *testing.T) {
	_, mux := newTestServer(t)

	doJSON(t, mux, "POST", "/trades/buy", tradeRequest{
		Trader: subjAddr, Subject: subjAddr, Amount: 1, Payment: 0,
	}, http.StatusOK)
	doJSON(t, mux, "POST", "/trades/buy", tradeRequest{
		Trader: aliceAddr, Subject: subjAddr, Amount: 1, Payment: 68_750_000,
	}, http.StatusOK)

	// Missing and wrong tokens are refused.
	req := httptest.NewRequest("POST", "/admin/withdraw-fees", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/admin/withdraw-fees", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/admin/withdraw-fees", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw: status %d (body %s)", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["withdrawn"].(float64) != 3_125_000 {
		t.Errorf("withdrawn = %v, want 3125000", out["withdrawn"])
	}
	if out["destination"] != feeAddr {
		t.Errorf("destination = %v, want %s", out["destination"], feeAddr)
	}

	newDest := "0x" + strings.Repeat("cd", 20)
	body, _ := json.Marshal(map[string]string{"destination": newDest})
	req = httptest.NewRequest("POST", "/admin/fee-destination", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fee destination: status %d", rec.Code)
	}
}

func TestVerifySignatureEndpoint(t *testing.T) {
	_, mux := newTestServer(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	message := "bind wallet to account 12345"
	sig := ed25519.Sign(priv, []byte(message))

	body := map[string]string{
		"address":     base58.Encode(pub),
		"message":     message,
		"signature":   base58.Encode(sig),
		"external_id": "12345",
	}
	resp := doJSON(t, mux, "POST", "/verify-signature", body, http.StatusOK)
	if resp["external_id"] != "12345" {
		t.Errorf("external_id = %v", resp["external_id"])
	}

	body["message"] = "bind wallet to account 12345 tampered"
	doJSON(t, mux, "POST", "/verify-signature", body, http.StatusUnauthorized)

	body["message"] = "unrelated text"
	doJSON(t, mux, "POST", "/verify-signature", body, http.StatusUnauthorized)
}

func TestHealthAndStatus(t *testing.T) {
	_, mux := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}

	doJSON(t, mux, "POST", "/trades/buy", tradeRequest{
		Trader: subjAddr, Subject: subjAddr, Amount: 1, Payment: 0,
	}, http.StatusOK)

	req = httptest.NewRequest("GET", "/status", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var status StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Status != "running" || status.TradesExecuted != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestMalformedBodies(t *testing.T) {
	_, mux := newTestServer(t)

	req := httptest.NewRequest("POST", "/trades/buy", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status %d", rec.Code)
	}

	doJSON(t, mux, "POST", "/trades/buy", tradeRequest{
		Trader: "junk", Subject: subjAddr, Amount: 1, Payment: 0,
	}, http.StatusBadRequest)
}
