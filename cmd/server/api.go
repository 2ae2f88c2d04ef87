package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"shares-market/internal/domain"
	"shares-market/internal/feed"
	"shares-market/internal/market"
	"shares-market/internal/observability"
	"shares-market/internal/signature"
	"shares-market/internal/storage"
)

// Server exposes the market over HTTP.
type Server struct {
	market     *market.Market
	authority  *market.Authority
	verifier   *signature.Verifier
	hub        *feed.Hub
	stores     *allStores
	adminToken string
	logger     *log.Logger

	mu      sync.Mutex
	started time.Time
	trades  int
}

// ServerOptions contains configuration for creating a Server.
type ServerOptions struct {
	Market     *market.Market
	Authority  *market.Authority
	Verifier   *signature.Verifier
	Hub        *feed.Hub
	Stores     *allStores
	AdminToken string
	Logger     *log.Logger
}

// NewServer creates a Server.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		market:     opts.Market,
		authority:  opts.Authority,
		verifier:   opts.Verifier,
		hub:        opts.Hub,
		stores:     opts.Stores,
		adminToken: opts.AdminToken,
		logger:     logger,
		started:    time.Now(),
	}
}

// Routes builds the HTTP route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	s.handle(mux, "POST /trades/buy", s.handleBuy)
	s.handle(mux, "POST /trades/sell", s.handleSell)
	s.handle(mux, "POST /liquidity", s.handleAddLiquidity)

	s.handle(mux, "GET /subjects/{subject}/supply", s.handleSupply)
	s.handle(mux, "GET /subjects/{subject}/price", s.handlePrice)
	s.handle(mux, "GET /subjects/{subject}/trades", s.handleSubjectTrades)
	s.handle(mux, "GET /subjects/{subject}/volume", s.handleVolume)
	s.handle(mux, "GET /users/{user}/shares", s.handleUserShares)

	s.handle(mux, "POST /verify-signature", s.handleVerifySignature)

	s.handle(mux, "POST /admin/withdraw-fees", s.requireAdmin(s.handleWithdrawFees))
	s.handle(mux, "POST /admin/fee-destination", s.requireAdmin(s.handleFeeDestination))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", observability.Handler())

	if s.hub != nil {
		// Registered raw: the upgrade hijacks the connection, which the
		// instrumented wrapper cannot observe.
		mux.Handle("GET /ws/trades", s.hub)
	}

	return mux
}

// handle registers a handler wrapped with request metrics.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		observability.DefaultMetrics.HTTPRequestDuration.
			WithLabelValues(pattern, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type tradeRequest struct {
	Trader  string `json:"trader"`
	Subject string `json:"subject"`
	Amount  uint64 `json:"amount"`
	Payment uint64 `json:"payment"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	trader, subject, ok := s.parseParties(w, req.Trader, req.Subject)
	if !ok {
		return
	}

	refund, err := s.market.Buy(trader, subject, req.Amount, req.Payment)
	if err != nil {
		observability.RecordTradeRejected(rejectReason(err))
		s.writeError(w, err)
		return
	}

	observability.RecordTrade("buy", req.Payment-refund)
	observability.UpdateFundBalances(s.market.PoolBalance(), s.market.ProtocolFeeBalance())
	s.countTrade()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"refund": refund,
		"supply": s.market.CurrentSupply(subject),
	})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	trader, subject, ok := s.parseParties(w, req.Trader, req.Subject)
	if !ok {
		return
	}

	payout, err := s.market.Sell(trader, subject, req.Amount)
	if err != nil {
		observability.RecordTradeRejected(rejectReason(err))
		s.writeError(w, err)
		return
	}

	observability.RecordTrade("sell", payout)
	observability.UpdateFundBalances(s.market.PoolBalance(), s.market.ProtocolFeeBalance())
	s.countTrade()

	s.writeJSON(w, http.StatusOK, map[string]any{
		"payout": payout,
		"supply": s.market.CurrentSupply(subject),
	})
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount  uint64 `json:"amount"`
		Payment uint64 `json:"payment"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	refund, err := s.market.AddLiquidity(req.Amount, req.Payment)
	if err != nil {
		s.writeError(w, err)
		return
	}

	observability.UpdateFundBalances(s.market.PoolBalance(), s.market.ProtocolFeeBalance())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"refund": refund,
		"pool":   s.market.PoolBalance(),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.parseAddressParam(w, r, "subject")
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"subject": subject.String(),
		"supply":  s.market.CurrentSupply(subject),
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.parseAddressParam(w, r, "subject")
	if !ok {
		return
	}

	amount := uint64(1)
	if v := r.URL.Query().Get("amount"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil || parsed == 0 {
			s.writeErrorMessage(w, http.StatusBadRequest, "invalid amount")
			return
		}
		amount = parsed
	}

	side := r.URL.Query().Get("side")
	if side == "" {
		side = "buy"
	}
	afterFee := r.URL.Query().Get("after_fee") == "true"

	var price uint64
	var err error
	switch side {
	case "buy":
		if afterFee {
			price = s.market.BuyPriceAfterFee(subject, amount)
		} else {
			price = s.market.BuyPrice(subject, amount)
		}
	case "sell":
		if afterFee {
			price, err = s.market.SellPriceAfterFee(subject, amount)
		} else {
			price, err = s.market.SellPrice(subject, amount)
		}
	default:
		s.writeErrorMessage(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"subject":   subject.String(),
		"amount":    amount,
		"side":      side,
		"after_fee": afterFee,
		"price":     price,
	})
}

func (s *Server) handleSubjectTrades(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.parseAddressParam(w, r, "subject")
	if !ok {
		return
	}

	events, err := s.stores.events.GetBySubject(r.Context(), subject)
	if err != nil {
		s.writeError(w, err)
		return
	}

	messages := make([]feed.Message, 0, len(events))
	for _, ev := range events {
		messages = append(messages, feed.NewMessage(*ev))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"subject": subject.String(),
		"trades":  messages,
	})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.parseAddressParam(w, r, "subject")
	if !ok {
		return
	}

	startMs := int64(0)
	endMs := time.Now().UnixMilli()
	if v := r.URL.Query().Get("start_ms"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeErrorMessage(w, http.StatusBadRequest, "invalid start_ms")
			return
		}
		startMs = parsed
	}
	if v := r.URL.Query().Get("end_ms"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeErrorMessage(w, http.StatusBadRequest, "invalid end_ms")
			return
		}
		endMs = parsed
	}

	stats, err := s.stores.analytics.VolumeBySubject(r.Context(), subject, startMs, endMs)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"subject":      stats.Subject.String(),
		"trade_count":  stats.TradeCount,
		"buy_volume":   stats.BuyVolume,
		"sell_volume":  stats.SellVolume,
		"gross_value":  stats.GrossValue,
		"protocol_fee": stats.ProtocolFee,
		"subject_fee":  stats.SubjectFee,
	})
}

func (s *Server) handleUserShares(w http.ResponseWriter, r *http.Request) {
	user, ok := s.parseAddressParam(w, r, "user")
	if !ok {
		return
	}

	holdings, err := s.stores.holdings.GetByTrader(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type shareEntry struct {
		Subject     string `json:"subject"`
		ShareAmount uint64 `json:"share_amount"`
		UpdatedAt   int64  `json:"updated_at"`
	}
	shares := make([]shareEntry, 0, len(holdings))
	for _, h := range holdings {
		shares = append(shares, shareEntry{
			Subject:     h.Subject.String(),
			ShareAmount: h.ShareAmount,
			UpdatedAt:   h.UpdatedAt,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"user":   user.String(),
		"shares": shares,
	})
}

func (s *Server) handleVerifySignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address    string `json:"address"`
		Message    string `json:"message"`
		Signature  string `json:"signature"`
		ExternalID string `json:"external_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	mapping, err := s.verifier.VerifyAndBind(r.Context(), signature.BindRequest{
		Address:    req.Address,
		Message:    req.Message,
		Signature:  req.Signature,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			// Remaining verifier failures are malformed client input,
			// e.g. an address that does not parse.
			status = http.StatusBadRequest
		}
		s.writeErrorMessage(w, status, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"address":     mapping.Address.String(),
		"external_id": mapping.ExternalID,
	})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	withdrawn := s.authority.WithdrawProtocolFees()
	observability.RecordFeesWithdrawn(withdrawn)
	observability.UpdateFundBalances(s.market.PoolBalance(), s.market.ProtocolFeeBalance())

	s.writeJSON(w, http.StatusOK, map[string]any{
		"withdrawn":   withdrawn,
		"destination": s.market.FeeDestination().String(),
	})
}

func (s *Server) handleFeeDestination(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination string `json:"destination"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	dest, err := domain.ParseAddress(req.Destination)
	if err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	s.authority.UpdateFeeDestination(dest)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"destination": dest.String(),
	})
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status             string `json:"status"`
	Uptime             string `json:"uptime"`
	TradesExecuted     int    `json:"trades_executed"`
	PoolBalance        uint64 `json:"pool_balance"`
	ProtocolFeeBalance uint64 `json:"protocol_fee_balance"`
	FeedClients        int    `json:"feed_clients"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	trades := s.trades
	uptime := time.Since(s.started)
	s.mu.Unlock()

	resp := StatusResponse{
		Status:             "running",
		Uptime:             uptime.String(),
		TradesExecuted:     trades,
		PoolBalance:        s.market.PoolBalance(),
		ProtocolFeeBalance: s.market.ProtocolFeeBalance(),
	}
	if s.hub != nil {
		resp.FeedClients = s.hub.ClientCount()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// requireAdmin gates a handler behind the bearer token.
func (s *Server) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			s.writeErrorMessage(w, http.StatusForbidden, "admin endpoints are disabled")
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix ||
			subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(s.adminToken)) != 1 {
			s.writeErrorMessage(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		h(w, r)
	}
}

func (s *Server) countTrade() {
	s.mu.Lock()
	s.trades++
	s.mu.Unlock()
}

// decode reads a JSON body, replying with 400 on malformed input.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// parseParties parses the trader and subject addresses of a trade request.
func (s *Server) parseParties(w http.ResponseWriter, trader, subject string) (domain.Address, domain.Address, bool) {
	t, err := domain.ParseAddress(trader)
	if err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "trader: "+err.Error())
		return "", "", false
	}
	sub, err := domain.ParseAddress(subject)
	if err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, "subject: "+err.Error())
		return "", "", false
	}
	return t, sub, true
}

func (s *Server) parseAddressParam(w http.ResponseWriter, r *http.Request, name string) (domain.Address, bool) {
	addr, err := domain.ParseAddress(r.PathValue(name))
	if err != nil {
		s.writeErrorMessage(w, http.StatusBadRequest, name+": "+err.Error())
		return "", false
	}
	return addr, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorMessage(w, statusForError(err), err.Error())
}

func (s *Server) writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, market.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrInsufficientPayment),
		errors.Is(err, market.ErrOnlyFirstBuyerIsSubject),
		errors.Is(err, market.ErrInsufficientShares),
		errors.Is(err, market.ErrCannotSellLastShare),
		errors.Is(err, market.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, signature.ErrUserBanned):
		return http.StatusForbidden
	case errors.Is(err, signature.ErrSignatureMismatch),
		errors.Is(err, signature.ErrMessageMismatch),
		errors.Is(err, signature.ErrInvalidSignature),
		errors.Is(err, signature.ErrInvalidPublicKey):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// rejectReason labels a trade rejection for metrics.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, market.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, market.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, market.ErrOnlyFirstBuyerIsSubject):
		return "not_subject"
	case errors.Is(err, market.ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, market.ErrCannotSellLastShare):
		return "last_share"
	case errors.Is(err, market.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	default:
		return "other"
	}
}
