package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pointswap/native/exchange"
	"pointswap/services/pointswapd/config"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

func errorStatus(err error) int {
	if _, ok := exchange.IsSlippage(err); ok {
		return http.StatusConflict
	}
	switch {
	case errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrInvalidFeeRate),
		errors.Is(err, exchange.ErrInvalidRateValue),
		errors.Is(err, exchange.ErrArrayLengthMismatch),
		errors.Is(err, exchange.ErrInvalidPriceData):
		return http.StatusBadRequest
	case errors.Is(err, exchange.ErrAssetNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrAuthorizationFailed),
		errors.Is(err, exchange.ErrAuthorizationExpired):
		return http.StatusUnauthorized
	case errors.Is(err, exchange.ErrUnauthorized),
		errors.Is(err, exchange.ErrMissingPermissionRole),
		errors.Is(err, exchange.ErrNotWhitelisted),
		errors.Is(err, exchange.ErrExchangeClosed),
		errors.Is(err, exchange.ErrAssetDisabled):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrDailyLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, exchange.ErrInsufficientPointBalance),
		errors.Is(err, exchange.ErrInsufficientLiquidity),
		errors.Is(err, exchange.ErrNotPaused),
		errors.Is(err, exchange.ErrTreasuryNotSet):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrSystemPaused),
		errors.Is(err, exchange.ErrPriceDataStale),
		errors.Is(err, exchange.ErrNoValidPriceData):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func addrHex(addr exchange.Address) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type quotePayload struct {
	Symbol         string `json:"symbol"`
	PointAmount    string `json:"point_amount"`
	GrossAsset     string `json:"gross_asset"`
	NetAsset       string `json:"net_asset"`
	ExchangeFee    string `json:"exchange_fee"`
	OperationalFee string `json:"operational_fee"`
	PointRate      string `json:"point_rate"`
	AssetRate      string `json:"asset_rate"`
	PointSource    string `json:"point_source"`
	AssetSource    string `json:"asset_source"`
	MinOut         string `json:"min_out,omitempty"`
}

func quoteJSON(q *exchange.QuoteResult) quotePayload {
	payload := quotePayload{
		Symbol:         q.Symbol,
		PointAmount:    bigString(q.PointAmount),
		GrossAsset:     bigString(q.GrossAsset),
		NetAsset:       bigString(q.NetAsset),
		ExchangeFee:    bigString(q.ExchangeFee),
		OperationalFee: bigString(q.OperationalFee),
		PointRate:      bigString(q.PointRate),
		AssetRate:      bigString(q.AssetRate),
		PointSource:    q.PointSource.String(),
		AssetSource:    q.AssetSource.String(),
	}
	if q.MinOut != nil {
		payload.MinOut = q.MinOut.String()
	}
	return payload
}

type receiptPayload struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Relayer        string `json:"relayer"`
	Symbol         string `json:"symbol"`
	PointAmount    string `json:"point_amount"`
	GrossAsset     string `json:"gross_asset"`
	NetAsset       string `json:"net_asset"`
	ExchangeFee    string `json:"exchange_fee"`
	OperationalFee string `json:"operational_fee"`
	PointRate      string `json:"point_rate"`
	AssetRate      string `json:"asset_rate"`
	PointSource    string `json:"point_source"`
	AssetSource    string `json:"asset_source"`
	Delegated      bool   `json:"delegated"`
	CreatedAt      int64  `json:"created_at"`
}

func receiptJSON(r *exchange.Receipt) receiptPayload {
	return receiptPayload{
		ID:             r.ID,
		Owner:          addrHex(r.Owner),
		Relayer:        addrHex(r.Relayer),
		Symbol:         r.Symbol,
		PointAmount:    bigString(r.PointAmount),
		GrossAsset:     bigString(r.GrossAsset),
		NetAsset:       bigString(r.NetAsset),
		ExchangeFee:    bigString(r.ExchangeFee),
		OperationalFee: bigString(r.OperationalFee),
		PointRate:      bigString(r.PointRate),
		AssetRate:      bigString(r.AssetRate),
		PointSource:    r.PointSource.String(),
		AssetSource:    r.AssetSource.String(),
		Delegated:      r.Delegated,
		CreatedAt:      r.CreatedAt,
	}
}

type tokenPayload struct {
	Symbol    string `json:"symbol"`
	Address   string `json:"address"`
	Decimals  uint8  `json:"decimals"`
	FeeBps    uint64 `json:"fee_bps"`
	Enabled   bool   `json:"enabled"`
	OracleRef string `json:"oracle_ref,omitempty"`
}

func tokenJSON(cfg *exchange.AssetConfig) tokenPayload {
	return tokenPayload{
		Symbol:    cfg.Symbol,
		Address:   addrHex(cfg.Address),
		Decimals:  cfg.Decimals,
		FeeBps:    cfg.FeeBps,
		Enabled:   cfg.Enabled,
		OracleRef: cfg.OracleRef,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	paused, err := s.engine.Paused()
	if err != nil {
		writeError(w, err)
		return
	}
	mode, err := s.engine.AccessMode()
	if err != nil {
		writeError(w, err)
		return
	}
	maxFee, err := s.engine.MaxFee()
	if err != nil {
		writeError(w, err)
		return
	}
	rate, err := s.engine.RateConfig()
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := s.engine.DailyVolumeLimit()
	if err != nil {
		writeError(w, err)
		return
	}
	payload := map[string]interface{}{
		"paused":           paused,
		"access_mode":      mode.String(),
		"max_fee_bps":      maxFee,
		"rate_numerator":   rate.Numerator,
		"rate_denominator": rate.Denominator,
	}
	if limit != nil && limit.Sign() > 0 {
		payload["daily_limit"] = limit.String()
	}
	treasury, set, err := s.engine.Treasury()
	if err != nil {
		writeError(w, err)
		return
	}
	if set {
		payload["treasury"] = addrHex(treasury)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol       string `json:"symbol"`
		PointAmount  string `json:"point_amount"`
		SlippageBps  uint64 `json:"slippage_bps"`
		WithSlippage bool   `json:"with_slippage"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.PointAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	var quote *exchange.QuoteResult
	if req.WithSlippage || req.SlippageBps > 0 {
		quote, err = s.engine.QuoteWithSlippage(req.Symbol, amount, req.SlippageBps)
	} else {
		quote, err = s.engine.Quote(req.Symbol, amount)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteJSON(quote))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account     string `json:"account"`
		Symbol      string `json:"symbol"`
		PointAmount string `json:"point_amount"`
		MinOut      string `json:"min_out"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := config.ParseAddress(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.PointAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	var minOut *big.Int
	if strings.TrimSpace(req.MinOut) != "" {
		minOut, err = parseAmount(req.MinOut)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	started := time.Now()
	receipt, err := s.engine.Execute(r.Context(), account, req.Symbol, amount, minOut)
	s.metrics.ObserveSettlement(req.Symbol, "direct", time.Since(started), amount, err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordReceipt(r, receipt)
	writeJSON(w, http.StatusOK, receiptJSON(receipt))
}

func (s *Server) handleExecuteDelegated(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner       string `json:"owner"`
		Relayer     string `json:"relayer"`
		Symbol      string `json:"symbol"`
		PointAmount string `json:"point_amount"`
		MinOut      string `json:"min_out"`
		Nonce       string `json:"nonce"`
		Expiry      int64  `json:"expiry"`
		Signature   string `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	owner, err := config.ParseAddress(req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	relayer, err := config.ParseAddress(req.Relayer)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.PointAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	var minOut *big.Int
	if strings.TrimSpace(req.MinOut) != "" {
		minOut, err = parseAmount(req.MinOut)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	nonce, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Nonce), "0x"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid nonce: %w", err))
		return
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid signature: %w", err))
		return
	}
	auth := &exchange.Authorization{
		Owner:       owner,
		Symbol:      req.Symbol,
		PointAmount: amount,
		MinOut:      minOut,
		Nonce:       nonce,
		Expiry:      req.Expiry,
	}
	started := time.Now()
	receipt, err := s.engine.ExecuteWithAuthorization(r.Context(), relayer, auth, signature)
	s.metrics.ObserveSettlement(req.Symbol, "delegated", time.Since(started), amount, err)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordReceipt(r, receipt)
	writeJSON(w, http.StatusOK, receiptJSON(receipt))
}

func (s *Server) recordReceipt(r *http.Request, receipt *exchange.Receipt) {
	if err := s.audit.RecordReceipt(r.Context(), receipt); err != nil {
		s.logger.Error("record receipt failed", "error", err)
	}
	if pool, err := s.engine.PoolBalance(receipt.Symbol); err == nil {
		s.metrics.RecordPool(receipt.Symbol, pool)
	}
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.engine.Tokens()
	if err != nil {
		writeError(w, err)
		return
	}
	payload := make([]tokenPayload, 0, len(tokens))
	for _, cfg := range tokens {
		payload = append(payload, tokenJSON(cfg))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	cfg, ok, err := s.engine.Token(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, exchange.ErrAssetNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, tokenJSON(cfg))
}

func (s *Server) handleConfigureToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Decimals  uint8  `json:"decimals"`
		FeeBps    uint64 `json:"fee_bps"`
		Enabled   bool   `json:"enabled"`
		OracleRef string `json:"oracle_ref"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cfg := &exchange.AssetConfig{
		Symbol:    chi.URLParam(r, "symbol"),
		Decimals:  req.Decimals,
		FeeBps:    req.FeeBps,
		Enabled:   req.Enabled,
		OracleRef: req.OracleRef,
	}
	if strings.TrimSpace(req.Address) != "" {
		addr, err := config.ParseAddress(req.Address)
		if err != nil {
			writeError(w, err)
			return
		}
		cfg.Address = addr
	}
	if err := s.engine.ConfigureToken(s.admin, cfg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTokenEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SetTokenEnabled(s.admin, chi.URLParam(r, "symbol"), req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigureOperationalFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bps       uint64 `json:"bps"`
		Recipient string `json:"recipient"`
		Enabled   bool   `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	recipient, err := config.ParseAddress(req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.ConfigureOperationalFee(s.admin, chi.URLParam(r, "symbol"), req.Bps, recipient, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWithdrawOperationalFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount := big.NewInt(0)
	if strings.TrimSpace(req.Amount) != "" {
		parsed, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		amount = parsed
	}
	withdrawn, err := s.engine.WithdrawOperationalFee(s.admin, chi.URLParam(r, "symbol"), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": withdrawn.String()})
}

func (s *Server) handleFundLiquidity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	if err := s.engine.FundLiquidity(s.admin, symbol, amount); err != nil {
		writeError(w, err)
		return
	}
	if pool, err := s.engine.PoolBalance(symbol); err == nil {
		s.metrics.RecordPool(symbol, pool)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount := big.NewInt(0)
	if strings.TrimSpace(req.Amount) != "" {
		parsed, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		amount = parsed
	}
	symbol := chi.URLParam(r, "symbol")
	withdrawn, err := s.engine.EmergencyWithdraw(s.admin, symbol, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if pool, err := s.engine.PoolBalance(symbol); err == nil {
		s.metrics.RecordPool(symbol, pool)
	}
	s.logger.Info("emergency withdrawal", "symbol", symbol, "withdrawn", withdrawn.String(), "auth_method", s.authMethod(r))
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": withdrawn.String()})
}

func (s *Server) handleTokenStats(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	stats, err := s.engine.Stats(symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	pool, err := s.engine.PoolBalance(symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	accrued, err := s.engine.AccruedOperationalFee(symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":          stats.Symbol,
		"points_consumed": bigString(stats.PointsConsumed),
		"asset_paid":      bigString(stats.AssetPaid),
		"exchange_fee":    bigString(stats.ExchangeFee),
		"operational_fee": bigString(stats.OperationalFee),
		"exchange_count":  stats.ExchangeCount,
		"pool_balance":    bigString(pool),
		"accrued_op_fee":  bigString(accrued),
	})
}

type pricePayload struct {
	RoundID         uint64 `json:"round_id"`
	Answer          string `json:"answer"`
	StartedAt       uint64 `json:"started_at"`
	UpdatedAt       uint64 `json:"updated_at"`
	AnsweredInRound uint64 `json:"answered_in_round"`
	Decimals        uint8  `json:"decimals"`
}

func (p pricePayload) round() (exchange.PriceRoundData, error) {
	answer, err := parseAmount(p.Answer)
	if err != nil {
		return exchange.PriceRoundData{}, err
	}
	round := exchange.PriceRoundData{
		RoundID:         p.RoundID,
		Answer:          answer,
		StartedAt:       p.StartedAt,
		UpdatedAt:       p.UpdatedAt,
		AnsweredInRound: p.AnsweredInRound,
	}
	if round.AnsweredInRound == 0 {
		round.AnsweredInRound = round.RoundID
	}
	return round, nil
}

func (s *Server) handlePushPrice(w http.ResponseWriter, r *http.Request) {
	var req pricePayload
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	round, err := req.round()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.PushExternalPrice(s.admin, chi.URLParam(r, "symbol"), round, req.Decimals); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchPushPrices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbols []string       `json:"symbols"`
		Rounds  []pricePayload `json:"rounds"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rounds := make([]exchange.PriceRoundData, 0, len(req.Rounds))
	decimals := make([]uint8, 0, len(req.Rounds))
	for _, payload := range req.Rounds {
		round, err := payload.round()
		if err != nil {
			writeError(w, err)
			return
		}
		rounds = append(rounds, round)
		decimals = append(decimals, payload.Decimals)
	}
	if err := s.engine.BatchPushPrices(s.admin, req.Symbols, rounds, decimals); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAccessMode(w http.ResponseWriter, r *http.Request) {
	mode, err := s.engine.AccessMode()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": mode.String()})
}

func (s *Server) handleSetAccessMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode, ok := exchange.ParseAccessMode(req.Mode)
	if !ok {
		writeError(w, fmt.Errorf("unknown access mode %q", req.Mode))
		return
	}
	if err := s.engine.SetAccessMode(s.admin, mode); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateWhitelist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addresses []string `json:"addresses"`
		Allowed   bool     `json:"allowed"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	addrs := make([]exchange.Address, 0, len(req.Addresses))
	for _, raw := range req.Addresses {
		addr, err := config.ParseAddress(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		addrs = append(addrs, addr)
	}
	if err := s.engine.UpdateWhitelist(s.admin, addrs, req.Allowed); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWhitelisted(w http.ResponseWriter, r *http.Request) {
	addr, err := config.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	allowed, err := s.engine.Whitelisted(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"whitelisted": allowed})
}

func (s *Server) handleGetDailyLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := s.engine.DailyVolumeLimit()
	if err != nil {
		writeError(w, err)
		return
	}
	payload := map[string]string{"limit": "0"}
	if limit != nil {
		payload["limit"] = limit.String()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSetDailyLimit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit string `json:"limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	limit := big.NewInt(0)
	if strings.TrimSpace(req.Limit) != "" {
		parsed, err := parseAmount(req.Limit)
		if err != nil {
			writeError(w, err)
			return
		}
		limit = parsed
	}
	if err := s.engine.SetDailyVolumeLimit(s.admin, limit); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authMethod reports how the caller authenticated, for audit log lines on
// operator actions.
func (s *Server) authMethod(r *http.Request) string {
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		return principal.Method
	}
	return "unknown"
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(s.admin); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.SetPaused(true)
	s.logger.Info("exchange paused", "auth_method", s.authMethod(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unpause(s.admin); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.SetPaused(false)
	s.logger.Info("exchange unpaused", "auth_method", s.authMethod(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	treasury, err := config.ParseAddress(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SetTreasury(s.admin, treasury); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMaxFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxFeeBps uint64 `json:"max_fee_bps"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.UpdateMaxFee(s.admin, req.MaxFeeBps); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Numerator   uint64 `json:"numerator"`
		Denominator uint64 `json:"denominator"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.SetRateConfig(s.admin, req.Numerator, req.Denominator); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, true)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, false)
}

func (s *Server) handleRoleChange(w http.ResponseWriter, r *http.Request, grant bool) {
	var req struct {
		Role    string `json:"role"`
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	addr, err := config.ParseAddress(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	if grant {
		err = s.engine.GrantRole(s.admin, req.Role, addr)
	} else {
		err = s.engine.RevokeRole(s.admin, req.Role, addr)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	addr, err := config.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := s.engine.UserStats(addr, chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, err)
		return
	}
	volume, err := s.engine.DailyVolume(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":      addrHex(record.Address),
		"symbol":       record.Symbol,
		"consumed":     bigString(record.Consumed),
		"received":     bigString(record.Received),
		"daily_volume": bigString(volume),
	})
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	rows, err := s.audit.ListReceipts(r.Context(), query.Get("symbol"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleExportReceipts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.csv"`)
	if err := s.audit.ExportReceiptsCSV(r.Context(), w); err != nil {
		s.logger.Error("export receipts failed", "error", err)
	}
}

func (s *Server) handlePendingPayouts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.audit.PendingPayouts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSettlePayout(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("invalid payout id"))
		return
	}
	var req struct {
		TxRef string `json:"tx_ref"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.audit.MarkPayoutSettled(r.Context(), id, req.TxRef); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("payout settled", "payout_id", id, "auth_method", s.authMethod(r))
	w.WriteHeader(http.StatusNoContent)
}
