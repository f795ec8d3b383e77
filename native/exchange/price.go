package exchange

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// DefaultStalenessWindow bounds the age of any price round before it is
// rejected.
const DefaultStalenessWindow = time.Hour

// maxClockSkew is the tolerated drift between a round's UpdatedAt and the
// local clock before the round is rejected as future-dated.
const maxClockSkew = 5 * time.Second

// RateScale is the fixed-point scale every resolved rate is normalized to
// before mixed-scale arithmetic.
var RateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PriceRoundData is the shared round shape used by both the oracle reads and
// the externally pushed feed, so both paths run through one validation
// routine.
type PriceRoundData struct {
	RoundID         uint64
	Answer          *big.Int
	StartedAt       uint64
	UpdatedAt       uint64
	AnsweredInRound uint64
}

// Validate enforces the round invariants against the supplied clock and
// staleness window.
func (r PriceRoundData) Validate(now time.Time, staleness time.Duration) error {
	if r.Answer == nil || r.Answer.Sign() <= 0 {
		return fmt.Errorf("%w: answer must be positive", ErrInvalidPriceData)
	}
	if r.UpdatedAt == 0 {
		return fmt.Errorf("%w: updatedAt required", ErrInvalidPriceData)
	}
	if r.AnsweredInRound < r.RoundID {
		return fmt.Errorf("%w: answeredInRound %d behind round %d", ErrInvalidPriceData, r.AnsweredInRound, r.RoundID)
	}
	age := now.UTC().Unix() - int64(r.UpdatedAt)
	if age < -int64(maxClockSkew/time.Second) {
		return fmt.Errorf("%w: updatedAt %d ahead of clock", ErrInvalidPriceData, r.UpdatedAt)
	}
	if staleness > 0 && age > int64(staleness/time.Second) {
		return fmt.Errorf("%w: round age %ds exceeds %s", ErrPriceDataStale, age, staleness)
	}
	return nil
}

// Copy returns a deep copy.
func (r PriceRoundData) Copy() PriceRoundData {
	clone := r
	clone.Answer = copyBig(r.Answer)
	return clone
}

// OracleReader exposes the latest round for an oracle reference alongside the
// feed's native decimal count.
type OracleReader interface {
	LatestRound(ref string) (PriceRoundData, uint8, error)
}

// Precedence selects which price source is consulted first. Historical
// deployments differ here, so the order is configuration rather than code.
type Precedence uint8

const (
	// PrecedenceOracleFirst consults the oracle, falling back to the external feed.
	PrecedenceOracleFirst Precedence = iota
	// PrecedenceExternalFirst consults the external feed, falling back to the oracle.
	PrecedenceExternalFirst
	// PrecedenceExternalOnly never touches the oracle.
	PrecedenceExternalOnly
)

// ParsePrecedence resolves a configuration string.
func ParsePrecedence(raw string) (Precedence, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "oracle_first", "oracle-first":
		return PrecedenceOracleFirst, nil
	case "external_first", "external-first":
		return PrecedenceExternalFirst, nil
	case "external_only", "external-only":
		return PrecedenceExternalOnly, nil
	}
	return PrecedenceOracleFirst, fmt.Errorf("exchange: unknown price precedence %q", raw)
}

// Resolver normalizes USD rates for the point currency and every settlement
// asset, with oracle/external fallback and freshness checks.
type Resolver struct {
	store      Storage
	oracle     OracleReader
	precedence Precedence
	staleness  time.Duration
	pointRef   string
	clock      func() time.Time
}

// NewResolver constructs a resolver. A nil oracle reader degrades to the
// external feed only.
func NewResolver(store Storage, oracle OracleReader, precedence Precedence, staleness time.Duration) *Resolver {
	if staleness <= 0 {
		staleness = DefaultStalenessWindow
	}
	return &Resolver{
		store:      store,
		oracle:     oracle,
		precedence: precedence,
		staleness:  staleness,
		clock:      time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (r *Resolver) SetClock(clock func() time.Time) {
	if r == nil || clock == nil {
		return
	}
	r.clock = clock
}

// SetPointOracleRef wires the oracle reference used for the point currency's
// reference-currency rate.
func (r *Resolver) SetPointOracleRef(ref string) {
	if r == nil {
		return
	}
	r.pointRef = strings.TrimSpace(ref)
}

// PushExternalRound stores a pushed round for the symbol. Structural
// invariants are enforced on ingest; staleness is re-evaluated at resolution.
func (r *Resolver) PushExternalRound(symbol string, round PriceRoundData, decimals uint8) error {
	if r == nil {
		return fmt.Errorf("exchange: resolver not configured")
	}
	symbol = normaliseSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidPriceData)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return fmt.Errorf("%w: answer must be positive", ErrInvalidPriceData)
	}
	if round.UpdatedAt == 0 {
		return fmt.Errorf("%w: updatedAt required", ErrInvalidPriceData)
	}
	if round.AnsweredInRound < round.RoundID {
		return fmt.Errorf("%w: answeredInRound behind round", ErrInvalidPriceData)
	}
	record := roundRecord{Round: round.Copy(), Decimals: decimals}
	return r.store.KVPut(roundKey(symbol), record)
}

// ExternalRound returns the stored external round for the symbol, if any.
func (r *Resolver) ExternalRound(symbol string) (PriceRoundData, uint8, bool, error) {
	var record roundRecord
	ok, err := r.store.KVGet(roundKey(symbol), &record)
	if err != nil {
		return PriceRoundData{}, 0, false, err
	}
	if !ok {
		return PriceRoundData{}, 0, false, nil
	}
	return record.Round.Copy(), record.Decimals, true, nil
}

// Resolve produces a USD rate at the 1e18 scale for the asset, consulting the
// configured sources in precedence order.
func (r *Resolver) Resolve(cfg *AssetConfig) (*big.Int, PriceSource, error) {
	if cfg == nil {
		return nil, SourceOracle, ErrAssetNotConfigured
	}
	return r.resolve(cfg.Symbol, cfg.OracleRef)
}

// ResolvePointCurrency produces the point currency's reference-currency rate
// at the 1e18 scale with the same precedence rules.
func (r *Resolver) ResolvePointCurrency() (*big.Int, PriceSource, error) {
	return r.resolve(PointSymbol, r.pointRef)
}

func (r *Resolver) resolve(symbol, oracleRef string) (*big.Int, PriceSource, error) {
	if r == nil {
		return nil, SourceOracle, fmt.Errorf("exchange: resolver not configured")
	}
	var lastErr error
	order := []PriceSource{SourceOracle, SourceExternal}
	switch r.precedence {
	case PrecedenceExternalFirst:
		order = []PriceSource{SourceExternal, SourceOracle}
	case PrecedenceExternalOnly:
		order = []PriceSource{SourceExternal}
	}
	for _, source := range order {
		var (
			rate *big.Int
			err  error
		)
		switch source {
		case SourceOracle:
			rate, err = r.resolveOracle(oracleRef)
		case SourceExternal:
			rate, err = r.resolveExternal(symbol)
		}
		if err != nil {
			lastErr = err
			continue
		}
		return rate, source, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no price source configured")
	}
	return nil, SourceOracle, fmt.Errorf("%w: %s: %v", ErrNoValidPriceData, symbol, lastErr)
}

func (r *Resolver) resolveOracle(ref string) (*big.Int, error) {
	ref = strings.TrimSpace(ref)
	if r.oracle == nil || ref == "" {
		return nil, fmt.Errorf("oracle unavailable")
	}
	round, decimals, err := r.oracle.LatestRound(ref)
	if err != nil {
		return nil, err
	}
	if err := round.Validate(r.clock(), r.staleness); err != nil {
		return nil, err
	}
	return NormalizeRate(round.Answer, decimals), nil
}

func (r *Resolver) resolveExternal(symbol string) (*big.Int, error) {
	round, decimals, ok, err := r.ExternalRound(symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no external round for %s", symbol)
	}
	if err := round.Validate(r.clock(), r.staleness); err != nil {
		return nil, err
	}
	return NormalizeRate(round.Answer, decimals), nil
}

// NormalizeRate scales an answer expressed with the feed's native decimals to
// the 1e18 fixed-point scale. This runs before any arithmetic that mixes
// rates of different scales.
func NormalizeRate(answer *big.Int, decimals uint8) *big.Int {
	if answer == nil {
		return big.NewInt(0)
	}
	normalized := new(big.Int).Set(answer)
	switch {
	case decimals < 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
		normalized.Mul(normalized, factor)
	case decimals > 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil)
		normalized.Div(normalized, factor)
	}
	return normalized
}

// ScaleAmount converts an 18-decimal amount into the target precision.
func ScaleAmount(amount *big.Int, decimals uint8) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Set(amount)
	switch {
	case decimals < 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
		scaled.Div(scaled, factor)
	case decimals > 18:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-18)), nil)
		scaled.Mul(scaled, factor)
	}
	return scaled
}

// PushExternalPrice records a pushed round for an asset after checking the
// price-updater role.
func (e *Engine) PushExternalPrice(caller Address, symbol string, round PriceRoundData, decimals uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RolePriceUpdater); err != nil {
		return err
	}
	if err := e.resolver.PushExternalRound(symbol, round, decimals); err != nil {
		return err
	}
	e.emitEvent(&ExternalPricePushed{Symbol: normaliseSymbol(symbol), RoundID: round.RoundID, Answer: copyBig(round.Answer), UpdatedAt: round.UpdatedAt})
	return nil
}

// BatchPushPrices records multiple rounds in one call. All slices must share
// one length; the batch is validated before the first write so a bad entry
// rejects the whole call.
func (e *Engine) BatchPushPrices(caller Address, symbols []string, rounds []PriceRoundData, decimals []uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RolePriceUpdater); err != nil {
		return err
	}
	if len(symbols) != len(rounds) || len(symbols) != len(decimals) {
		return ErrArrayLengthMismatch
	}
	for i := range symbols {
		symbol := normaliseSymbol(symbols[i])
		if symbol == "" {
			return fmt.Errorf("%w: symbol required at index %d", ErrInvalidPriceData, i)
		}
		if rounds[i].Answer == nil || rounds[i].Answer.Sign() <= 0 {
			return fmt.Errorf("%w: answer at index %d", ErrInvalidPriceData, i)
		}
		if rounds[i].UpdatedAt == 0 {
			return fmt.Errorf("%w: updatedAt at index %d", ErrInvalidPriceData, i)
		}
		if rounds[i].AnsweredInRound < rounds[i].RoundID {
			return fmt.Errorf("%w: answeredInRound at index %d", ErrInvalidPriceData, i)
		}
	}
	for i := range symbols {
		if err := e.resolver.PushExternalRound(symbols[i], rounds[i], decimals[i]); err != nil {
			return err
		}
		e.emitEvent(&ExternalPricePushed{Symbol: normaliseSymbol(symbols[i]), RoundID: rounds[i].RoundID, Answer: copyBig(rounds[i].Answer), UpdatedAt: rounds[i].UpdatedAt})
	}
	return nil
}
