package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PointLedger is the authority over point balances. Debit is irreversible on
// the ledger side; Refund is the compensating credit the engine issues when a
// settlement transfer fails after the debit.
type PointLedger interface {
	BalanceOf(addr Address) (*big.Int, error)
	Debit(from Address, amount *big.Int) error
	Refund(to Address, amount *big.Int) error
}

// AssetTransferor moves settlement assets out of the engine's pool.
type AssetTransferor interface {
	Transfer(cfg *AssetConfig, to Address, amount *big.Int) error
}

// Event is implemented by every engine event.
type Event interface {
	EventType() string
}

// Engine converts point balances into settlement assets. All state-changing
// methods serialize on the engine mutex; reads share the same lock so staged
// writes are never observed.
type Engine struct {
	mu         sync.Mutex
	store      Storage
	ledger     PointLedger
	transferor AssetTransferor
	resolver   *Resolver
	registry   *Registry
	gate       *Gate
	roles      *RoleSet
	clock      func() time.Time
	emit       func(Event)
	newID      func() string
	tracer     trace.Tracer
}

// NewEngine wires an engine over the backing store. The resolver may be nil
// only if no quoting or settlement will be performed.
func NewEngine(store Storage, ledger PointLedger, transferor AssetTransferor, resolver *Resolver) *Engine {
	roles := NewRoleSet(store)
	return &Engine{
		store:      store,
		ledger:     ledger,
		transferor: transferor,
		resolver:   resolver,
		registry:   NewRegistry(store),
		gate:       NewGate(store, roles),
		roles:      roles,
		clock:      time.Now,
		newID:      uuid.NewString,
		tracer:     otel.Tracer("pointswap.exchange"),
	}
}

// SetClock overrides the time source for deterministic tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
	if e.resolver != nil {
		e.resolver.SetClock(clock)
	}
}

// SetEmitter installs the event sink. A nil emitter drops events.
func (e *Engine) SetEmitter(emit func(Event)) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emit = emit
}

// SetIDGenerator overrides receipt ID generation for deterministic tests.
func (e *Engine) SetIDGenerator(newID func() string) {
	if e == nil || newID == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newID = newID
}

func (e *Engine) emitEvent(evt Event) {
	if e.emit != nil && evt != nil {
		e.emit(evt)
	}
}

// Quote computes the settlement payout for a point amount without touching
// state. Identical inputs against identical state produce identical results.
func (e *Engine) Quote(symbol string, pointAmount *big.Int) (*QuoteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	quote, _, err := e.quoteLocked(symbol, pointAmount)
	return quote, err
}

// QuoteWithSlippage quotes and derives the minimum acceptable payout from a
// tolerance in basis points.
func (e *Engine) QuoteWithSlippage(symbol string, pointAmount *big.Int, toleranceBps uint64) (*QuoteResult, error) {
	if toleranceBps > MaxBps {
		return nil, fmt.Errorf("%w: slippage tolerance %d bps exceeds %d", ErrInvalidFeeRate, toleranceBps, MaxBps)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	quote, _, err := e.quoteLocked(symbol, pointAmount)
	if err != nil {
		return nil, err
	}
	minOut, err := MulDiv(quote.NetAsset, MaxBps-toleranceBps, MaxBps)
	if err != nil {
		return nil, err
	}
	quote.MinOut = minOut
	return quote, nil
}

// quoteLocked also returns the asset config it quoted against so settlement
// hands the transferor the exact config the quote was priced on.
func (e *Engine) quoteLocked(symbol string, pointAmount *big.Int) (*QuoteResult, *AssetConfig, error) {
	if pointAmount == nil || pointAmount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	symbol = normaliseSymbol(symbol)
	cfg, ok, err := e.registry.Get(symbol)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrAssetNotConfigured
	}
	if !cfg.Enabled {
		return nil, nil, ErrAssetDisabled
	}
	rate, err := e.rateConfigLocked()
	if err != nil {
		return nil, nil, err
	}
	adjusted, err := MulDiv(pointAmount, rate.Numerator, rate.Denominator)
	if err != nil {
		return nil, nil, err
	}
	pointRate, pointSource, err := e.resolver.ResolvePointCurrency()
	if err != nil {
		return nil, nil, err
	}
	assetRate, assetSource, err := e.resolver.Resolve(cfg)
	if err != nil {
		return nil, nil, err
	}
	if pointRate.Sign() <= 0 || assetRate.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: non-positive resolved rate", ErrInvalidPriceData)
	}
	// Both rates share the 1e18 scale, so the scale cancels when the USD
	// value is carried through the full-width product.
	gross18 := new(big.Int).Mul(adjusted, pointRate)
	gross18.Div(gross18, assetRate)
	gross := ScaleAmount(gross18, cfg.Decimals)
	operationalBps := uint64(0)
	opCfg, hasOp, err := e.operationalFeeLocked(symbol)
	if err != nil {
		return nil, nil, err
	}
	if hasOp && opCfg.Enabled {
		operationalBps = opCfg.Bps
	}
	exchangeFee, operationalFee, net, err := ComputeFees(gross, cfg.FeeBps, operationalBps)
	if err != nil {
		return nil, nil, err
	}
	quote := &QuoteResult{
		Symbol:         symbol,
		PointAmount:    copyBig(pointAmount),
		GrossAsset:     gross,
		NetAsset:       net,
		ExchangeFee:    exchangeFee,
		OperationalFee: operationalFee,
		PointRate:      pointRate,
		AssetRate:      assetRate,
		PointSource:    pointSource,
		AssetSource:    assetSource,
	}
	return quote, cfg, nil
}

// Execute settles a point-to-asset exchange for the caller. The quote is
// recomputed under the lock, the slippage floor is enforced, and all staged
// state is rolled back if the payout transfer fails.
func (e *Engine) Execute(ctx context.Context, caller Address, symbol string, pointAmount, minOut *big.Int) (*Receipt, error) {
	_, span := e.tracer.Start(ctx, "exchange.Execute", trace.WithAttributes(
		attribute.String("exchange.symbol", normaliseSymbol(symbol)),
	))
	defer span.End()
	e.mu.Lock()
	defer e.mu.Unlock()
	receipt, err := e.executeLocked(caller, caller, symbol, pointAmount, minOut, false)
	if err != nil {
		span.RecordError(err)
	}
	return receipt, err
}

type stagedWrite struct {
	key      []byte
	previous *big.Int
}

func (e *Engine) executeLocked(owner, relayer Address, symbol string, pointAmount, minOut *big.Int, delegated bool) (*Receipt, error) {
	paused, err := e.pausedLocked()
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ErrSystemPaused
	}
	if err := e.gate.Authorize(owner); err != nil {
		return nil, err
	}
	quote, assetCfg, err := e.quoteLocked(symbol, pointAmount)
	if err != nil {
		return nil, err
	}
	if minOut != nil && minOut.Sign() > 0 && quote.NetAsset.Cmp(minOut) < 0 {
		return nil, &SlippageError{Quoted: copyBig(quote.NetAsset), MinOut: copyBig(minOut)}
	}
	now := e.clock().UTC()
	dailyTotal, err := e.gate.CheckDailyLimit(owner, pointAmount, now)
	if err != nil {
		return nil, err
	}
	balance, err := e.ledger.BalanceOf(owner)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(pointAmount) < 0 {
		return nil, ErrInsufficientPointBalance
	}
	pool, err := storedAmount(e.store, poolKey(quote.Symbol))
	if err != nil {
		return nil, err
	}
	if pool.Cmp(quote.GrossAsset) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	accrual, err := storedAmount(e.store, feeAccrualKey(quote.Symbol))
	if err != nil {
		return nil, err
	}
	stats, err := e.statsLocked(quote.Symbol)
	if err != nil {
		return nil, err
	}
	user, err := e.userLocked(owner, quote.Symbol)
	if err != nil {
		return nil, err
	}
	dailyUsed, err := e.gate.DailyVolume(owner, now)
	if err != nil {
		return nil, err
	}

	// Stage every state write before the external calls, keeping the
	// previous values for rollback.
	staged := []stagedWrite{
		{key: poolKey(quote.Symbol), previous: pool},
		{key: feeAccrualKey(quote.Symbol), previous: accrual},
		{key: dailyKey(now, owner), previous: dailyUsed},
	}
	prevStats := stats.Copy()
	prevUser := user.Copy()
	newPool := new(big.Int).Sub(pool, quote.NetAsset)
	newAccrual := new(big.Int).Add(accrual, quote.OperationalFee)
	stats.PointsConsumed.Add(stats.PointsConsumed, pointAmount)
	stats.AssetPaid.Add(stats.AssetPaid, quote.NetAsset)
	stats.ExchangeFee.Add(stats.ExchangeFee, quote.ExchangeFee)
	stats.OperationalFee.Add(stats.OperationalFee, quote.OperationalFee)
	stats.ExchangeCount++
	user.Consumed.Add(user.Consumed, pointAmount)
	user.Received.Add(user.Received, quote.NetAsset)

	rollback := func() {
		for _, write := range staged {
			if err := putAmount(e.store, write.key, write.previous); err != nil {
				slog.Error("exchange: rollback write failed", "key", string(write.key), "error", err)
			}
		}
		if err := e.putStatsLocked(prevStats); err != nil {
			slog.Error("exchange: rollback stats failed", "symbol", quote.Symbol, "error", err)
		}
		if err := e.putUserLocked(prevUser); err != nil {
			slog.Error("exchange: rollback user record failed", "symbol", quote.Symbol, "error", err)
		}
	}

	if err := putAmount(e.store, poolKey(quote.Symbol), newPool); err != nil {
		return nil, err
	}
	if err := putAmount(e.store, feeAccrualKey(quote.Symbol), newAccrual); err != nil {
		rollback()
		return nil, err
	}
	if err := putAmount(e.store, dailyKey(now, owner), dailyTotal); err != nil {
		rollback()
		return nil, err
	}
	if err := e.putStatsLocked(stats); err != nil {
		rollback()
		return nil, err
	}
	if err := e.putUserLocked(user); err != nil {
		rollback()
		return nil, err
	}

	if err := e.ledger.Debit(owner, pointAmount); err != nil {
		rollback()
		return nil, fmt.Errorf("exchange: point debit: %w", err)
	}

	if err := e.transferor.Transfer(assetCfg, owner, quote.NetAsset); err != nil {
		if refundErr := e.ledger.Refund(owner, pointAmount); refundErr != nil {
			slog.Error("exchange: point refund failed after transfer failure", "owner", fmt.Sprintf("%x", owner), "error", refundErr)
		}
		rollback()
		return nil, fmt.Errorf("exchange: settlement transfer: %w", err)
	}

	receipt := &Receipt{
		ID:             e.newID(),
		Owner:          owner,
		Relayer:        relayer,
		Symbol:         quote.Symbol,
		PointAmount:    copyBig(pointAmount),
		GrossAsset:     copyBig(quote.GrossAsset),
		NetAsset:       copyBig(quote.NetAsset),
		ExchangeFee:    copyBig(quote.ExchangeFee),
		OperationalFee: copyBig(quote.OperationalFee),
		PointRate:      copyBig(quote.PointRate),
		AssetRate:      copyBig(quote.AssetRate),
		PointSource:    quote.PointSource,
		AssetSource:    quote.AssetSource,
		Delegated:      delegated,
		CreatedAt:      now.Unix(),
	}
	e.emitEvent(&SettlementCompleted{Receipt: receipt.Copy()})
	return receipt, nil
}

func (e *Engine) statsLocked(symbol string) (*TokenStats, error) {
	var record statsRecord
	ok, err := e.store.KVGet(statsKey(symbol), &record)
	if err != nil {
		return nil, err
	}
	stats := &TokenStats{Symbol: normaliseSymbol(symbol)}
	if ok {
		stats.PointsConsumed = copyBig(record.PointsConsumed)
		stats.AssetPaid = copyBig(record.AssetPaid)
		stats.ExchangeFee = copyBig(record.ExchangeFee)
		stats.OperationalFee = copyBig(record.OperationalFee)
		stats.ExchangeCount = record.Count
	} else {
		stats.PointsConsumed = big.NewInt(0)
		stats.AssetPaid = big.NewInt(0)
		stats.ExchangeFee = big.NewInt(0)
		stats.OperationalFee = big.NewInt(0)
	}
	return stats, nil
}

func (e *Engine) putStatsLocked(stats *TokenStats) error {
	record := statsRecord{
		PointsConsumed: copyBig(stats.PointsConsumed),
		AssetPaid:      copyBig(stats.AssetPaid),
		ExchangeFee:    copyBig(stats.ExchangeFee),
		OperationalFee: copyBig(stats.OperationalFee),
		Count:          stats.ExchangeCount,
	}
	return e.store.KVPut(statsKey(stats.Symbol), record)
}

func (e *Engine) userLocked(addr Address, symbol string) (*UserRecord, error) {
	var record userStoredRecord
	ok, err := e.store.KVGet(userKey(addr, symbol), &record)
	if err != nil {
		return nil, err
	}
	user := &UserRecord{Address: addr, Symbol: normaliseSymbol(symbol)}
	if ok {
		user.Consumed = copyBig(record.Consumed)
		user.Received = copyBig(record.Received)
	} else {
		user.Consumed = big.NewInt(0)
		user.Received = big.NewInt(0)
	}
	return user, nil
}

func (e *Engine) putUserLocked(user *UserRecord) error {
	record := userStoredRecord{
		Consumed: copyBig(user.Consumed),
		Received: copyBig(user.Received),
	}
	return e.store.KVPut(userKey(user.Address, user.Symbol), record)
}

// Stats returns the accumulated settlement totals for the asset.
func (e *Engine) Stats(symbol string) (*TokenStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked(symbol)
}

// UserStats returns the accumulated per-user totals for the asset.
func (e *Engine) UserStats(addr Address, symbol string) (*UserRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userLocked(addr, symbol)
}
