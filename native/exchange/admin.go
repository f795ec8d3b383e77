package exchange

import (
	"fmt"
	"math/big"
)

// defaultRate is applied when no point-to-reference ratio has been set.
var defaultRate = RateConfig{Numerator: 100, Denominator: 100}

func (e *Engine) pausedLocked() (bool, error) {
	var record flagRecord
	ok, err := e.store.KVGet(pausedKey, &record)
	if err != nil {
		return false, err
	}
	return ok && record.Set, nil
}

func (e *Engine) maxFeeLocked() (uint64, error) {
	var record uintRecord
	ok, err := e.store.KVGet(maxFeeKey, &record)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultMaxFeeBps, nil
	}
	return record.Value, nil
}

func (e *Engine) rateConfigLocked() (RateConfig, error) {
	var record rateRecord
	ok, err := e.store.KVGet(rateConfigKey, &record)
	if err != nil {
		return RateConfig{}, err
	}
	if !ok {
		return defaultRate, nil
	}
	return RateConfig{Numerator: record.Numerator, Denominator: record.Denominator}, nil
}

// Paused reports whether settlements are halted.
func (e *Engine) Paused() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pausedLocked()
}

// Pause halts all settlement entry points. Requires the emergency manager
// role.
func (e *Engine) Pause(caller Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleEmergencyManager); err != nil {
		return err
	}
	if err := e.store.KVPut(pausedKey, flagRecord{Set: true}); err != nil {
		return err
	}
	e.emitEvent(&SystemPaused{Caller: caller})
	return nil
}

// Unpause resumes settlements. Requires the emergency manager role.
func (e *Engine) Unpause(caller Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleEmergencyManager); err != nil {
		return err
	}
	if err := e.store.KVPut(pausedKey, flagRecord{Set: false}); err != nil {
		return err
	}
	e.emitEvent(&SystemUnpaused{Caller: caller})
	return nil
}

// SetTreasury sets the emergency withdrawal destination. Admin only.
func (e *Engine) SetTreasury(caller, treasury Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if treasury == (Address{}) {
		return fmt.Errorf("exchange: treasury address required")
	}
	if err := e.store.KVPut(treasuryKey, treasuryRecord{Address: treasury, Set: true}); err != nil {
		return err
	}
	e.emitEvent(&TreasuryUpdated{Treasury: treasury, Caller: caller})
	return nil
}

// Treasury returns the configured treasury address, if set.
func (e *Engine) Treasury() (Address, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treasuryLocked()
}

func (e *Engine) treasuryLocked() (Address, bool, error) {
	var record treasuryRecord
	ok, err := e.store.KVGet(treasuryKey, &record)
	if err != nil {
		return Address{}, false, err
	}
	if !ok || !record.Set {
		return Address{}, false, nil
	}
	return record.Address, true, nil
}

// UpdateMaxFee changes the global exchange fee cap. The new cap must still
// admit every currently configured asset fee and operational fee, so lowering
// the cap can never strand an existing configuration above it.
func (e *Engine) UpdateMaxFee(caller Address, maxFeeBps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if maxFeeBps > MaxBps {
		return fmt.Errorf("%w: max fee %d bps exceeds %d", ErrInvalidFeeRate, maxFeeBps, MaxBps)
	}
	symbols, err := e.registry.Symbols()
	if err != nil {
		return err
	}
	for _, symbol := range symbols {
		cfg, ok, err := e.registry.Get(symbol)
		if err != nil {
			return err
		}
		if ok && cfg.FeeBps > maxFeeBps {
			return fmt.Errorf("%w: %s fee %d bps above proposed max %d", ErrInvalidFeeRate, symbol, cfg.FeeBps, maxFeeBps)
		}
		opCfg, hasOp, err := e.operationalFeeLocked(symbol)
		if err != nil {
			return err
		}
		if hasOp && opCfg.Bps > maxFeeBps {
			return fmt.Errorf("%w: %s operational fee %d bps above proposed max %d", ErrInvalidFeeRate, symbol, opCfg.Bps, maxFeeBps)
		}
	}
	if err := e.store.KVPut(maxFeeKey, uintRecord{Value: maxFeeBps}); err != nil {
		return err
	}
	e.emitEvent(&MaxFeeUpdated{MaxFeeBps: maxFeeBps, Caller: caller})
	return nil
}

// MaxFee returns the current global fee cap.
func (e *Engine) MaxFee() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxFeeLocked()
}

// SetRateConfig sets the point-to-reference-currency ratio applied before the
// USD conversion. Requires the config manager role.
func (e *Engine) SetRateConfig(caller Address, numerator, denominator uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleConfigManager); err != nil {
		return err
	}
	if numerator == 0 || denominator == 0 {
		return ErrInvalidRateValue
	}
	if err := e.store.KVPut(rateConfigKey, rateRecord{Numerator: numerator, Denominator: denominator}); err != nil {
		return err
	}
	e.emitEvent(&RateConfigUpdated{Numerator: numerator, Denominator: denominator, Caller: caller})
	return nil
}

// RateConfig returns the active point-to-reference ratio.
func (e *Engine) RateConfig() (RateConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rateConfigLocked()
}

// FundLiquidity credits the asset's settlement pool. The deposit itself is
// assumed to have happened out of band; this records the accounting.
func (e *Engine) FundLiquidity(caller Address, symbol string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleConfigManager); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	symbol = normaliseSymbol(symbol)
	if _, ok, err := e.registry.Get(symbol); err != nil {
		return err
	} else if !ok {
		return ErrAssetNotConfigured
	}
	pool, err := storedAmount(e.store, poolKey(symbol))
	if err != nil {
		return err
	}
	if err := putAmount(e.store, poolKey(symbol), new(big.Int).Add(pool, amount)); err != nil {
		return err
	}
	e.emitEvent(&LiquidityFunded{Symbol: symbol, Amount: copyBig(amount), Caller: caller})
	return nil
}

// PoolBalance returns the asset's settlement pool balance.
func (e *Engine) PoolBalance(symbol string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return storedAmount(e.store, poolKey(symbol))
}

// EmergencyWithdraw drains the asset's pool to the treasury. It requires the
// system to be paused, a configured treasury, and the emergency manager role.
// A zero amount withdraws the full pool.
func (e *Engine) EmergencyWithdraw(caller Address, symbol string, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleEmergencyManager); err != nil {
		return nil, err
	}
	paused, err := e.pausedLocked()
	if err != nil {
		return nil, err
	}
	if !paused {
		return nil, fmt.Errorf("%w: emergency withdrawal requires pause", ErrNotPaused)
	}
	treasury, set, err := e.treasuryLocked()
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, ErrTreasuryNotSet
	}
	symbol = normaliseSymbol(symbol)
	cfg, ok, err := e.registry.Get(symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetNotConfigured
	}
	pool, err := storedAmount(e.store, poolKey(symbol))
	if err != nil {
		return nil, err
	}
	withdraw := copyBig(amount)
	if withdraw.Sign() == 0 {
		withdraw = new(big.Int).Set(pool)
	}
	if withdraw.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if withdraw.Cmp(pool) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	newPool := new(big.Int).Sub(pool, withdraw)
	if err := e.transferor.Transfer(cfg, treasury, withdraw); err != nil {
		return nil, fmt.Errorf("exchange: emergency withdrawal transfer: %w", err)
	}
	if err := putAmount(e.store, poolKey(symbol), newPool); err != nil {
		return nil, err
	}
	// Accrued operational fees above the remaining pool are forfeited to
	// the treasury sweep.
	accrual, err := storedAmount(e.store, feeAccrualKey(symbol))
	if err != nil {
		return nil, err
	}
	if accrual.Cmp(newPool) > 0 {
		if err := putAmount(e.store, feeAccrualKey(symbol), newPool); err != nil {
			return nil, err
		}
	}
	e.emitEvent(&EmergencyWithdrawal{Symbol: symbol, Amount: new(big.Int).Set(withdraw), Treasury: treasury, Caller: caller})
	return withdraw, nil
}
