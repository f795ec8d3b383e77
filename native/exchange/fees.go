package exchange

import (
	"fmt"
	"math/big"
)

const (
	// MaxBps is the absolute ceiling for any basis-point quantity.
	MaxBps = uint64(10000)
	// OperationalFeeCapBps is the absolute ceiling for the operational fee rate.
	OperationalFeeCapBps = uint64(1000)
	// DefaultMaxFeeBps is the initial global cap applied to exchange fee rates.
	DefaultMaxFeeBps = uint64(1000)
)

// MulDiv computes amount * numerator / denominator over the full-width
// product, never dividing before multiplying.
func MulDiv(amount *big.Int, numerator, denominator uint64) (*big.Int, error) {
	if denominator == 0 {
		return nil, fmt.Errorf("exchange: division by zero")
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	product := new(big.Int).Mul(amount, new(big.Int).SetUint64(numerator))
	return product.Div(product, new(big.Int).SetUint64(denominator)), nil
}

// ComputeFees derives both fees from the same gross amount (never cascaded)
// and the resulting net payout. The combined rate must not exceed 100%.
func ComputeFees(gross *big.Int, exchangeBps, operationalBps uint64) (*big.Int, *big.Int, *big.Int, error) {
	if exchangeBps+operationalBps > MaxBps {
		return nil, nil, nil, fmt.Errorf("%w: combined %d bps exceeds %d", ErrInvalidFeeRate, exchangeBps+operationalBps, MaxBps)
	}
	if gross == nil || gross.Sign() < 0 {
		return nil, nil, nil, ErrInvalidAmount
	}
	exchangeFee, err := MulDiv(gross, exchangeBps, MaxBps)
	if err != nil {
		return nil, nil, nil, err
	}
	operationalFee, err := MulDiv(gross, operationalBps, MaxBps)
	if err != nil {
		return nil, nil, nil, err
	}
	net := new(big.Int).Sub(gross, exchangeFee)
	net.Sub(net, operationalFee)
	if net.Sign() < 0 {
		return nil, nil, nil, ErrInvalidFeeRate
	}
	return exchangeFee, operationalFee, net, nil
}

// ConfigureOperationalFee upserts the operational fee settings for an asset.
// The rate is validated against both the absolute operational cap and the
// global max fee at configuration time, not at execution time.
func (e *Engine) ConfigureOperationalFee(caller Address, symbol string, bps uint64, recipient Address, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleFeeManager); err != nil {
		return err
	}
	symbol = normaliseSymbol(symbol)
	assetCfg, ok, err := e.registry.Get(symbol)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssetNotConfigured
	}
	if bps > OperationalFeeCapBps {
		return fmt.Errorf("%w: operational fee %d bps exceeds cap %d", ErrInvalidFeeRate, bps, OperationalFeeCapBps)
	}
	maxFee, err := e.maxFeeLocked()
	if err != nil {
		return err
	}
	if bps > maxFee {
		return fmt.Errorf("%w: operational fee %d bps exceeds max fee %d", ErrInvalidFeeRate, bps, maxFee)
	}
	if assetCfg.FeeBps+bps > MaxBps {
		return fmt.Errorf("%w: combined fees exceed %d bps", ErrInvalidFeeRate, MaxBps)
	}
	cfg, ok, err := e.operationalFeeLocked(symbol)
	if err != nil {
		return err
	}
	if !ok {
		cfg = &OperationalFeeConfig{Symbol: symbol}
	}
	cfg.Bps = bps
	cfg.Recipient = recipient
	cfg.Enabled = enabled
	cfg.UpdatedAt = uint64(e.clock().UTC().Unix())
	if err := e.store.KVPut(opFeeKey(symbol), *cfg); err != nil {
		return err
	}
	e.emitEvent(&OperationalFeeConfigured{Symbol: symbol, Bps: bps, Recipient: recipient, Enabled: enabled})
	return nil
}

// OperationalFee returns the configured operational fee for the asset.
func (e *Engine) OperationalFee(symbol string) (*OperationalFeeConfig, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.operationalFeeLocked(symbol)
}

func (e *Engine) operationalFeeLocked(symbol string) (*OperationalFeeConfig, bool, error) {
	var cfg OperationalFeeConfig
	ok, err := e.store.KVGet(opFeeKey(symbol), &cfg)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return cfg.Copy(), true, nil
}

// AccruedOperationalFee reports the withdrawable operational fee balance for
// the asset.
func (e *Engine) AccruedOperationalFee(symbol string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return storedAmount(e.store, feeAccrualKey(symbol))
}

// WithdrawOperationalFee pays accumulated operational fees to the configured
// recipient. A zero amount withdraws the full accrued balance.
func (e *Engine) WithdrawOperationalFee(caller Address, symbol string, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleFeeManager); err != nil {
		return nil, err
	}
	symbol = normaliseSymbol(symbol)
	cfg, ok, err := e.operationalFeeLocked(symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetNotConfigured
	}
	accrued, err := storedAmount(e.store, feeAccrualKey(symbol))
	if err != nil {
		return nil, err
	}
	withdraw := copyBig(amount)
	if withdraw.Sign() == 0 {
		withdraw = new(big.Int).Set(accrued)
	}
	if withdraw.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if withdraw.Cmp(accrued) > 0 {
		return nil, fmt.Errorf("exchange: withdraw %s exceeds accrued %s", withdraw, accrued)
	}
	assetCfg, ok, err := e.registry.Get(symbol)
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
	if pool.Cmp(withdraw) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	remaining := new(big.Int).Sub(accrued, withdraw)
	newPool := new(big.Int).Sub(pool, withdraw)
	if err := e.transferor.Transfer(assetCfg, cfg.Recipient, withdraw); err != nil {
		return nil, fmt.Errorf("exchange: operational fee payout: %w", err)
	}
	if err := putAmount(e.store, feeAccrualKey(symbol), remaining); err != nil {
		return nil, err
	}
	if err := putAmount(e.store, poolKey(symbol), newPool); err != nil {
		return nil, err
	}
	e.emitEvent(&OperationalFeeWithdrawn{Symbol: symbol, Amount: new(big.Int).Set(withdraw), Recipient: cfg.Recipient})
	return withdraw, nil
}
