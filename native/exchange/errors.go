package exchange

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidAmount indicates a zero or negative exchange amount.
	ErrInvalidAmount = errors.New("exchange: amount must be positive")
	// ErrInvalidFeeRate indicates a fee configuration outside the permitted bounds.
	ErrInvalidFeeRate = errors.New("exchange: invalid fee rate")
	// ErrInvalidRateValue indicates a zero numerator or denominator in the rate configuration.
	ErrInvalidRateValue = errors.New("exchange: rate numerator and denominator must be positive")
	// ErrArrayLengthMismatch indicates batch inputs of differing lengths.
	ErrArrayLengthMismatch = errors.New("exchange: array length mismatch")

	// ErrAssetNotConfigured indicates the requested settlement asset is unknown.
	ErrAssetNotConfigured = errors.New("exchange: asset not configured")
	// ErrAssetDisabled indicates the settlement asset exists but is disabled.
	ErrAssetDisabled = errors.New("exchange: asset disabled")

	// ErrNoValidPriceData indicates neither the oracle nor the external feed produced a usable round.
	ErrNoValidPriceData = errors.New("exchange: no valid price data")
	// ErrPriceDataStale indicates a price round older than the staleness window.
	ErrPriceDataStale = errors.New("exchange: price data stale")
	// ErrInvalidPriceData indicates a structurally invalid price round.
	ErrInvalidPriceData = errors.New("exchange: invalid price data")

	// ErrNotWhitelisted indicates the caller is absent from the allow-set in whitelist mode.
	ErrNotWhitelisted = errors.New("exchange: caller not whitelisted")
	// ErrMissingPermissionRole indicates the caller lacks the exchange permission role in role-based mode.
	ErrMissingPermissionRole = errors.New("exchange: caller missing permission role")
	// ErrExchangeClosed indicates the access mode is closed for everyone.
	ErrExchangeClosed = errors.New("exchange: closed")
	// ErrDailyLimitExceeded indicates the per-user rolling daily volume cap would be exceeded.
	ErrDailyLimitExceeded = errors.New("exchange: daily volume limit exceeded")
	// ErrUnauthorized indicates the caller lacks the role required for an operation.
	ErrUnauthorized = errors.New("exchange: caller not authorized")

	// ErrAuthorizationFailed indicates a delegated authorization could not be verified.
	ErrAuthorizationFailed = errors.New("exchange: authorization failed")
	// ErrAuthorizationExpired indicates a delegated authorization past its expiry.
	ErrAuthorizationExpired = errors.New("exchange: authorization expired")

	// ErrInsufficientPointBalance indicates the owner holds fewer points than requested.
	ErrInsufficientPointBalance = errors.New("exchange: insufficient point balance")
	// ErrInsufficientLiquidity indicates the settlement pool cannot cover the net payout.
	ErrInsufficientLiquidity = errors.New("exchange: insufficient asset liquidity")

	// ErrSystemPaused indicates state-changing entry points are disabled.
	ErrSystemPaused = errors.New("exchange: system paused")
	// ErrNotPaused indicates an operation that requires the paused state.
	ErrNotPaused = errors.New("exchange: system not paused")
	// ErrTreasuryNotSet indicates an emergency withdrawal was attempted before the treasury was configured.
	ErrTreasuryNotSet = errors.New("exchange: treasury not set")
)

// SlippageError conveys the quoted and requested amounts when a minimum-out
// bound is violated.
type SlippageError struct {
	Quoted *big.Int
	MinOut *big.Int
}

// Error satisfies the error interface.
func (s *SlippageError) Error() string {
	if s == nil {
		return "exchange: slippage exceeded"
	}
	quoted := "0"
	if s.Quoted != nil {
		quoted = s.Quoted.String()
	}
	min := "0"
	if s.MinOut != nil {
		min = s.MinOut.String()
	}
	return fmt.Sprintf("exchange: slippage exceeded: quoted %s below minimum %s", quoted, min)
}

// IsSlippage reports whether err carries a SlippageError.
func IsSlippage(err error) (*SlippageError, bool) {
	var s *SlippageError
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}
