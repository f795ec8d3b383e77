package exchange

import (
	"math/big"
	"strings"
)

// Address identifies an account in the point ledger and the settlement layer.
type Address = [20]byte

// PointDecimals is the fixed precision of the point currency.
const PointDecimals = uint8(18)

// PointSymbol is the pseudo-symbol under which the point currency's own
// reference-currency rate is tracked.
const PointSymbol = "POINT"

// AssetConfig describes a settlement asset registered with the engine. A zero
// Address marks the native settlement asset.
type AssetConfig struct {
	Symbol    string
	Address   Address
	Decimals  uint8
	FeeBps    uint64
	Enabled   bool
	OracleRef string
	UpdatedAt uint64
}

// IsNative reports whether the config describes the native settlement asset.
func (c *AssetConfig) IsNative() bool {
	return c != nil && c.Address == (Address{})
}

// Copy returns a defensive copy.
func (c *AssetConfig) Copy() *AssetConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// OperationalFeeConfig captures the second, independently withdrawable fee
// charged on each exchange.
type OperationalFeeConfig struct {
	Symbol    string
	Bps       uint64
	Recipient Address
	Enabled   bool
	UpdatedAt uint64
}

// Copy returns a defensive copy.
func (c *OperationalFeeConfig) Copy() *OperationalFeeConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// TokenStats accumulates per-asset settlement totals. All fields are
// monotonically non-decreasing and mutated only inside a successful exchange.
type TokenStats struct {
	Symbol         string
	PointsConsumed *big.Int
	AssetPaid      *big.Int
	ExchangeFee    *big.Int
	OperationalFee *big.Int
	ExchangeCount  uint64
}

// Copy returns a deep copy to prevent callers mutating shared pointers.
func (s *TokenStats) Copy() *TokenStats {
	if s == nil {
		return nil
	}
	clone := &TokenStats{Symbol: s.Symbol, ExchangeCount: s.ExchangeCount}
	clone.PointsConsumed = copyBig(s.PointsConsumed)
	clone.AssetPaid = copyBig(s.AssetPaid)
	clone.ExchangeFee = copyBig(s.ExchangeFee)
	clone.OperationalFee = copyBig(s.OperationalFee)
	return clone
}

// UserRecord accumulates per-user, per-asset settlement totals.
type UserRecord struct {
	Address  Address
	Symbol   string
	Consumed *big.Int
	Received *big.Int
}

// Copy returns a deep copy.
func (u *UserRecord) Copy() *UserRecord {
	if u == nil {
		return nil
	}
	clone := &UserRecord{Address: u.Address, Symbol: u.Symbol}
	clone.Consumed = copyBig(u.Consumed)
	clone.Received = copyBig(u.Received)
	return clone
}

// AccessMode gates who may call the state-changing exchange entry points.
type AccessMode uint8

const (
	// AccessPublic admits every caller.
	AccessPublic AccessMode = iota
	// AccessWhitelist admits only explicitly allowed callers.
	AccessWhitelist
	// AccessRoleBased admits holders of the exchange permission role.
	AccessRoleBased
	// AccessClosed admits nobody.
	AccessClosed
)

// String renders the canonical mode name.
func (m AccessMode) String() string {
	switch m {
	case AccessPublic:
		return "public"
	case AccessWhitelist:
		return "whitelist"
	case AccessRoleBased:
		return "role_based"
	case AccessClosed:
		return "closed"
	}
	return "unknown"
}

// ParseAccessMode resolves a configuration string into an AccessMode.
func ParseAccessMode(raw string) (AccessMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "public":
		return AccessPublic, true
	case "whitelist":
		return AccessWhitelist, true
	case "role_based", "role-based", "rolebased":
		return AccessRoleBased, true
	case "closed":
		return AccessClosed, true
	}
	return AccessPublic, false
}

// RateConfig is the point-currency to reference-currency ratio applied before
// any USD conversion.
type RateConfig struct {
	Numerator   uint64
	Denominator uint64
}

// PriceSource identifies which side of the price pipeline produced a rate.
type PriceSource uint8

const (
	// SourceOracle marks a rate resolved from the live oracle reader.
	SourceOracle PriceSource = iota
	// SourceExternal marks a rate resolved from the externally pushed feed.
	SourceExternal
)

// String renders the source name.
func (s PriceSource) String() string {
	switch s {
	case SourceOracle:
		return "oracle"
	case SourceExternal:
		return "external"
	}
	return "unknown"
}

// Roles recognised by the engine. Grant and revoke are restricted to admins.
const (
	RoleAdmin            = "admin"
	RoleConfigManager    = "config-manager"
	RolePriceUpdater     = "price-updater"
	RoleEmergencyManager = "emergency-manager"
	RoleFeeManager       = "fee-manager"
	RoleWhitelistManager = "whitelist-manager"
	RoleExchangeUser     = "exchange-user"
)

// QuoteResult captures a pure quote computation. Amounts are in the asset's
// native precision; rates are normalized to the 1e18 scale.
type QuoteResult struct {
	Symbol         string
	PointAmount    *big.Int
	GrossAsset     *big.Int
	NetAsset       *big.Int
	ExchangeFee    *big.Int
	OperationalFee *big.Int
	PointRate      *big.Int
	AssetRate      *big.Int
	PointSource    PriceSource
	AssetSource    PriceSource
	MinOut         *big.Int
}

// Copy returns a deep copy.
func (q *QuoteResult) Copy() *QuoteResult {
	if q == nil {
		return nil
	}
	clone := &QuoteResult{Symbol: q.Symbol, PointSource: q.PointSource, AssetSource: q.AssetSource}
	clone.PointAmount = copyBig(q.PointAmount)
	clone.GrossAsset = copyBig(q.GrossAsset)
	clone.NetAsset = copyBig(q.NetAsset)
	clone.ExchangeFee = copyBig(q.ExchangeFee)
	clone.OperationalFee = copyBig(q.OperationalFee)
	clone.PointRate = copyBig(q.PointRate)
	clone.AssetRate = copyBig(q.AssetRate)
	clone.MinOut = copyBig(q.MinOut)
	return clone
}

// Receipt records a committed settlement.
type Receipt struct {
	ID             string
	Owner          Address
	Relayer        Address
	Symbol         string
	PointAmount    *big.Int
	GrossAsset     *big.Int
	NetAsset       *big.Int
	ExchangeFee    *big.Int
	OperationalFee *big.Int
	PointRate      *big.Int
	AssetRate      *big.Int
	PointSource    PriceSource
	AssetSource    PriceSource
	Delegated      bool
	CreatedAt      int64
}

// Copy returns a deep copy.
func (r *Receipt) Copy() *Receipt {
	if r == nil {
		return nil
	}
	clone := *r
	clone.PointAmount = copyBig(r.PointAmount)
	clone.GrossAsset = copyBig(r.GrossAsset)
	clone.NetAsset = copyBig(r.NetAsset)
	clone.ExchangeFee = copyBig(r.ExchangeFee)
	clone.OperationalFee = copyBig(r.OperationalFee)
	clone.PointRate = copyBig(r.PointRate)
	clone.AssetRate = copyBig(r.AssetRate)
	return &clone
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
