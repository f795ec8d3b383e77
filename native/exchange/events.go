package exchange

import "math/big"

// SettlementCompleted is emitted after every committed exchange, delegated or
// direct.
type SettlementCompleted struct {
	Receipt *Receipt
}

func (e *SettlementCompleted) EventType() string { return "exchange.settlement.completed" }

// TokenConfigured is emitted when an asset is registered, updated, or toggled.
type TokenConfigured struct {
	Symbol  string
	FeeBps  uint64
	Enabled bool
}

func (e *TokenConfigured) EventType() string { return "exchange.token.configured" }

// OperationalFeeConfigured is emitted when an asset's operational fee changes.
type OperationalFeeConfigured struct {
	Symbol    string
	Bps       uint64
	Recipient Address
	Enabled   bool
}

func (e *OperationalFeeConfigured) EventType() string { return "exchange.opfee.configured" }

// OperationalFeeWithdrawn is emitted when accrued operational fees are paid
// out.
type OperationalFeeWithdrawn struct {
	Symbol    string
	Amount    *big.Int
	Recipient Address
}

func (e *OperationalFeeWithdrawn) EventType() string { return "exchange.opfee.withdrawn" }

// ExternalPricePushed is emitted for each externally pushed price round.
type ExternalPricePushed struct {
	Symbol    string
	RoundID   uint64
	Answer    *big.Int
	UpdatedAt uint64
}

func (e *ExternalPricePushed) EventType() string { return "exchange.price.pushed" }

// AccessModeChanged is emitted when the gate mode switches.
type AccessModeChanged struct {
	Previous AccessMode
	Current  AccessMode
	Caller   Address
}

func (e *AccessModeChanged) EventType() string { return "exchange.access.mode" }

// WhitelistUpdated is emitted after a bulk whitelist change.
type WhitelistUpdated struct {
	Count   uint64
	Allowed bool
	Caller  Address
}

func (e *WhitelistUpdated) EventType() string { return "exchange.access.whitelist" }

// SystemPaused is emitted when settlements are halted.
type SystemPaused struct {
	Caller Address
}

func (e *SystemPaused) EventType() string { return "exchange.system.paused" }

// SystemUnpaused is emitted when settlements resume.
type SystemUnpaused struct {
	Caller Address
}

func (e *SystemUnpaused) EventType() string { return "exchange.system.unpaused" }

// TreasuryUpdated is emitted when the treasury destination changes.
type TreasuryUpdated struct {
	Treasury Address
	Caller   Address
}

func (e *TreasuryUpdated) EventType() string { return "exchange.treasury.updated" }

// MaxFeeUpdated is emitted when the global fee cap changes.
type MaxFeeUpdated struct {
	MaxFeeBps uint64
	Caller    Address
}

func (e *MaxFeeUpdated) EventType() string { return "exchange.maxfee.updated" }

// RateConfigUpdated is emitted when the point-to-reference ratio changes.
type RateConfigUpdated struct {
	Numerator   uint64
	Denominator uint64
	Caller      Address
}

func (e *RateConfigUpdated) EventType() string { return "exchange.rate.updated" }

// LiquidityFunded is emitted when the settlement pool is credited.
type LiquidityFunded struct {
	Symbol string
	Amount *big.Int
	Caller Address
}

func (e *LiquidityFunded) EventType() string { return "exchange.pool.funded" }

// EmergencyWithdrawal is emitted when the pool is drained to the treasury.
type EmergencyWithdrawal struct {
	Symbol   string
	Amount   *big.Int
	Treasury Address
	Caller   Address
}

func (e *EmergencyWithdrawal) EventType() string { return "exchange.emergency.withdrawal" }

// RoleGranted is emitted when an account gains a role.
type RoleGranted struct {
	Role    string
	Account Address
	Granter Address
}

func (e *RoleGranted) EventType() string { return "exchange.role.granted" }

// RoleRevoked is emitted when an account loses a role.
type RoleRevoked struct {
	Role    string
	Account Address
	Revoker Address
}

func (e *RoleRevoked) EventType() string { return "exchange.role.revoked" }
