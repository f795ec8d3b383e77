package exchange

import (
	"fmt"
	"math/big"
	"time"
)

// Gate evaluates the access mode, whitelist, and daily volume limit for
// state-changing exchange calls.
type Gate struct {
	store Storage
	roles *RoleSet
}

// NewGate binds a gate to the backing store and role set.
func NewGate(store Storage, roles *RoleSet) *Gate {
	return &Gate{store: store, roles: roles}
}

// Mode returns the current access mode. An unset mode defaults to public.
func (g *Gate) Mode() (AccessMode, error) {
	var record uintRecord
	ok, err := g.store.KVGet(accessModeKey, &record)
	if err != nil {
		return AccessPublic, err
	}
	if !ok {
		return AccessPublic, nil
	}
	return AccessMode(record.Value), nil
}

// SetMode persists the access mode.
func (g *Gate) SetMode(mode AccessMode) error {
	if mode > AccessClosed {
		return fmt.Errorf("exchange: unknown access mode %d", mode)
	}
	return g.store.KVPut(accessModeKey, uintRecord{Value: uint64(mode)})
}

// Whitelisted reports whether the address is on the whitelist.
func (g *Gate) Whitelisted(addr Address) (bool, error) {
	var record presenceRecord
	ok, err := g.store.KVGet(whitelistKey(addr), &record)
	if err != nil {
		return false, err
	}
	return ok && record.Present, nil
}

// SetWhitelisted adds or removes the address from the whitelist.
func (g *Gate) SetWhitelisted(addr Address, allowed bool) error {
	if allowed {
		return g.store.KVPut(whitelistKey(addr), presenceRecord{Present: true})
	}
	return g.store.KVDelete(whitelistKey(addr))
}

// Authorize checks the caller against the current access mode. It never
// consults the daily limit; volume accounting happens at commit time.
func (g *Gate) Authorize(owner Address) error {
	mode, err := g.Mode()
	if err != nil {
		return err
	}
	switch mode {
	case AccessPublic:
		return nil
	case AccessWhitelist:
		allowed, err := g.Whitelisted(owner)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrNotWhitelisted
		}
		return nil
	case AccessRoleBased:
		held, err := g.roles.Has(RoleExchangeUser, owner)
		if err != nil {
			return err
		}
		if !held {
			return ErrMissingPermissionRole
		}
		return nil
	case AccessClosed:
		return ErrExchangeClosed
	}
	return fmt.Errorf("exchange: unknown access mode %d", mode)
}

// DailyLimit returns the configured per-user daily point volume cap. Zero
// means unlimited.
func (g *Gate) DailyLimit() (*big.Int, error) {
	return storedAmount(g.store, dailyLimitKey)
}

// DailyVolume returns the points already consumed by the address on the UTC
// day containing now.
func (g *Gate) DailyVolume(addr Address, now time.Time) (*big.Int, error) {
	return storedAmount(g.store, dailyKey(now, addr))
}

// CheckDailyLimit verifies that adding amount to the address's volume for the
// UTC day stays within the cap and returns the new total for staging.
func (g *Gate) CheckDailyLimit(addr Address, amount *big.Int, now time.Time) (*big.Int, error) {
	limit, err := g.DailyLimit()
	if err != nil {
		return nil, err
	}
	used, err := g.DailyVolume(addr, now)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(used, amount)
	if limit.Sign() > 0 && total.Cmp(limit) > 0 {
		return nil, fmt.Errorf("%w: %s of %s points used today", ErrDailyLimitExceeded, used, limit)
	}
	return total, nil
}

// SetAccessMode switches the gate mode. Admin only.
func (e *Engine) SetAccessMode(caller Address, mode AccessMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	previous, err := e.gate.Mode()
	if err != nil {
		return err
	}
	if err := e.gate.SetMode(mode); err != nil {
		return err
	}
	e.emitEvent(&AccessModeChanged{Previous: previous, Current: mode, Caller: caller})
	return nil
}

// AccessMode reports the current gate mode.
func (e *Engine) AccessMode() (AccessMode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate.Mode()
}

// UpdateWhitelist adds or removes addresses in bulk. Requires the whitelist
// manager role.
func (e *Engine) UpdateWhitelist(caller Address, addrs []Address, allowed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleWhitelistManager); err != nil {
		return err
	}
	for _, addr := range addrs {
		if err := e.gate.SetWhitelisted(addr, allowed); err != nil {
			return err
		}
	}
	e.emitEvent(&WhitelistUpdated{Count: uint64(len(addrs)), Allowed: allowed, Caller: caller})
	return nil
}

// Whitelisted reports whitelist membership.
func (e *Engine) Whitelisted(addr Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate.Whitelisted(addr)
}

// SetDailyVolumeLimit sets the per-user daily point volume cap. Zero disables
// the cap. Admin only.
func (e *Engine) SetDailyVolumeLimit(caller Address, limit *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if limit != nil && limit.Sign() < 0 {
		return ErrInvalidAmount
	}
	return putAmount(e.store, dailyLimitKey, limit)
}

// DailyVolumeLimit returns the cap, zero meaning unlimited.
func (e *Engine) DailyVolumeLimit() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate.DailyLimit()
}

// DailyVolume returns the points the address consumed on the current UTC day.
func (e *Engine) DailyVolume(addr Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate.DailyVolume(addr, e.clock())
}
