package exchange

import "fmt"

// RoleSet persists role membership and per-role counts over the backing store.
type RoleSet struct {
	store Storage
}

// NewRoleSet binds a role set to the backing store.
func NewRoleSet(store Storage) *RoleSet {
	return &RoleSet{store: store}
}

// Has reports whether the address holds the role.
func (r *RoleSet) Has(role string, addr Address) (bool, error) {
	if r == nil || r.store == nil {
		return false, fmt.Errorf("exchange: role set not configured")
	}
	var record presenceRecord
	ok, err := r.store.KVGet(roleKey(role, addr), &record)
	if err != nil {
		return false, err
	}
	return ok && record.Present, nil
}

// Count returns the number of holders of the role.
func (r *RoleSet) Count(role string) (uint64, error) {
	var record uintRecord
	ok, err := r.store.KVGet(roleCountKey(role), &record)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return record.Value, nil
}

// Grant adds the address to the role. Granting an already-held role is a
// no-op so counts stay accurate.
func (r *RoleSet) Grant(role string, addr Address) error {
	held, err := r.Has(role, addr)
	if err != nil {
		return err
	}
	if held {
		return nil
	}
	count, err := r.Count(role)
	if err != nil {
		return err
	}
	if err := r.store.KVPut(roleKey(role, addr), presenceRecord{Present: true}); err != nil {
		return err
	}
	return r.store.KVPut(roleCountKey(role), uintRecord{Value: count + 1})
}

// Revoke removes the address from the role. Revoking an unheld role is a
// no-op.
func (r *RoleSet) Revoke(role string, addr Address) error {
	held, err := r.Has(role, addr)
	if err != nil {
		return err
	}
	if !held {
		return nil
	}
	count, err := r.Count(role)
	if err != nil {
		return err
	}
	if err := r.store.KVDelete(roleKey(role, addr)); err != nil {
		return err
	}
	if count > 0 {
		count--
	}
	return r.store.KVPut(roleCountKey(role), uintRecord{Value: count})
}

func (e *Engine) requireRole(caller Address, role string) error {
	held, err := e.roles.Has(role, caller)
	if err != nil {
		return err
	}
	if held {
		return nil
	}
	// Admins implicitly hold every management role.
	if role != RoleAdmin {
		admin, err := e.roles.Has(RoleAdmin, caller)
		if err != nil {
			return err
		}
		if admin {
			return nil
		}
	}
	return fmt.Errorf("%w: %x requires role %s", ErrUnauthorized, caller, role)
}

// InitializeAdmin grants the bootstrap admin role. It succeeds only while no
// admin exists, so a deployed instance cannot be re-seeded.
func (e *Engine) InitializeAdmin(addr Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	count, err := e.roles.Count(RoleAdmin)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: admin already initialized", ErrUnauthorized)
	}
	if err := e.roles.Grant(RoleAdmin, addr); err != nil {
		return err
	}
	e.emitEvent(&RoleGranted{Role: RoleAdmin, Account: addr, Granter: addr})
	return nil
}

// GrantRole assigns a role to an account. Only admins may grant.
func (e *Engine) GrantRole(caller Address, role string, addr Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if role == "" {
		return fmt.Errorf("exchange: role required")
	}
	if err := e.roles.Grant(role, addr); err != nil {
		return err
	}
	e.emitEvent(&RoleGranted{Role: role, Account: addr, Granter: caller})
	return nil
}

// RevokeRole removes a role from an account. Only admins may revoke.
func (e *Engine) RevokeRole(caller Address, role string, addr Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if role == "" {
		return fmt.Errorf("exchange: role required")
	}
	if err := e.roles.Revoke(role, addr); err != nil {
		return err
	}
	e.emitEvent(&RoleRevoked{Role: role, Account: addr, Revoker: caller})
	return nil
}

// HasRole reports role membership.
func (e *Engine) HasRole(role string, addr Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roles.Has(role, addr)
}
