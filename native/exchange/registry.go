package exchange

import (
	"fmt"
	"sort"
)

// Registry persists settlement asset configurations and maintains the symbol
// index used for whole-set scans.
type Registry struct {
	store Storage
}

// NewRegistry binds a registry to the backing store.
func NewRegistry(store Storage) *Registry {
	return &Registry{store: store}
}

// Get loads the configuration for a symbol.
func (r *Registry) Get(symbol string) (*AssetConfig, bool, error) {
	if r == nil || r.store == nil {
		return nil, false, fmt.Errorf("exchange: registry not configured")
	}
	var cfg AssetConfig
	ok, err := r.store.KVGet(tokenKey(symbol), &cfg)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return cfg.Copy(), true, nil
}

// Put upserts the configuration and keeps the symbol index current.
func (r *Registry) Put(cfg *AssetConfig) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("exchange: registry not configured")
	}
	if cfg == nil {
		return fmt.Errorf("exchange: nil asset config")
	}
	stored := cfg.Copy()
	stored.Symbol = normaliseSymbol(stored.Symbol)
	if stored.Symbol == "" {
		return fmt.Errorf("exchange: asset symbol required")
	}
	if err := r.store.KVPut(tokenKey(stored.Symbol), *stored); err != nil {
		return err
	}
	return r.indexAdd(stored.Symbol)
}

// List returns every configured asset sorted by symbol.
func (r *Registry) List() ([]*AssetConfig, error) {
	symbols, err := r.Symbols()
	if err != nil {
		return nil, err
	}
	configs := make([]*AssetConfig, 0, len(symbols))
	for _, symbol := range symbols {
		cfg, ok, err := r.Get(symbol)
		if err != nil {
			return nil, err
		}
		if ok {
			configs = append(configs, cfg)
		}
	}
	return configs, nil
}

// Symbols returns the sorted symbol index.
func (r *Registry) Symbols() ([]string, error) {
	var index indexRecord
	ok, err := r.store.KVGet(tokenIndexKey, &index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	symbols := append([]string(nil), index.Symbols...)
	sort.Strings(symbols)
	return symbols, nil
}

func (r *Registry) indexAdd(symbol string) error {
	var index indexRecord
	if _, err := r.store.KVGet(tokenIndexKey, &index); err != nil {
		return err
	}
	for _, existing := range index.Symbols {
		if existing == symbol {
			return nil
		}
	}
	index.Symbols = append(index.Symbols, symbol)
	sort.Strings(index.Symbols)
	return r.store.KVPut(tokenIndexKey, index)
}

// ConfigureToken registers or updates a settlement asset. The exchange fee is
// validated against the global max fee and against the asset's operational
// fee, if one is configured, so the combined rate can never reach 100%.
func (e *Engine) ConfigureToken(caller Address, cfg *AssetConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleConfigManager); err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("exchange: nil asset config")
	}
	stored := cfg.Copy()
	stored.Symbol = normaliseSymbol(stored.Symbol)
	if stored.Symbol == "" {
		return fmt.Errorf("exchange: asset symbol required")
	}
	if stored.Symbol == PointSymbol {
		return fmt.Errorf("exchange: %s is reserved", PointSymbol)
	}
	maxFee, err := e.maxFeeLocked()
	if err != nil {
		return err
	}
	if stored.FeeBps > maxFee {
		return fmt.Errorf("%w: exchange fee %d bps exceeds max fee %d", ErrInvalidFeeRate, stored.FeeBps, maxFee)
	}
	opCfg, ok, err := e.operationalFeeLocked(stored.Symbol)
	if err != nil {
		return err
	}
	if ok && stored.FeeBps+opCfg.Bps > MaxBps {
		return fmt.Errorf("%w: combined fees exceed %d bps", ErrInvalidFeeRate, MaxBps)
	}
	stored.UpdatedAt = uint64(e.clock().UTC().Unix())
	if err := e.registry.Put(stored); err != nil {
		return err
	}
	e.emitEvent(&TokenConfigured{Symbol: stored.Symbol, FeeBps: stored.FeeBps, Enabled: stored.Enabled})
	return nil
}

// SetTokenEnabled toggles an asset without touching the rest of its config.
func (e *Engine) SetTokenEnabled(caller Address, symbol string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireRole(caller, RoleConfigManager); err != nil {
		return err
	}
	cfg, ok, err := e.registry.Get(symbol)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAssetNotConfigured
	}
	cfg.Enabled = enabled
	cfg.UpdatedAt = uint64(e.clock().UTC().Unix())
	if err := e.registry.Put(cfg); err != nil {
		return err
	}
	e.emitEvent(&TokenConfigured{Symbol: cfg.Symbol, FeeBps: cfg.FeeBps, Enabled: enabled})
	return nil
}

// Token loads an asset configuration.
func (e *Engine) Token(symbol string) (*AssetConfig, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Get(symbol)
}

// Tokens lists every configured asset.
func (e *Engine) Tokens() ([]*AssetConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.List()
}
