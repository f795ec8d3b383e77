package exchange

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// memoryStore round-trips values through RLP the same way the production
// store does, so encoding regressions surface in package tests.
type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = raw
	return nil
}

func (m *memoryStore) KVDelete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

type memoryLedger struct {
	balances map[Address]*big.Int
	failNext error
	refunds  int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{balances: make(map[Address]*big.Int)}
}

func (l *memoryLedger) credit(addr Address, amount *big.Int) {
	current, ok := l.balances[addr]
	if !ok {
		current = big.NewInt(0)
	}
	l.balances[addr] = new(big.Int).Add(current, amount)
}

func (l *memoryLedger) BalanceOf(addr Address) (*big.Int, error) {
	current, ok := l.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(current), nil
}

func (l *memoryLedger) Debit(from Address, amount *big.Int) error {
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return err
	}
	current, ok := l.balances[from]
	if !ok || current.Cmp(amount) < 0 {
		return errors.New("ledger: insufficient balance")
	}
	l.balances[from] = new(big.Int).Sub(current, amount)
	return nil
}

func (l *memoryLedger) Refund(to Address, amount *big.Int) error {
	l.refunds++
	l.credit(to, amount)
	return nil
}

type recordedTransfer struct {
	symbol   string
	address  Address
	decimals uint8
	to       Address
	amount   *big.Int
}

type memoryTransferor struct {
	transfers []recordedTransfer
	failNext  error
}

func (t *memoryTransferor) Transfer(cfg *AssetConfig, to Address, amount *big.Int) error {
	if t.failNext != nil {
		err := t.failNext
		t.failNext = nil
		return err
	}
	t.transfers = append(t.transfers, recordedTransfer{
		symbol:   cfg.Symbol,
		address:  cfg.Address,
		decimals: cfg.Decimals,
		to:       to,
		amount:   new(big.Int).Set(amount),
	})
	return nil
}

type testEnv struct {
	engine     *Engine
	store      *memoryStore
	ledger     *memoryLedger
	transferor *memoryTransferor
	resolver   *Resolver
	now        time.Time
	admin      Address
	events     []Event
}

func testAddr(b byte) Address {
	var a Address
	a[19] = b
	return a
}

// newTestEnv builds an engine with an initialized admin, a generous staleness
// window, and external-only price resolution. Tests that exercise staleness
// or oracle fallback construct their own resolver.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemoryStore()
	ledger := newMemoryLedger()
	transferor := &memoryTransferor{}
	resolver := NewResolver(store, nil, PrecedenceExternalOnly, 1000*time.Hour)
	engine := NewEngine(store, ledger, transferor, resolver)
	env := &testEnv{
		engine:     engine,
		store:      store,
		ledger:     ledger,
		transferor: transferor,
		resolver:   resolver,
		now:        time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		admin:      testAddr(0xAA),
	}
	engine.SetClock(func() time.Time { return env.now })
	engine.SetEmitter(func(evt Event) { env.events = append(env.events, evt) })
	engine.SetIDGenerator(func() string { return "receipt-test" })
	if err := engine.InitializeAdmin(env.admin); err != nil {
		t.Fatalf("initialize admin: %v", err)
	}
	return env
}

func (env *testEnv) pushRound(t *testing.T, symbol string, answer *big.Int, decimals uint8) {
	t.Helper()
	round := PriceRoundData{
		RoundID:         1,
		Answer:          answer,
		StartedAt:       uint64(env.now.Unix()),
		UpdatedAt:       uint64(env.now.Unix()),
		AnsweredInRound: 1,
	}
	if err := env.engine.PushExternalPrice(env.admin, symbol, round, decimals); err != nil {
		t.Fatalf("push round for %s: %v", symbol, err)
	}
}

// configureAsset registers a token with the given exchange fee, pushes prices
// for it and the point currency, and funds the pool.
func (env *testEnv) configureAsset(t *testing.T, symbol string, feeBps uint64, assetRate, pointRate, pool *big.Int) {
	t.Helper()
	cfg := &AssetConfig{Symbol: symbol, Decimals: 18, FeeBps: feeBps, Enabled: true}
	if err := env.engine.ConfigureToken(env.admin, cfg); err != nil {
		t.Fatalf("configure token: %v", err)
	}
	env.pushRound(t, symbol, assetRate, 18)
	env.pushRound(t, PointSymbol, pointRate, 18)
	if err := env.engine.FundLiquidity(env.admin, symbol, pool); err != nil {
		t.Fatalf("fund liquidity: %v", err)
	}
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big integer literal %q", s)
	}
	return v
}

func e18(units int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(units), scale)
}
