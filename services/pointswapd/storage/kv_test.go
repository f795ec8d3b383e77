package storage

import (
	"math/big"
	"path/filepath"
	"testing"

	"pointswap/native/exchange"
)

func openTestKV(t *testing.T) *KV {
	t.Helper()
	kv, err := OpenKV(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

type storedConfig struct {
	Symbol  string
	Amount  *big.Int
	Enabled bool
}

func TestKVRoundTrip(t *testing.T) {
	kv := openTestKV(t)
	in := storedConfig{Symbol: "WETH", Amount: big.NewInt(123456), Enabled: true}
	if err := kv.KVPut([]byte("cfg/weth"), &in); err != nil {
		t.Fatalf("put: %v", err)
	}
	var out storedConfig
	found, err := kv.KVGet([]byte("cfg/weth"), &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected stored value")
	}
	if out.Symbol != in.Symbol || out.Amount.Cmp(in.Amount) != 0 || !out.Enabled {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestKVGetMissing(t *testing.T) {
	kv := openTestKV(t)
	var out storedConfig
	found, err := kv.KVGet([]byte("missing"), &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("missing key reported as found")
	}
}

func TestKVDelete(t *testing.T) {
	kv := openTestKV(t)
	if err := kv.KVPut([]byte("key"), &storedConfig{Symbol: "X", Amount: big.NewInt(1)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := kv.KVDelete([]byte("key")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var out storedConfig
	found, err := kv.KVGet([]byte("key"), &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("deleted key reported as found")
	}
	if err := kv.KVDelete([]byte("key")); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestKVBacksEngine(t *testing.T) {
	kv := openTestKV(t)
	admin := exchange.Address{}
	admin[19] = 0xAA
	resolver := exchange.NewResolver(kv, nil, exchange.PrecedenceExternalOnly, 0)
	engine := exchange.NewEngine(kv, nil, nil, resolver)
	if err := engine.InitializeAdmin(admin); err != nil {
		t.Fatalf("initialize admin: %v", err)
	}
	if err := engine.SetAccessMode(admin, exchange.AccessWhitelist); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	mode, err := engine.AccessMode()
	if err != nil {
		t.Fatalf("access mode: %v", err)
	}
	if mode != exchange.AccessWhitelist {
		t.Fatalf("mode = %v", mode)
	}
}
