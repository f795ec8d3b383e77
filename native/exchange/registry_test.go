package exchange

import (
	"errors"
	"testing"
)

func TestConfigureTokenNormalizesAndIndexes(t *testing.T) {
	env := newTestEnv(t)
	cfg := &AssetConfig{Symbol: "  weth ", Decimals: 18, FeeBps: 100, Enabled: true, OracleRef: "eth-usd"}
	if err := env.engine.ConfigureToken(env.admin, cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}
	loaded, ok, err := env.engine.Token("weth")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if loaded.Symbol != "WETH" {
		t.Fatalf("symbol = %q", loaded.Symbol)
	}
	if loaded.UpdatedAt != uint64(env.now.Unix()) {
		t.Fatalf("updatedAt = %d", loaded.UpdatedAt)
	}
	// A second configure updates in place without duplicating the index.
	cfg.FeeBps = 200
	if err := env.engine.ConfigureToken(env.admin, cfg); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if err := env.engine.ConfigureToken(env.admin, &AssetConfig{Symbol: "AAVE", Decimals: 18, Enabled: true}); err != nil {
		t.Fatalf("configure second: %v", err)
	}
	tokens, err := env.engine.Tokens()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("tokens = %d, want 2", len(tokens))
	}
	// Sorted by symbol.
	if tokens[0].Symbol != "AAVE" || tokens[1].Symbol != "WETH" {
		t.Fatalf("order = %s, %s", tokens[0].Symbol, tokens[1].Symbol)
	}
	if tokens[1].FeeBps != 200 {
		t.Fatalf("fee not updated: %d", tokens[1].FeeBps)
	}
}

func TestConfigureTokenValidation(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.ConfigureToken(env.admin, &AssetConfig{Symbol: "   "}); err == nil {
		t.Fatal("blank symbol accepted")
	}
	if err := env.engine.ConfigureToken(env.admin, nil); err == nil {
		t.Fatal("nil config accepted")
	}
	if err := env.engine.ConfigureToken(env.admin, &AssetConfig{Symbol: PointSymbol}); err == nil {
		t.Fatal("reserved symbol accepted")
	}
	over := &AssetConfig{Symbol: "WETH", FeeBps: DefaultMaxFeeBps + 1}
	if err := env.engine.ConfigureToken(env.admin, over); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("fee above default max: %v", err)
	}
	if err := env.engine.ConfigureToken(testAddr(0x42), &AssetConfig{Symbol: "WETH"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider configure: %v", err)
	}
}

func TestConfigureTokenCombinedFeeGuard(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.UpdateMaxFee(env.admin, MaxBps); err != nil {
		t.Fatalf("raise max fee: %v", err)
	}
	if err := env.engine.ConfigureToken(env.admin, &AssetConfig{Symbol: "WETH", Decimals: 18, FeeBps: 9500, Enabled: true}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := env.engine.ConfigureOperationalFee(env.admin, "WETH", 600, testAddr(0xFE), true); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("combined fees above 100%%: %v", err)
	}
	if err := env.engine.ConfigureOperationalFee(env.admin, "WETH", 500, testAddr(0xFE), true); err != nil {
		t.Fatalf("combined fees at 100%%: %v", err)
	}
	// Raising the exchange fee past the remaining headroom is rejected.
	if err := env.engine.ConfigureToken(env.admin, &AssetConfig{Symbol: "WETH", Decimals: 18, FeeBps: 9501, Enabled: true}); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("exchange fee crowding operational fee: %v", err)
	}
}

func TestSetTokenEnabled(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetTokenEnabled(env.admin, "WETH", false); !errors.Is(err, ErrAssetNotConfigured) {
		t.Fatalf("toggle unknown asset: %v", err)
	}
	if err := env.engine.ConfigureToken(env.admin, &AssetConfig{Symbol: "WETH", Decimals: 18, Enabled: true}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := env.engine.SetTokenEnabled(env.admin, "WETH", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	cfg, _, _ := env.engine.Token("WETH")
	if cfg.Enabled {
		t.Fatal("still enabled")
	}
}
