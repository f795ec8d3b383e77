package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pointswapd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
listen: ":7154"
admin:
  bearer_token: secret
  address: "0x00000000000000000000000000000000000000aa"
ledger:
  endpoint: "https://ledger.internal:8443"
  auth_token: ledger-secret
sources:
  - name: coingecko
    type: coingecko
    endpoint: "https://api.coingecko.com/api/v3"
    assets:
      ETH: ethereum
feeds:
  - ref: eth-usd
    base: ETH
    quote: USD
assets:
  - symbol: WETH
    decimals: 18
    fee_bps: 100
    oracle_ref: eth-usd
    enabled: true
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Oracle.Interval.Duration != 30*time.Second {
		t.Fatalf("interval = %s", cfg.Oracle.Interval.Duration)
	}
	if cfg.Oracle.MaxAge.Duration != 2*time.Minute {
		t.Fatalf("max age = %s", cfg.Oracle.MaxAge.Duration)
	}
	if cfg.Oracle.MinFeeds != 1 {
		t.Fatalf("min feeds = %d", cfg.Oracle.MinFeeds)
	}
	if cfg.Oracle.Precedence != "oracle_first" {
		t.Fatalf("precedence = %q", cfg.Oracle.Precedence)
	}
	if cfg.Exchange.AccessMode != "public" {
		t.Fatalf("access mode = %q", cfg.Exchange.AccessMode)
	}
	if cfg.Exchange.RateNumerator != 100 || cfg.Exchange.RateDenominator != 100 {
		t.Fatalf("rate = %d/%d", cfg.Exchange.RateNumerator, cfg.Exchange.RateDenominator)
	}
	if cfg.Exchange.Staleness.Duration != time.Hour {
		t.Fatalf("staleness = %s", cfg.Exchange.Staleness.Duration)
	}
	if cfg.Ledger.Timeout.Duration != 10*time.Second {
		t.Fatalf("ledger timeout = %s", cfg.Ledger.Timeout.Duration)
	}
}

func TestLoadRejectsMissingBearerToken(t *testing.T) {
	body := `
admin:
  address: "0x00000000000000000000000000000000000000aa"
ledger:
  endpoint: "https://ledger.internal:8443"
sources:
  - name: coingecko
    type: coingecko
feeds:
  - ref: eth-usd
    base: ETH
    quote: USD
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("missing bearer token accepted")
	}
}

func TestLoadRejectsBadAdminAddress(t *testing.T) {
	body := `
admin:
  bearer_token: secret
  address: "0x1234"
ledger:
  endpoint: "https://ledger.internal:8443"
sources:
  - name: coingecko
    type: coingecko
feeds:
  - ref: eth-usd
    base: ETH
    quote: USD
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("short admin address accepted")
	}
}

func TestLoadRejectsUnknownFeedRef(t *testing.T) {
	body := validConfig + `
  - symbol: WBTC
    decimals: 8
    oracle_ref: btc-usd
    enabled: true
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("unknown feed reference accepted")
	}
}

func TestLoadExternalOnlySkipsSourceRequirement(t *testing.T) {
	body := `
admin:
  bearer_token: secret
  address: "0x00000000000000000000000000000000000000aa"
ledger:
  endpoint: "https://ledger.internal:8443"
oracle:
  precedence: external_only
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sources) != 0 {
		t.Fatalf("sources = %d", len(cfg.Sources))
	}
}

func TestLoadRejectsBadDailyLimit(t *testing.T) {
	body := validConfig + `
exchange:
  daily_limit: "1e18"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("non-decimal daily limit accepted")
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000ff")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr[19] != 0xFF {
		t.Fatalf("addr = %x", addr)
	}
	if _, err := ParseAddress("not-hex"); err == nil {
		t.Fatal("invalid hex accepted")
	}
	if _, err := ParseAddress(""); err == nil {
		t.Fatal("empty address accepted")
	}
}
