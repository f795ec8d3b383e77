package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pointswap/native/exchange"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for pointswapd.
type Config struct {
	ListenAddress string         `yaml:"listen"`
	DatabasePath  string         `yaml:"database"`
	StatePath     string         `yaml:"state"`
	LogFile       LogFileConfig  `yaml:"log_file"`
	Admin         AdminConfig    `yaml:"admin"`
	Ledger        LedgerConfig   `yaml:"ledger"`
	Oracle        OracleConfig   `yaml:"oracle"`
	Sources       []Source       `yaml:"sources"`
	Feeds         []Feed         `yaml:"feeds"`
	Exchange      ExchangeConfig `yaml:"exchange"`
	Assets        []Asset        `yaml:"assets"`
}

// LogFileConfig enables rotated file logging when a path is set.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AdminConfig secures the admin HTTP surface and names the bootstrap admin
// account.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token"`
	Address     string `yaml:"address"`
}

// LedgerConfig points at the upstream point ledger service.
type LedgerConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	AuthToken string   `yaml:"auth_token"`
	Timeout   Duration `yaml:"timeout"`
}

// OracleConfig tunes the polling loop and price resolution.
type OracleConfig struct {
	Interval   Duration `yaml:"interval"`
	MaxAge     Duration `yaml:"max_age"`
	MinFeeds   int      `yaml:"min_feeds"`
	Precedence string   `yaml:"precedence"`
	PointFeed  string   `yaml:"point_feed"`
}

// Source describes an upstream price feed provider.
type Source struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Assets   map[string]string `yaml:"assets"`
}

// Feed identifies a base/quote pair to aggregate and the reference settlement
// assets use to point at it.
type Feed struct {
	Ref   string `yaml:"ref"`
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
}

// ExchangeConfig seeds engine parameters at boot.
type ExchangeConfig struct {
	AccessMode      string   `yaml:"access_mode"`
	MaxFeeBps       uint64   `yaml:"max_fee_bps"`
	DailyLimit      string   `yaml:"daily_limit"`
	RateNumerator   uint64   `yaml:"rate_numerator"`
	RateDenominator uint64   `yaml:"rate_denominator"`
	Staleness       Duration `yaml:"staleness"`
}

// Asset seeds a settlement asset into the registry at boot.
type Asset struct {
	Symbol    string `yaml:"symbol"`
	Address   string `yaml:"address"`
	Decimals  uint8  `yaml:"decimals"`
	FeeBps    uint64 `yaml:"fee_bps"`
	OracleRef string `yaml:"oracle_ref"`
	Enabled   bool   `yaml:"enabled"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7154"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/pointswapd.sqlite"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/var/data/pointswapd-state"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	if cfg.Oracle.Precedence == "" {
		cfg.Oracle.Precedence = "oracle_first"
	}
	if cfg.Exchange.AccessMode == "" {
		cfg.Exchange.AccessMode = "public"
	}
	if cfg.Exchange.RateNumerator == 0 {
		cfg.Exchange.RateNumerator = 100
	}
	if cfg.Exchange.RateDenominator == 0 {
		cfg.Exchange.RateDenominator = 100
	}
	if cfg.Exchange.Staleness.Duration == 0 {
		cfg.Exchange.Staleness.Duration = time.Hour
	}
	if cfg.Ledger.Timeout.Duration == 0 {
		cfg.Ledger.Timeout.Duration = 10 * time.Second
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Admin.BearerToken) == "" {
		return fmt.Errorf("admin bearer_token must be configured")
	}
	if _, err := ParseAddress(cfg.Admin.Address); err != nil {
		return fmt.Errorf("admin address: %w", err)
	}
	if strings.TrimSpace(cfg.Ledger.Endpoint) == "" {
		return fmt.Errorf("ledger endpoint must be configured")
	}
	precedence, err := exchange.ParsePrecedence(cfg.Oracle.Precedence)
	if err != nil {
		return err
	}
	if _, ok := exchange.ParseAccessMode(cfg.Exchange.AccessMode); !ok {
		return fmt.Errorf("unknown access_mode %q", cfg.Exchange.AccessMode)
	}
	if precedence != exchange.PrecedenceExternalOnly {
		if len(cfg.Sources) == 0 {
			return fmt.Errorf("at least one oracle source must be configured")
		}
		if len(cfg.Feeds) == 0 {
			return fmt.Errorf("at least one feed must be configured")
		}
	}
	refs := make(map[string]struct{}, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		ref := strings.TrimSpace(feed.Ref)
		if ref == "" || strings.TrimSpace(feed.Base) == "" || strings.TrimSpace(feed.Quote) == "" {
			return fmt.Errorf("feed ref, base, and quote are required")
		}
		if _, dup := refs[ref]; dup {
			return fmt.Errorf("duplicate feed ref %q", ref)
		}
		refs[ref] = struct{}{}
	}
	for _, asset := range cfg.Assets {
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("asset symbol required")
		}
		if asset.Address != "" {
			if _, err := ParseAddress(asset.Address); err != nil {
				return fmt.Errorf("asset %s address: %w", asset.Symbol, err)
			}
		}
		if ref := strings.TrimSpace(asset.OracleRef); ref != "" && len(cfg.Feeds) > 0 {
			if _, ok := refs[ref]; !ok {
				return fmt.Errorf("asset %s references unknown feed %q", asset.Symbol, ref)
			}
		}
	}
	if limit := strings.TrimSpace(cfg.Exchange.DailyLimit); limit != "" {
		if !isDecimal(limit) {
			return fmt.Errorf("daily_limit must be a base-10 integer")
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address with optional 0x prefix.
func ParseAddress(raw string) (exchange.Address, error) {
	var addr exchange.Address
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return addr, fmt.Errorf("address required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("decode address: %w", err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes", len(addr))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
