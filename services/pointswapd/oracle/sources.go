package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Quote captures an exchange rate observation from a single upstream source.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// Source resolves a rate observation for a currency pair.
type Source interface {
	Name() string
	Fetch(ctx context.Context, base, quote string) (Quote, error)
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BuildSource constructs a source from configuration.
func BuildSource(client HTTPDoer, name, typ, endpoint, apiKey string, assets map[string]string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "coingecko":
		src := NewCoinGeckoSource(client, label(name, "coingecko"), endpoint, assets)
		src.apiKey = strings.TrimSpace(apiKey)
		return src, nil
	case "manual":
		return NewManualSource(label(name, "manual")), nil
	default:
		return nil, fmt.Errorf("unknown oracle source type %q", typ)
	}
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoSource adapts the public CoinGecko simple price API.
type CoinGeckoSource struct {
	client   HTTPDoer
	name     string
	endpoint string
	apiKey   string
	idMap    map[string]string
}

// NewCoinGeckoSource constructs a new adapter. idMap allows the caller to map
// settlement asset symbols to CoinGecko asset identifiers.
func NewCoinGeckoSource(client HTTPDoer, name, endpoint string, idMap map[string]string) *CoinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return &CoinGeckoSource{client: client, name: name, endpoint: ep, idMap: mapped}
}

// Name identifies the source in samples and logs.
func (s *CoinGeckoSource) Name() string { return s.name }

func (s *CoinGeckoSource) assetID(symbol string) string {
	if id, ok := s.idMap[strings.ToUpper(strings.TrimSpace(symbol))]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

// Fetch resolves the base asset priced in the quote currency.
func (s *CoinGeckoSource) Fetch(ctx context.Context, base, quote string) (Quote, error) {
	if s == nil {
		return Quote{}, fmt.Errorf("coingecko source not configured")
	}
	id := s.assetID(base)
	if id == "" {
		return Quote{}, fmt.Errorf("coingecko source: unmapped asset %s", base)
	}
	vsCurrency := strings.ToLower(strings.TrimSpace(quote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", vsCurrency)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	if s.apiKey != "" {
		req.Header.Set("x-cg-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coingecko source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coingecko source: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko source: quote missing for %s", base)
	}
	priceRaw, ok := entry[vsCurrency]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko source: empty price for %s/%s", base, quote)
	}
	rat, ok := new(big.Rat).SetString(priceRaw.String())
	if !ok || rat.Sign() <= 0 {
		return Quote{}, fmt.Errorf("coingecko source: invalid rate %q", priceRaw.String())
	}
	ts := time.Now().UTC()
	if rawTs, exists := entry["last_updated_at"]; exists {
		if parsed, err := rawTs.Int64(); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0)
		}
	}
	return Quote{Rate: rat, Timestamp: ts, Source: s.name}, nil
}

// ManualSource provides an in-memory source used for tests and manual
// overrides during incident response.
type ManualSource struct {
	mu     sync.RWMutex
	name   string
	quotes map[string]Quote
}

// NewManualSource constructs an empty manual source.
func NewManualSource(name string) *ManualSource {
	return &ManualSource{name: label(name, "manual"), quotes: make(map[string]Quote)}
}

// Name identifies the source in samples and logs.
func (m *ManualSource) Name() string { return m.name }

func manualKey(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

// SetDecimal records the supplied decimal rate for the currency pair.
func (m *ManualSource) SetDecimal(base, quote, rate string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual source not configured")
	}
	trimmed := strings.TrimSpace(rate)
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual source: invalid rate %q", rate)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual source: rate must be positive")
	}
	m.Set(base, quote, rat, ts)
	return nil
}

// Set stores the provided rational rate for the currency pair.
func (m *ManualSource) Set(base, quote string, rate *big.Rat, ts time.Time) {
	if m == nil || rate == nil {
		return
	}
	m.mu.Lock()
	m.quotes[manualKey(base, quote)] = Quote{
		Rate:      new(big.Rat).Set(rate),
		Timestamp: ts,
		Source:    m.name,
	}
	m.mu.Unlock()
}

// Fetch retrieves the stored rate for the currency pair.
func (m *ManualSource) Fetch(_ context.Context, base, quote string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual source not configured")
	}
	m.mu.RLock()
	stored, ok := m.quotes[manualKey(base, quote)]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("manual source: quote for %s/%s not found", base, quote)
	}
	return stored.Clone(), nil
}

// formatRate renders a rate with fixed precision for logging.
func formatRate(rate *big.Rat) string {
	if rate == nil {
		return ""
	}
	return rate.FloatString(18)
}
