package oracle

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"
)

type stubDoer struct {
	status int
	body   string
	req    *http.Request
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.req = req
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(bytes.NewBufferString(s.body)),
	}, nil
}

func TestCoinGeckoFetch(t *testing.T) {
	doer := &stubDoer{
		status: http.StatusOK,
		body:   `{"ethereum":{"usd":3650.98,"last_updated_at":1700000000}}`,
	}
	src := NewCoinGeckoSource(doer, "gecko", "https://example.test/simple/price", map[string]string{"ETH": "ethereum"})
	quote, err := src.Fetch(context.Background(), "ETH", "USD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Rate.FloatString(2) != "3650.98" {
		t.Fatalf("rate = %s", quote.Rate.FloatString(2))
	}
	if !quote.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("timestamp = %s", quote.Timestamp)
	}
	if quote.Source != "gecko" {
		t.Fatalf("source = %q", quote.Source)
	}
	if got := doer.req.URL.Query().Get("ids"); got != "ethereum" {
		t.Fatalf("ids = %q", got)
	}
	if got := doer.req.URL.Query().Get("vs_currencies"); got != "usd" {
		t.Fatalf("vs_currencies = %q", got)
	}
}

func TestCoinGeckoFetchRejectsErrorStatus(t *testing.T) {
	doer := &stubDoer{status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`}
	src := NewCoinGeckoSource(doer, "gecko", "https://example.test/simple/price", nil)
	if _, err := src.Fetch(context.Background(), "ETH", "USD"); err == nil {
		t.Fatal("error status accepted")
	}
}

func TestCoinGeckoFetchRejectsMissingPrice(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: `{"ethereum":{}}`}
	src := NewCoinGeckoSource(doer, "gecko", "https://example.test/simple/price", map[string]string{"ETH": "ethereum"})
	if _, err := src.Fetch(context.Background(), "ETH", "USD"); err == nil {
		t.Fatal("missing price accepted")
	}
}

func TestManualSourceRoundTrip(t *testing.T) {
	src := NewManualSource("manual")
	if err := src.SetDecimal("eth", "usd", "123.45", time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("set: %v", err)
	}
	quote, err := src.Fetch(context.Background(), "ETH", "USD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Rate.FloatString(2) != "123.45" {
		t.Fatalf("rate = %s", quote.Rate.FloatString(2))
	}
	if _, err := src.Fetch(context.Background(), "BTC", "USD"); err == nil {
		t.Fatal("missing pair accepted")
	}
	if err := src.SetDecimal("eth", "usd", "-1", time.Now()); err == nil {
		t.Fatal("negative rate accepted")
	}
}
