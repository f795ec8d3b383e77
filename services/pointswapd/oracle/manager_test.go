package oracle

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"pointswap/services/pointswapd/storage"
)

func openTestAudit(t *testing.T) *storage.Audit {
	t.Helper()
	dsn, err := storage.FileDSN(filepath.Join(t.TempDir(), "audit.sqlite"))
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func manualWithRate(t *testing.T, name, rate string) *ManualSource {
	t.Helper()
	src := NewManualSource(name)
	if err := src.SetDecimal("ETH", "USD", rate, time.Now()); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	return src
}

func testFeeds() []FeedSpec {
	return []FeedSpec{{Ref: "eth-usd", Base: "ETH", Quote: "USD"}}
}

func TestTickPublishesMedianRound(t *testing.T) {
	audit := openTestAudit(t)
	feed := NewFeed()
	sources := []Source{
		manualWithRate(t, "a", "3651.10"),
		manualWithRate(t, "b", "3650.98"),
		manualWithRate(t, "c", "3649.00"),
	}
	mgr, err := New(audit, feed, sources, testFeeds(), time.Second, time.Minute, 2)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	round, decimals, err := feed.LatestRound("eth-usd")
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if decimals != RoundDecimals {
		t.Fatalf("decimals = %d", decimals)
	}
	want := big.NewInt(365_098_000_000)
	if round.Answer.Cmp(want) != 0 {
		t.Fatalf("answer = %s, want %s", round.Answer, want)
	}
	if round.RoundID != 1 || round.AnsweredInRound != 1 {
		t.Fatalf("round ids = %d/%d", round.RoundID, round.AnsweredInRound)
	}

	stored, err := audit.LatestRound(context.Background(), "eth-usd")
	if err != nil {
		t.Fatalf("stored round: %v", err)
	}
	if stored.Answer != want.String() {
		t.Fatalf("stored answer = %s", stored.Answer)
	}
	if len(stored.Sources) != 3 {
		t.Fatalf("stored sources = %v", stored.Sources)
	}
}

func TestTickAveragesEvenQuoteCount(t *testing.T) {
	audit := openTestAudit(t)
	feed := NewFeed()
	sources := []Source{
		manualWithRate(t, "a", "100"),
		manualWithRate(t, "b", "200"),
	}
	mgr, err := New(audit, feed, sources, testFeeds(), time.Second, time.Minute, 2)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	round, _, err := feed.LatestRound("eth-usd")
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.Answer.Cmp(big.NewInt(15_000_000_000)) != 0 {
		t.Fatalf("answer = %s", round.Answer)
	}
}

func TestTickRequiresMinimumSources(t *testing.T) {
	audit := openTestAudit(t)
	feed := NewFeed()
	sources := []Source{manualWithRate(t, "a", "3650.98")}
	mgr, err := New(audit, feed, sources, testFeeds(), time.Second, time.Minute, 2)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err == nil {
		t.Fatal("tick succeeded with a single source")
	}
	if _, _, err := feed.LatestRound("eth-usd"); err == nil {
		t.Fatal("round published despite failed aggregation")
	}
}

func TestTickSkipsExpiredQuotes(t *testing.T) {
	audit := openTestAudit(t)
	feed := NewFeed()
	fresh := manualWithRate(t, "fresh", "3650.98")
	stale := NewManualSource("stale")
	stale.Set("ETH", "USD", new(big.Rat).SetInt64(1), time.Now().Add(-time.Hour))
	mgr, err := New(audit, feed, []Source{fresh, stale}, testFeeds(), time.Second, time.Minute, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	round, _, err := feed.LatestRound("eth-usd")
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.Answer.Cmp(big.NewInt(365_098_000_000)) != 0 {
		t.Fatalf("stale quote influenced median: %s", round.Answer)
	}
}

func TestRoundIDsIncrement(t *testing.T) {
	audit := openTestAudit(t)
	feed := NewFeed()
	sources := []Source{manualWithRate(t, "a", "3650.98")}
	mgr, err := New(audit, feed, sources, testFeeds(), time.Second, time.Minute, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := mgr.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	round, _, err := feed.LatestRound("eth-usd")
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if round.RoundID != 3 {
		t.Fatalf("round id = %d", round.RoundID)
	}
}

func TestBuildSource(t *testing.T) {
	src, err := BuildSource(nil, "gecko", "coingecko", "", "", map[string]string{"ETH": "ethereum"})
	if err != nil {
		t.Fatalf("build coingecko: %v", err)
	}
	if src.Name() != "gecko" {
		t.Fatalf("name = %q", src.Name())
	}
	if _, err := BuildSource(nil, "", "unknown", "", "", nil); err == nil {
		t.Fatal("unknown type accepted")
	}
}
