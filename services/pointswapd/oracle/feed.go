package oracle

import (
	"fmt"
	"strings"
	"sync"

	"pointswap/native/exchange"
)

// RoundDecimals is the fixed-point precision of every published round answer.
const RoundDecimals uint8 = 8

// Feed holds the latest published round per feed reference and serves them to
// the exchange price resolver.
type Feed struct {
	mu     sync.RWMutex
	rounds map[string]exchange.PriceRoundData
}

// NewFeed constructs an empty feed.
func NewFeed() *Feed {
	return &Feed{rounds: make(map[string]exchange.PriceRoundData)}
}

// Publish replaces the stored round for the feed reference.
func (f *Feed) Publish(ref string, round exchange.PriceRoundData) {
	if f == nil {
		return
	}
	key := strings.TrimSpace(ref)
	if key == "" {
		return
	}
	f.mu.Lock()
	f.rounds[key] = round.Copy()
	f.mu.Unlock()
}

// LatestRound implements exchange.OracleReader.
func (f *Feed) LatestRound(ref string) (exchange.PriceRoundData, uint8, error) {
	if f == nil {
		return exchange.PriceRoundData{}, 0, fmt.Errorf("oracle feed not configured")
	}
	key := strings.TrimSpace(ref)
	f.mu.RLock()
	round, ok := f.rounds[key]
	f.mu.RUnlock()
	if !ok {
		return exchange.PriceRoundData{}, 0, fmt.Errorf("oracle feed: no round for %q", ref)
	}
	return round.Copy(), RoundDecimals, nil
}
