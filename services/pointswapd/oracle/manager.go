package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"pointswap/native/exchange"
	"pointswap/observability"
	"pointswap/services/pointswapd/storage"
)

// FeedSpec identifies a base/quote pair and the reference settlement assets
// use to point at it.
type FeedSpec struct {
	Ref   string
	Base  string
	Quote string
}

// Manager orchestrates periodic aggregation across configured sources and
// publishes median rounds to the feed consumed by the price resolver.
type Manager struct {
	logger   *slog.Logger
	audit    *storage.Audit
	feed     *Feed
	sources  []Source
	feeds    []FeedSpec
	minFeeds int
	maxAge   time.Duration
	interval time.Duration
	metrics  *observability.OracleMetrics

	mu      sync.Mutex
	roundID map[string]uint64
	once    sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New constructs a manager instance.
func New(audit *storage.Audit, feed *Feed, sources []Source, feeds []FeedSpec, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Manager, error) {
	if audit == nil {
		return nil, fmt.Errorf("audit storage required")
	}
	if feed == nil {
		return nil, fmt.Errorf("feed required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("at least one feed required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	mgr := &Manager{
		logger:   slog.Default(),
		audit:    audit,
		feed:     feed,
		sources:  append([]Source{}, sources...),
		feeds:    append([]FeedSpec{}, feeds...),
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
		metrics:  observability.Oracle(),
		roundID:  make(map[string]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, periodically polling upstream sources until the context is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("oracle manager started", "sources", len(m.sources), "feeds", len(m.feeds))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("oracle tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single aggregation cycle across all configured feeds.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	for _, spec := range m.feeds {
		if err := m.processFeed(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) processFeed(ctx context.Context, spec FeedSpec) error {
	ref := strings.TrimSpace(spec.Ref)
	base := strings.TrimSpace(spec.Base)
	quote := strings.TrimSpace(spec.Quote)
	if ref == "" || base == "" || quote == "" {
		return fmt.Errorf("invalid feed configuration")
	}
	now := time.Now()
	quotes := make([]Quote, 0, len(m.sources))
	sourceNames := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		observed, err := src.Fetch(ctx, base, quote)
		m.metrics.RecordFetch(src.Name(), err)
		if err != nil {
			m.logger.Warn("source fetch failed", "source", src.Name(), "symbol", base, "error", err)
			continue
		}
		if observed.Rate == nil || observed.Rate.Sign() <= 0 {
			m.logger.Warn("source returned invalid rate", "source", src.Name(), "symbol", base)
			continue
		}
		if observed.Timestamp.After(now.Add(5 * time.Second)) {
			m.logger.Warn("source produced future timestamp", "source", src.Name(), "symbol", base)
			continue
		}
		if m.maxAge > 0 && observed.Timestamp.Before(now.Add(-m.maxAge)) {
			m.logger.Warn("source quote expired", "source", src.Name(), "symbol", base)
			continue
		}
		sourceNames = append(sourceNames, src.Name())
		quotes = append(quotes, observed.Clone())
		if err := m.audit.RecordSample(ctx, ref, src.Name(), observed.Rate, observed.Timestamp); err != nil {
			m.logger.Warn("record sample failed", "error", err)
		}
	}
	if len(quotes) < m.minFeeds {
		return fmt.Errorf("insufficient oracle sources for %s (%d/%d)", ref, len(quotes), m.minFeeds)
	}
	median := computeMedian(quotes)
	if median == nil || median.Sign() <= 0 {
		return fmt.Errorf("median computation failed for %s", ref)
	}
	round := exchange.PriceRoundData{
		RoundID:   m.nextRoundID(ref),
		Answer:    ratToAnswer(median, RoundDecimals),
		StartedAt: uint64(now.Unix()),
		UpdatedAt: uint64(now.Unix()),
	}
	round.AnsweredInRound = round.RoundID
	m.feed.Publish(ref, round)
	if err := m.audit.RecordRound(ctx, ref, round, sourceNames); err != nil {
		return fmt.Errorf("record round: %w", err)
	}
	m.metrics.RecordRound(base, 0)
	m.logger.Info("published round", "symbol", base, "round", round.RoundID, "rate", formatRate(median), "sources", len(sourceNames))
	return nil
}

func (m *Manager) nextRoundID(ref string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roundID[ref]++
	return m.roundID[ref]
}

func computeMedian(quotes []Quote) *big.Rat {
	sorted := make([]*big.Rat, 0, len(quotes))
	for _, q := range quotes {
		if q.Rate == nil {
			continue
		}
		sorted = append(sorted, new(big.Rat).Set(q.Rate))
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

// ratToAnswer converts a rational rate into a fixed-point integer answer with
// the supplied decimal count, truncating toward zero.
func ratToAnswer(rate *big.Rat, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rate, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}
