package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/intentmesh-hq/auctioneer/pkg/circuitbreaker"
	"github.com/intentmesh-hq/auctioneer/pkg/logger"
	"github.com/intentmesh-hq/auctioneer/pkg/metrics"
)

var (
	// ErrStalePrice means the reading is older than the asset's staleness threshold
	ErrStalePrice = errors.New("price reading is stale")
	// ErrUnknownAsset means no feed is configured for the asset
	ErrUnknownAsset = errors.New("no feed configured for asset")
	// ErrFeedUnavailable means the circuit breaker is open for the feed
	ErrFeedUnavailable = errors.New("price feed circuit breaker open")
)

// Price is a validated fixed-point price reading with 8 decimals.
type Price struct {
	Value     *big.Int
	Timestamp time.Time
}

// Feed fetches raw (price, timestamp) readings for an asset.
type Feed interface {
	Latest(ctx context.Context, asset string) (price *big.Int, timestamp time.Time, err error)
}

// Oracle wraps a price feed with the staleness contract: a reading older than
// the asset's threshold is rejected as StalePrice, never silently substituted.
type Oracle struct {
	feed             feedWithCache
	defaultThreshold time.Duration
	thresholds       map[string]time.Duration
	breaker          *circuitbreaker.CircuitBreaker
	logger           logger.Logger
	now              func() time.Time
}

// feedWithCache memoizes readings briefly to avoid duplicate feed calls.
// Entries expire by fetch time, not by the reading's own timestamp: a feed
// that updates slowly still serves fresh-enough readings from cache.
type feedWithCache struct {
	feed     Feed
	mu       sync.RWMutex
	cache    map[string]cachedPrice
	cacheTTL time.Duration
}

type cachedPrice struct {
	price     Price
	fetchedAt time.Time
}

// NewOracle creates an oracle over the given feed. thresholds overrides the
// default staleness threshold per asset; cacheTTL of zero disables caching.
func NewOracle(feed Feed, defaultThreshold time.Duration, thresholds map[string]time.Duration, cacheTTL time.Duration, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) *Oracle {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(false, 0, 0, 0)
	}
	if thresholds == nil {
		thresholds = make(map[string]time.Duration)
	}
	return &Oracle{
		feed: feedWithCache{
			feed:     feed,
			cache:    make(map[string]cachedPrice),
			cacheTTL: cacheTTL,
		},
		defaultThreshold: defaultThreshold,
		thresholds:       thresholds,
		breaker:          breaker,
		logger:           log,
		now:              time.Now,
	}
}

// SetClock overrides the oracle clock, used by tests to move time.
func (o *Oracle) SetClock(now func() time.Time) {
	o.now = now
}

// StaleThreshold returns the maximum age of a reading still considered valid
// for the asset.
func (o *Oracle) StaleThreshold(asset string) time.Duration {
	if t, ok := o.thresholds[asset]; ok {
		return t
	}
	return o.defaultThreshold
}

// GetValidatedPrice returns the latest reading for the asset, failing with
// StalePrice when the reading's age exceeds the threshold.
func (o *Oracle) GetValidatedPrice(ctx context.Context, asset string) (Price, error) {
	if o.breaker.IsOpen() {
		return Price{}, fmt.Errorf("price for %s: %w", asset, ErrFeedUnavailable)
	}

	price, cached := o.feed.get(asset)
	if !cached {
		value, timestamp, err := o.feed.feed.Latest(ctx, asset)
		if err != nil {
			o.breaker.RecordFailure()
			return Price{}, fmt.Errorf("price for %s: %v", asset, err)
		}
		price = Price{Value: value, Timestamp: timestamp}
		o.feed.set(asset, price)
	}

	age := o.now().Sub(price.Timestamp)
	if age > o.StaleThreshold(asset) {
		metrics.StalePriceRejections.WithLabelValues(asset).Inc()
		o.logger.Error(logger.Oracle, "Rejected %s reading aged %s (threshold %s)", asset, age, o.StaleThreshold(asset))
		return Price{}, fmt.Errorf("price for %s aged %s: %w", asset, age, ErrStalePrice)
	}

	o.logger.Debug(logger.Oracle, "Validated %s price %s (age %s)", asset, price.Value.String(), age)
	return price, nil
}

func (f *feedWithCache) get(asset string) (Price, bool) {
	if f.cacheTTL <= 0 {
		return Price{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	entry, ok := f.cache[asset]
	if !ok {
		return Price{}, false
	}
	if time.Since(entry.fetchedAt) > f.cacheTTL {
		return Price{}, false
	}
	return entry.price, true
}

func (f *feedWithCache) set(asset string, price Price) {
	if f.cacheTTL <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[asset] = cachedPrice{price: price, fetchedAt: time.Now()}
}
