package oracle

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentmesh-hq/auctioneer/pkg/circuitbreaker"
)

// fakeFeed serves canned readings and counts calls
type fakeFeed struct {
	prices map[string]Price
	calls  int
}

func (f *fakeFeed) Latest(_ context.Context, asset string) (*big.Int, time.Time, error) {
	f.calls++
	price, ok := f.prices[asset]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("latest %s: %w", asset, ErrUnknownAsset)
	}
	return price.Value, price.Timestamp, nil
}

func TestGetValidatedPrice(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feed := &fakeFeed{prices: map[string]Price{
		"ETH": {Value: big.NewInt(250000000000), Timestamp: now.Add(-10 * time.Minute)},
		"BTC": {Value: big.NewInt(9000000000000), Timestamp: now.Add(-2 * time.Hour)},
	}}

	o := NewOracle(feed, time.Hour, nil, 0, nil, nil)
	o.SetClock(func() time.Time { return now })

	t.Run("fresh reading passes", func(t *testing.T) {
		price, err := o.GetValidatedPrice(context.Background(), "ETH")
		require.NoError(t, err)
		assert.Equal(t, int64(250000000000), price.Value.Int64())
	})

	t.Run("stale reading rejected", func(t *testing.T) {
		_, err := o.GetValidatedPrice(context.Background(), "BTC")
		assert.ErrorIs(t, err, ErrStalePrice)
	})

	t.Run("unknown asset surfaces feed error", func(t *testing.T) {
		_, err := o.GetValidatedPrice(context.Background(), "DOGE")
		assert.Error(t, err)
	})
}

func TestPerAssetThresholdOverridesDefault(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feed := &fakeFeed{prices: map[string]Price{
		"ETH": {Value: big.NewInt(250000000000), Timestamp: now.Add(-10 * time.Minute)},
	}}

	o := NewOracle(feed, time.Hour, map[string]time.Duration{"ETH": 5 * time.Minute}, 0, nil, nil)
	o.SetClock(func() time.Time { return now })

	assert.Equal(t, 5*time.Minute, o.StaleThreshold("ETH"))
	assert.Equal(t, time.Hour, o.StaleThreshold("BTC"))

	// A reading fine under the default fails the tighter override.
	_, err := o.GetValidatedPrice(context.Background(), "ETH")
	assert.ErrorIs(t, err, ErrStalePrice)
}

func TestCacheAvoidsDuplicateFeedCalls(t *testing.T) {
	now := time.Now()
	feed := &fakeFeed{prices: map[string]Price{
		"ETH": {Value: big.NewInt(250000000000), Timestamp: now},
	}}

	o := NewOracle(feed, time.Hour, nil, time.Minute, nil, nil)

	_, err := o.GetValidatedPrice(context.Background(), "ETH")
	require.NoError(t, err)
	_, err = o.GetValidatedPrice(context.Background(), "ETH")
	require.NoError(t, err)

	assert.Equal(t, 1, feed.calls)
}

func TestCacheHoldsSlowUpdatingReading(t *testing.T) {
	// The feed's last update predates the cache TTL but is well within
	// the staleness threshold. The cache expires by fetch time, so the
	// second call must not re-hit the feed.
	now := time.Now()
	feed := &fakeFeed{prices: map[string]Price{
		"ETH": {Value: big.NewInt(250000000000), Timestamp: now.Add(-10 * time.Minute)},
	}}

	o := NewOracle(feed, time.Hour, nil, time.Minute, nil, nil)

	_, err := o.GetValidatedPrice(context.Background(), "ETH")
	require.NoError(t, err)
	price, err := o.GetValidatedPrice(context.Background(), "ETH")
	require.NoError(t, err)

	assert.Equal(t, 1, feed.calls)
	assert.Equal(t, int64(250000000000), price.Value.Int64())
}

func TestBreakerShortCircuitsFeed(t *testing.T) {
	now := time.Now()
	feed := &fakeFeed{prices: map[string]Price{
		"ETH": {Value: big.NewInt(250000000000), Timestamp: now},
	}}

	breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Minute)
	o := NewOracle(feed, time.Hour, nil, 0, breaker, nil)

	// Trip the breaker with an unknown asset failure.
	_, err := o.GetValidatedPrice(context.Background(), "DOGE")
	require.Error(t, err)

	_, err = o.GetValidatedPrice(context.Background(), "ETH")
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.Equal(t, 1, feed.calls)
}
