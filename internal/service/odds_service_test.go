package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/store/memory"
)

type memOddsCache struct {
	mu   sync.Mutex
	odds map[string]domain.OutcomeOdds
	ts   map[string]time.Time
}

func newMemOddsCache() *memOddsCache {
	return &memOddsCache{
		odds: make(map[string]domain.OutcomeOdds),
		ts:   make(map[string]time.Time),
	}
}

func (c *memOddsCache) SetOdds(_ context.Context, matchID string, odds domain.OutcomeOdds, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.odds[matchID] = odds
	c.ts[matchID] = ts
	return nil
}

func (c *memOddsCache) GetOdds(_ context.Context, matchID string) (domain.OutcomeOdds, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	odds, ok := c.odds[matchID]
	if !ok {
		return domain.OutcomeOdds{}, time.Time{}, domain.ErrNotFound
	}
	return odds, c.ts[matchID], nil
}

func TestImpliedOdds(t *testing.T) {
	rec := domain.MarketRecord{
		Totals: domain.OutcomeTotals{100, 300, 0},
		Pool:   400,
	}
	odds := ImpliedOdds(rec)

	// 4.0x on the short side, 1.333333x on the heavy side, 0 for no stake.
	assert.Equal(t, uint64(4_000_000), odds[0])
	assert.Equal(t, uint64(1_333_333), odds[1])
	assert.Zero(t, odds[2])
}

func TestImpliedOddsEmptyMarket(t *testing.T) {
	odds := ImpliedOdds(domain.MarketRecord{})
	assert.Equal(t, domain.OutcomeOdds{}, odds)
}

func TestOddsServiceRefresh(t *testing.T) {
	store := memory.NewMarketStore()
	cache := newMemOddsCache()
	svc := NewOddsService(store, cache, nil, discardLogger())
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, domain.MarketRecord{
		MatchID: "match-1",
		Status:  domain.MarketStatusActive,
		Totals:  domain.OutcomeTotals{500, 1500, 0},
		Pool:    2000,
	}))

	odds, err := svc.Refresh(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000_000), odds[0])

	cached, _, err := cache.GetOdds(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, odds, cached)

	_, err = svc.Refresh(ctx, "no-such-match")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOddsServiceGetOddsColdCache(t *testing.T) {
	store := memory.NewMarketStore()
	cache := newMemOddsCache()
	svc := NewOddsService(store, cache, nil, discardLogger())
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, domain.MarketRecord{
		MatchID: "match-1",
		Status:  domain.MarketStatusActive,
		Totals:  domain.OutcomeTotals{0, 0, 250},
		Pool:    250,
	}))

	// Miss falls through to the store and seeds the cache.
	odds, _, err := svc.GetOdds(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OddsScale, odds[2])

	cached, _, err := cache.GetOdds(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, odds, cached)
}
