package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/store/memory"
	"github.com/alanyoungcy/matchbook/internal/treasury"
)

var dave = domain.Party{0xd4}

// memStatsCache is an in-process StatsCache stand-in for tests.
type memStatsCache struct {
	mu    sync.Mutex
	stats map[string]domain.MarketStats
	sets  int
}

func newMemStatsCache() *memStatsCache {
	return &memStatsCache{stats: make(map[string]domain.MarketStats)}
}

func (c *memStatsCache) Set(_ context.Context, stats domain.MarketStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[stats.MatchID] = stats
	c.sets++
	return nil
}

func (c *memStatsCache) Get(_ context.Context, matchID string) (domain.MarketStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.stats[matchID]
	if !ok {
		return domain.MarketStats{}, errors.New("stats cache miss")
	}
	return stats, nil
}

func (c *memStatsCache) Invalidate(_ context.Context, matchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stats, matchID)
	return nil
}

func newMarketFixture(t *testing.T) (*MarketService, *treasury.Vault) {
	t.Helper()
	vault := treasury.NewVault()
	vault.Credit(alice, 1_000_000_000)
	vault.Credit(bob, 1_000_000_000)
	vault.Credit(charlie, 1_000_000_000)
	vault.Credit(dave, 1_000_000_000)
	svc := NewMarketService(memory.NewMarketStore(), vault, nil, nil, discardLogger()).
		WithAudit(memory.NewAuditStore())
	return svc, vault
}

func TestMarketAuditRowPrecedesEvent(t *testing.T) {
	audit := memory.NewAuditStore()
	bus := &publishOrderBus{audit: audit}
	vault := treasury.NewVault()
	vault.Credit(alice, 10_000)
	svc := NewMarketService(memory.NewMarketStore(), vault, nil, bus, discardLogger()).
		WithAudit(audit)

	ctx := context.Background()
	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 500)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomePlayer1)
	require.NoError(t, err)
	_, err = svc.ClaimRewards(ctx, alice, "match-1")
	require.NoError(t, err)

	// Four settlements, two channel publishes each; every publish must
	// already see the audit row of its own settlement.
	assert.Equal(t, []int{1, 1, 2, 2, 3, 3, 4, 4}, bus.atPublish)
}

func TestMarketCreate(t *testing.T) {
	svc, _ := newMarketFixture(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)
	assert.Equal(t, admin, rec.Administrator)
	assert.Equal(t, domain.MarketStatusActive, rec.Status)
	assert.Zero(t, rec.Pool)

	_, err = svc.Create(ctx, charlie, "match-1", alice, bob)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = svc.Create(ctx, admin, "match-2", domain.ZeroParty, bob)
	assert.ErrorIs(t, err, domain.ErrInvalidParty)
	_, err = svc.Create(ctx, admin, "match-2", alice, domain.ZeroParty)
	assert.ErrorIs(t, err, domain.ErrInvalidParty)
}

func TestMarketBetValidationOrder(t *testing.T) {
	svc, _ := newMarketFixture(t)
	ctx := context.Background()

	// Parameter checks come before any record lookup.
	_, err := svc.Bet(ctx, alice, "no-such-match", domain.Outcome("bogus"), 100)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = svc.Bet(ctx, alice, "no-such-match", domain.OutcomePlayer1, 0)
	assert.ErrorIs(t, err, domain.ErrZeroBet)
	_, err = svc.Bet(ctx, alice, "no-such-match", domain.OutcomePlayer1, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomeDraw)
	require.NoError(t, err)

	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 100)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestMarketBetAccumulates(t *testing.T) {
	svc, vault := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)

	_, err = svc.Bet(ctx, charlie, "match-1", domain.OutcomePlayer1, 300)
	require.NoError(t, err)
	rec, err := svc.Bet(ctx, charlie, "match-1", domain.OutcomePlayer1, 200)
	require.NoError(t, err)

	assert.Equal(t, uint64(500), rec.Totals.Get(domain.OutcomePlayer1))
	assert.Equal(t, uint64(500), rec.Pool)

	share, err := svc.Share(ctx, "match-1", domain.OutcomePlayer1, charlie)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), share)

	// A second outcome for the same party is tracked separately.
	rec, err = svc.Bet(ctx, charlie, "match-1", domain.OutcomeDraw, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), rec.Totals.Get(domain.OutcomeDraw))
	assert.Equal(t, uint64(550), rec.Pool)
	assert.Equal(t, rec.Totals.Sum(), rec.Pool)
	assert.Equal(t, uint64(1_000_000_000-550), vault.Balance(charlie))
	assert.Equal(t, uint64(550), vault.Held())
}

func TestMarketBetTransferFailure(t *testing.T) {
	vault := treasury.NewVault()
	vault.Credit(alice, 10)
	svc := NewMarketService(memory.NewMarketStore(), vault, nil, nil, discardLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)

	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 100)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	// The failed transfer left every ledger figure untouched.
	stats, err := svc.Stats(ctx, "match-1")
	require.NoError(t, err)
	assert.Zero(t, stats.Pool)
	assert.Zero(t, stats.Totals.Sum())
	share, err := svc.Share(ctx, "match-1", domain.OutcomePlayer1, alice)
	require.NoError(t, err)
	assert.Zero(t, share)
	assert.Equal(t, uint64(10), vault.Balance(alice))
}

func TestMarketSettlementWorkedExample(t *testing.T) {
	svc, vault := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)

	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 100_000_000)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, bob, "match-1", domain.OutcomePlayer2, 150_000_000)
	require.NoError(t, err)
	rec, err := svc.Bet(ctx, alice, "match-1", domain.OutcomeDraw, 50_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000_000), rec.Pool)

	rec, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomePlayer1)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, rec.Status)
	assert.Equal(t, uint64(300_000_000), rec.ResolvedPoolSnapshot)
	require.NotNil(t, rec.ResolvedAt)

	// The sole winning share takes the whole pool snapshot.
	result, err := svc.ClaimRewards(ctx, alice, "match-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000_000), result.Reward)
	assert.Equal(t, domain.ReceiptClaim, result.Receipt.Kind)
	assert.Equal(t, uint64(1_000_000_000-150_000_000+300_000_000), vault.Balance(alice))
	assert.Zero(t, vault.Held())

	// Losing stakes have nothing to claim.
	_, err = svc.ClaimRewards(ctx, bob, "match-1")
	assert.ErrorIs(t, err, domain.ErrNoShares)

	// The claim flag is permanent.
	_, err = svc.ClaimRewards(ctx, alice, "match-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestMarketProportionalClaims(t *testing.T) {
	svc, vault := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)

	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 1000)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, bob, "match-1", domain.OutcomePlayer1, 2000)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, charlie, "match-1", domain.OutcomePlayer2, 1500)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomePlayer1)
	require.NoError(t, err)

	// Pool 4500 split over a 3000 winning total: stake ratios hold exactly.
	resA, err := svc.ClaimRewards(ctx, alice, "match-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), resA.Reward)

	resB, err := svc.ClaimRewards(ctx, bob, "match-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), resB.Reward)

	assert.Zero(t, vault.Held())
}

func TestMarketClaimDustBounded(t *testing.T) {
	svc, vault := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)

	winners := []domain.Party{alice, bob, dave}
	for _, p := range winners {
		_, err = svc.Bet(ctx, p, "match-1", domain.OutcomePlayer1, 1000)
		require.NoError(t, err)
	}
	_, err = svc.Bet(ctx, charlie, "match-1", domain.OutcomePlayer2, 1000)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomePlayer1)
	require.NoError(t, err)

	// floor(1000 * 4000 / 3000) = 1333 per winner; 3999 paid of 4000.
	var paid uint64
	for _, p := range winners {
		res, err := svc.ClaimRewards(ctx, p, "match-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(1333), res.Reward)
		paid += res.Reward
	}
	assert.Equal(t, uint64(3999), paid)

	// Flooring strands less than one unit per claimant.
	dust := vault.Held()
	assert.Equal(t, uint64(1), dust)
	assert.Less(t, dust, uint64(len(winners)))
}

func TestMarketResolveGuards(t *testing.T) {
	svc, _ := newMarketFixture(t)
	ctx := context.Background()

	// The outcome check comes before the record lookup.
	_, err := svc.Resolve(ctx, admin, "no-such-match", domain.Outcome("bogus"))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = svc.Resolve(ctx, admin, "no-such-match", domain.OutcomePlayer1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, charlie, "match-1", domain.OutcomePlayer1)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	// A market with no bets still resolves; the snapshot is just zero.
	rec, err := svc.Resolve(ctx, admin, "match-1", domain.OutcomePlayer1)
	require.NoError(t, err)
	assert.Zero(t, rec.ResolvedPoolSnapshot)

	_, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomePlayer2)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	// Nobody staked, so nobody can claim against the empty pool.
	_, err = svc.ClaimRewards(ctx, alice, "match-1")
	assert.ErrorIs(t, err, domain.ErrNoShares)
}

func TestMarketClaimGuards(t *testing.T) {
	svc, _ := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.ClaimRewards(ctx, alice, "no-such-match")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 1000)
	require.NoError(t, err)

	_, err = svc.ClaimRewards(ctx, alice, "match-1")
	assert.ErrorIs(t, err, domain.ErrNotResolved)

	_, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomePlayer2)
	require.NoError(t, err)

	// Alice backed the loser and charlie never bet; both read as no shares.
	_, err = svc.ClaimRewards(ctx, alice, "match-1")
	assert.ErrorIs(t, err, domain.ErrNoShares)
	_, err = svc.ClaimRewards(ctx, charlie, "match-1")
	assert.ErrorIs(t, err, domain.ErrNoShares)
}

func TestMarketQueriesNeverFail(t *testing.T) {
	svc, _ := newMarketFixture(t)
	ctx := context.Background()

	stats, err := svc.Stats(ctx, "no-such-match")
	require.NoError(t, err)
	assert.False(t, stats.Exists)
	assert.Zero(t, stats.Pool)

	share, err := svc.Share(ctx, "no-such-match", domain.OutcomePlayer1, alice)
	require.NoError(t, err)
	assert.Zero(t, share)

	claimed, err := svc.Claimed(ctx, "no-such-match", alice)
	require.NoError(t, err)
	assert.False(t, claimed)

	potential, err := svc.PotentialReward(ctx, "no-such-match", domain.OutcomePlayer1, alice)
	require.NoError(t, err)
	assert.Zero(t, potential)

	view, err := svc.ShareView(ctx, "no-such-match", alice)
	require.NoError(t, err)
	assert.Zero(t, view.Total)
	assert.False(t, view.Claimed)
}

func TestMarketPotentialReward(t *testing.T) {
	svc, _ := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 100_000_000)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, bob, "match-1", domain.OutcomePlayer2, 150_000_000)
	require.NoError(t, err)

	// While active the projection uses the live pool.
	potential, err := svc.PotentialReward(ctx, "match-1", domain.OutcomePlayer1, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(250_000_000), potential)

	// No stake on the outcome projects zero.
	potential, err = svc.PotentialReward(ctx, "match-1", domain.OutcomeDraw, alice)
	require.NoError(t, err)
	assert.Zero(t, potential)

	_, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomePlayer1)
	require.NoError(t, err)

	// Resolved: the winning side projects against the frozen snapshot,
	// losing sides project zero.
	potential, err = svc.PotentialReward(ctx, "match-1", domain.OutcomePlayer1, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(250_000_000), potential)
	potential, err = svc.PotentialReward(ctx, "match-1", domain.OutcomePlayer2, bob)
	require.NoError(t, err)
	assert.Zero(t, potential)
}

func TestMarketShareView(t *testing.T) {
	svc, _ := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 600)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomeDraw, 400)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, bob, "match-1", domain.OutcomePlayer2, 1000)
	require.NoError(t, err)

	view, err := svc.ShareView(ctx, "match-1", alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), view.ByOutcome.Get(domain.OutcomePlayer1))
	assert.Equal(t, uint64(400), view.ByOutcome.Get(domain.OutcomeDraw))
	assert.Equal(t, uint64(1000), view.Total)
	assert.False(t, view.Claimed)
	// Projections per outcome: floor(600*2000/600) and floor(400*2000/400).
	assert.Equal(t, uint64(2000), view.Potential.Get(domain.OutcomePlayer1))
	assert.Equal(t, uint64(2000), view.Potential.Get(domain.OutcomeDraw))
	assert.Zero(t, view.Potential.Get(domain.OutcomePlayer2))
}

func TestMarketStatsCache(t *testing.T) {
	vault := treasury.NewVault()
	vault.Credit(alice, 10_000)
	cache := newMemStatsCache()
	svc := NewMarketService(memory.NewMarketStore(), vault, cache, nil, discardLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)
	_, err = svc.Bet(ctx, alice, "match-1", domain.OutcomePlayer1, 500)
	require.NoError(t, err)

	// Mutations refresh the cache, so the query is served from it.
	stats, err := svc.Stats(ctx, "match-1")
	require.NoError(t, err)
	assert.True(t, stats.Exists)
	assert.Equal(t, uint64(500), stats.Pool)

	cached, err := cache.Get(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, stats, cached)

	// A cold cache falls through to the store and is repopulated.
	require.NoError(t, cache.Invalidate(ctx, "match-1"))
	stats, err = svc.Stats(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), stats.Pool)
	_, err = cache.Get(ctx, "match-1")
	assert.NoError(t, err)
}

func TestMarketConcurrentBets(t *testing.T) {
	svc, vault := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)

	const workers = 16
	const betsPerWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < betsPerWorker; j++ {
				if _, err := svc.Bet(ctx, charlie, "match-1", domain.OutcomePlayer1, 1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	const want = workers * betsPerWorker
	stats, err := svc.Stats(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(want), stats.Pool)
	assert.Equal(t, uint64(want), stats.Totals.Get(domain.OutcomePlayer1))

	share, err := svc.Share(ctx, "match-1", domain.OutcomePlayer1, charlie)
	require.NoError(t, err)
	assert.Equal(t, uint64(want), share)
	assert.Equal(t, uint64(want), vault.Held())
}

func TestMarketKeyIsPermanent(t *testing.T) {
	svc, _ := newMarketFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, "match-1", alice, bob)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, admin, "match-1", domain.OutcomeDraw)
	require.NoError(t, err)

	// Resolution keeps the record around, so the key stays taken.
	_, err = svc.Create(ctx, admin, "match-1", alice, bob)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	stats, err := svc.Stats(ctx, "match-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, stats.Status)
	assert.Equal(t, domain.OutcomeDraw, stats.WinningOutcome)
}
