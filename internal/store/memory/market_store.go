package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

type shareKey struct {
	matchID string
	outcome domain.Outcome
	party   domain.Party
}

type claimKey struct {
	matchID string
	party   domain.Party
}

// MarketStore is the in-memory reference implementation of
// domain.MarketStore. Shares live in one flat map keyed by the
// (match, outcome, party) tuple, claim flags in another keyed by
// (match, party).
type MarketStore struct {
	mu      sync.RWMutex
	records map[string]domain.MarketRecord
	shares  map[shareKey]domain.OutcomeShare
	claims  map[claimKey]bool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates an empty market store.
func NewMarketStore() *MarketStore {
	return &MarketStore{
		records: make(map[string]domain.MarketRecord),
		shares:  make(map[shareKey]domain.OutcomeShare),
		claims:  make(map[claimKey]bool),
	}
}

// Insert adds a fresh record; ErrAlreadyExists when the key is taken.
func (s *MarketStore) Insert(_ context.Context, rec domain.MarketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.MatchID]; ok {
		return domain.ErrAlreadyExists
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.MatchID] = rec
	return nil
}

// Get returns the record; ErrNotFound when absent.
func (s *MarketStore) Get(_ context.Context, matchID string) (domain.MarketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[matchID]
	if !ok {
		return domain.MarketRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// Update overwrites record fields; ErrNotFound when absent.
func (s *MarketStore) Update(_ context.Context, rec domain.MarketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.MatchID]; !ok {
		return domain.ErrNotFound
	}
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.MatchID] = rec
	return nil
}

// ApplyBet persists the updated record and the accumulated share together.
func (s *MarketStore) ApplyBet(_ context.Context, rec domain.MarketRecord, share domain.OutcomeShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.MatchID]; !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	rec.UpdatedAt = now
	share.UpdatedAt = now
	s.records[rec.MatchID] = rec
	s.shares[shareKey{share.MatchID, share.Outcome, share.Party}] = share
	return nil
}

// Share returns the participant's cumulative stake on one outcome; 0 when
// absent.
func (s *MarketStore) Share(_ context.Context, matchID string, o domain.Outcome, p domain.Party) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shares[shareKey{matchID, o, p}].Amount, nil
}

// PartyShares returns the participant's stakes across all outcomes; zeros
// when absent.
func (s *MarketStore) PartyShares(_ context.Context, matchID string, p domain.Party) (domain.OutcomeTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var totals domain.OutcomeTotals
	for _, o := range domain.Outcomes {
		totals.Add(o, s.shares[shareKey{matchID, o, p}].Amount)
	}
	return totals, nil
}

// Claimed reports the participant's claim flag; false when absent.
func (s *MarketStore) Claimed(_ context.Context, matchID string, p domain.Party) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims[claimKey{matchID, p}], nil
}

// ApplyClaim zeroes the participant's share on the winning outcome and sets
// the claim flag together.
func (s *MarketStore) ApplyClaim(_ context.Context, matchID string, o domain.Outcome, p domain.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := shareKey{matchID, o, p}
	if share, ok := s.shares[key]; ok {
		share.Amount = 0
		share.UpdatedAt = time.Now().UTC()
		s.shares[key] = share
	}
	s.claims[claimKey{matchID, p}] = true
	return nil
}

// ListResolvedBefore returns markets resolved strictly before the cutoff,
// oldest first.
func (s *MarketStore) ListResolvedBefore(_ context.Context, before time.Time) ([]domain.MarketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []domain.MarketRecord
	for _, rec := range s.records {
		if rec.Status == domain.MarketStatusResolved && rec.ResolvedAt != nil && rec.ResolvedAt.Before(before) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ResolvedAt.Before(*records[j].ResolvedAt)
	})
	return records, nil
}

// SharesByMarket returns every share row of one market, ordered by outcome
// then party for stable output.
func (s *MarketStore) SharesByMarket(_ context.Context, matchID string) ([]domain.OutcomeShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var shares []domain.OutcomeShare
	for key, share := range s.shares {
		if key.matchID == matchID {
			shares = append(shares, share)
		}
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Outcome != shares[j].Outcome {
			return shares[i].Outcome.Index() < shares[j].Outcome.Index()
		}
		return shares[i].Party.Hex() < shares[j].Party.Hex()
	})
	return shares, nil
}

// ClaimantsByMarket returns the parties whose claim flag is set for one
// market, ordered by party.
func (s *MarketStore) ClaimantsByMarket(_ context.Context, matchID string) ([]domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var parties []domain.Party
	for key, claimed := range s.claims {
		if key.matchID == matchID && claimed {
			parties = append(parties, key.party)
		}
	}
	sort.Slice(parties, func(i, j int) bool {
		return parties[i].Hex() < parties[j].Hex()
	})
	return parties, nil
}
