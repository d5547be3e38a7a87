package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// OddsService derives implied payout multipliers from market totals and
// keeps them warm in the odds cache. It follows the settlement event
// channel: every bet and resolution triggers a recompute for that match.
type OddsService struct {
	markets domain.MarketStore
	odds    domain.OddsCache
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewOddsService creates an OddsService.
func NewOddsService(
	markets domain.MarketStore,
	odds domain.OddsCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *OddsService {
	return &OddsService{
		markets: markets,
		odds:    odds,
		bus:     bus,
		logger:  logger,
	}
}

// ImpliedOdds computes the multiplier each outcome would pay per staked
// unit, in OddsScale fixed point: pool / outcomeTotal. Outcomes with no
// stake get multiplier 0.
func ImpliedOdds(rec domain.MarketRecord) domain.OutcomeOdds {
	var odds domain.OutcomeOdds
	for i, o := range domain.Outcomes {
		total := rec.Totals.Get(o)
		if total == 0 {
			continue
		}
		odds[i] = domain.MulDiv(rec.Pool, domain.OddsScale, total)
	}
	return odds
}

// Refresh recomputes the odds for one match from the store and writes them
// to the cache.
func (s *OddsService) Refresh(ctx context.Context, matchID string) (domain.OutcomeOdds, error) {
	rec, err := s.markets.Get(ctx, matchID)
	if err != nil {
		return domain.OutcomeOdds{}, fmt.Errorf("odds_service: refresh %q: %w", matchID, err)
	}

	odds := ImpliedOdds(rec)
	now := time.Now().UTC()
	if err := s.odds.SetOdds(ctx, matchID, odds, now); err != nil {
		return domain.OutcomeOdds{}, fmt.Errorf("odds_service: refresh %q: %w", matchID, err)
	}

	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":     "odds_update",
			"match_id":  matchID,
			"player1":   odds[0],
			"player2":   odds[1],
			"draw":      odds[2],
			"timestamp": now.Format(time.RFC3339Nano),
		})
		if pubErr := s.bus.Publish(ctx, "odds", payload); pubErr != nil {
			s.logger.WarnContext(ctx, "odds_service: publish odds update failed",
				slog.String("match_id", matchID),
				slog.String("error", pubErr.Error()),
			)
		}
	}
	return odds, nil
}

// GetOdds returns the cached multipliers for a match, recomputing from the
// store on a cache miss.
func (s *OddsService) GetOdds(ctx context.Context, matchID string) (domain.OutcomeOdds, time.Time, error) {
	odds, ts, err := s.odds.GetOdds(ctx, matchID)
	if err == nil {
		return odds, ts, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.OutcomeOdds{}, time.Time{}, fmt.Errorf("odds_service: get %q: %w", matchID, err)
	}

	odds, err = s.Refresh(ctx, matchID)
	if err != nil {
		return domain.OutcomeOdds{}, time.Time{}, err
	}
	return odds, time.Now().UTC(), nil
}

// Run follows the settlement event channel until ctx is cancelled,
// refreshing odds for every market bet and resolution it sees. Malformed
// payloads are skipped with a warning.
func (s *OddsService) Run(ctx context.Context) error {
	events, err := s.bus.Subscribe(ctx, domain.ChannelSettlements)
	if err != nil {
		return fmt.Errorf("odds_service: subscribe: %w", err)
	}

	s.logger.InfoContext(ctx, "odds service following settlement events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			var ev domain.SettlementEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				s.logger.WarnContext(ctx, "odds_service: bad event payload",
					slog.String("error", err.Error()),
				)
				continue
			}
			if ev.Kind != domain.EventMarketBet && ev.Kind != domain.EventMarketResolved {
				continue
			}
			if _, err := s.Refresh(ctx, ev.MatchID); err != nil {
				s.logger.WarnContext(ctx, "odds_service: refresh failed",
					slog.String("match_id", ev.MatchID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
