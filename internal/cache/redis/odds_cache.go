package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// OddsCache implements domain.OddsCache using Redis hashes. Each match's
// implied multipliers are stored at key "odds:{matchID}" with one field per
// outcome plus "ts" (Unix nanosecond timestamp).
type OddsCache struct {
	rdb *redis.Client
}

var _ domain.OddsCache = (*OddsCache)(nil)

// NewOddsCache creates an OddsCache backed by the given Client.
func NewOddsCache(c *Client) *OddsCache {
	return &OddsCache{rdb: c.Underlying()}
}

func oddsKey(matchID string) string {
	return "odds:" + matchID
}

// SetOdds stores the implied multipliers and their computation timestamp.
func (oc *OddsCache) SetOdds(ctx context.Context, matchID string, odds domain.OutcomeOdds, ts time.Time) error {
	fields := map[string]interface{}{
		"player1": strconv.FormatUint(odds[0], 10),
		"player2": strconv.FormatUint(odds[1], 10),
		"draw":    strconv.FormatUint(odds[2], 10),
		"ts":      strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := oc.rdb.HSet(ctx, oddsKey(matchID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set odds %s: %w", matchID, err)
	}
	return nil
}

// GetOdds retrieves the implied multipliers for a match id. It returns
// domain.ErrNotFound when the key does not exist.
func (oc *OddsCache) GetOdds(ctx context.Context, matchID string) (domain.OutcomeOdds, time.Time, error) {
	vals, err := oc.rdb.HGetAll(ctx, oddsKey(matchID)).Result()
	if err != nil {
		return domain.OutcomeOdds{}, time.Time{}, fmt.Errorf("redis: get odds %s: %w", matchID, err)
	}
	if len(vals) == 0 {
		return domain.OutcomeOdds{}, time.Time{}, domain.ErrNotFound
	}

	var odds domain.OutcomeOdds
	for i, field := range []string{"player1", "player2", "draw"} {
		raw, ok := vals[field]
		if !ok {
			return domain.OutcomeOdds{}, time.Time{}, domain.ErrNotFound
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return domain.OutcomeOdds{}, time.Time{}, fmt.Errorf("redis: parse odds %s field %s: %w", matchID, field, err)
		}
		odds[i] = v
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.OutcomeOdds{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.OutcomeOdds{}, time.Time{}, fmt.Errorf("redis: parse odds ts %s: %w", matchID, err)
	}

	return odds, time.Unix(0, tsNano), nil
}
