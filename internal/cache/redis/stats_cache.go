package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

const statsTTL = 5 * time.Minute

// StatsCache implements domain.StatsCache using Redis hashes with the
// JSON-serialized stats tuple.
//
// Key schema:
//
//	stats:{matchID} - hash with field "data" containing JSON
type StatsCache struct {
	rdb *redis.Client
}

var _ domain.StatsCache = (*StatsCache)(nil)

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{rdb: c.Underlying()}
}

func statsKey(matchID string) string { return "stats:" + matchID }

// Set stores the stats tuple with a 5-minute TTL.
func (sc *StatsCache) Set(ctx context.Context, stats domain.MarketStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("redis: marshal stats %s: %w", stats.MatchID, err)
	}

	key := statsKey(stats.MatchID)
	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, statsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set stats %s: %w", stats.MatchID, err)
	}
	return nil
}

// Get retrieves the stats tuple for a match id; domain.ErrNotFound when the
// key is absent or expired.
func (sc *StatsCache) Get(ctx context.Context, matchID string) (domain.MarketStats, error) {
	data, err := sc.rdb.HGet(ctx, statsKey(matchID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketStats{}, domain.ErrNotFound
		}
		return domain.MarketStats{}, fmt.Errorf("redis: get stats %s: %w", matchID, err)
	}

	var stats domain.MarketStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.MarketStats{}, fmt.Errorf("redis: unmarshal stats %s: %w", matchID, err)
	}
	return stats, nil
}

// Invalidate removes the cached stats tuple.
func (sc *StatsCache) Invalidate(ctx context.Context, matchID string) error {
	if err := sc.rdb.Del(ctx, statsKey(matchID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stats %s: %w", matchID, err)
	}
	return nil
}
