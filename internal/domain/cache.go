package domain

import (
	"context"
	"time"
)

// StatsCache caches the market stats tuple for cheap read-only queries.
type StatsCache interface {
	Set(ctx context.Context, stats MarketStats) error
	Get(ctx context.Context, matchID string) (MarketStats, error)
	Invalidate(ctx context.Context, matchID string) error
}

// OddsCache stores implied payout multipliers per outcome.
type OddsCache interface {
	SetOdds(ctx context.Context, matchID string, odds OutcomeOdds, ts time.Time) error
	GetOdds(ctx context.Context, matchID string) (OutcomeOdds, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for settlement events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
