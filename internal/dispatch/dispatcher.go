// Package dispatch consumes settlement events from the signal bus and fans
// them out to operator notification channels.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// EventNotifier is the interface through which the dispatcher delivers
// formatted alerts. It is typically implemented by notify.Notifier.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Dispatcher reads settlement events from a bus subscription, applies
// deduplication and staleness checks, then forwards a human-readable alert
// for each event to the configured notifier.
type Dispatcher struct {
	events   <-chan []byte
	notifier EventNotifier
	dedup    *Dedup
	logger   *slog.Logger

	maxEventAge   time.Duration
	minAmount     uint64
	sweepInterval time.Duration
}

// NewDispatcher creates a Dispatcher that reads raw event payloads from
// events and delivers alerts through notifier.
func NewDispatcher(events <-chan []byte, notifier EventNotifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		events:        events,
		notifier:      notifier,
		dedup:         NewDedup(2 * time.Minute),
		logger:        logger.With(slog.String("component", "dispatcher")),
		maxEventAge:   5 * time.Minute,
		sweepInterval: 30 * time.Second,
	}
}

// SetDedupTTL replaces the dedup instance with a new one using the given TTL.
// Must be called before Run.
func (d *Dispatcher) SetDedupTTL(ttl time.Duration) {
	d.dedup = NewDedup(ttl)
}

// SetMaxEventAge changes the staleness cutoff. Events older than the cutoff
// are dropped instead of delivered; zero disables the check.
func (d *Dispatcher) SetMaxEventAge(age time.Duration) {
	d.maxEventAge = age
}

// SetMinAmount suppresses alerts for events moving less than min units, so
// operators only hear about large settlements. Zero delivers everything.
func (d *Dispatcher) SetMinAmount(min uint64) {
	d.minAmount = min
}

// Run starts the dispatch loop. It processes events until the context is
// cancelled, at which point it drains any events already buffered in the
// channel and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	defer d.logger.Info("dispatcher stopped")

	sweepTicker := time.NewTicker(d.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()

		case payload, ok := <-d.events:
			if !ok {
				// Channel closed; shut down.
				return nil
			}
			d.process(ctx, payload)

		case <-sweepTicker.C:
			d.dedup.Sweep()
		}
	}
}

// process handles a single raw payload through decode, dedup, staleness, and
// delivery.
func (d *Dispatcher) process(ctx context.Context, payload []byte) {
	var ev domain.SettlementEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.logger.WarnContext(ctx, "malformed event payload, skipping",
			slog.String("error", err.Error()),
		)
		return
	}

	log := d.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("match_id", ev.MatchID),
	)

	if d.dedup.Seen(ev.ID) {
		log.Debug("event already dispatched, skipping")
		return
	}

	if d.maxEventAge > 0 && !ev.At.IsZero() && time.Since(ev.At) > d.maxEventAge {
		log.Warn("event stale, skipping",
			slog.Time("at", ev.At),
		)
		return
	}

	if d.minAmount > 0 && ev.Amount < d.minAmount {
		log.Debug("event below alert threshold, skipping",
			slog.Uint64("amount", ev.Amount),
		)
		return
	}

	title, message := FormatEvent(ev)
	if err := d.notifier.Notify(ctx, string(ev.Kind), title, message); err != nil {
		log.Error("alert delivery failed",
			slog.String("error", err.Error()),
		)
		d.retry(ctx, ev, title, message, log)
		return
	}

	log.Debug("alert dispatched")
}

// retry makes a single redelivery attempt after a short pause. Failures past
// this point are logged and dropped; the durable stream still holds the event.
func (d *Dispatcher) retry(ctx context.Context, ev domain.SettlementEvent, title, message string, log *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(500 * time.Millisecond):
	}

	if err := d.notifier.Notify(ctx, string(ev.Kind), title, message); err != nil {
		log.Error("alert redelivery failed",
			slog.String("error", err.Error()),
		)
		return
	}
	log.Debug("alert dispatched on retry")
}

// drain processes any events already buffered in the channel after context
// cancellation so alerts for committed settlements are not silently dropped.
func (d *Dispatcher) drain() {
	for {
		select {
		case payload, ok := <-d.events:
			if !ok {
				return
			}
			// Short-lived context so draining cannot hang shutdown on a
			// slow sender.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			d.process(drainCtx, payload)
			cancel()
		default:
			return
		}
	}
}

// FormatEvent renders a settlement event as an alert title and body.
func FormatEvent(ev domain.SettlementEvent) (title, message string) {
	switch ev.Kind {
	case domain.EventEscrowCreated:
		return "Escrow opened",
			fmt.Sprintf("Match %s: stake %d per player, created by %s", ev.MatchID, ev.Amount, ev.Actor.Hex())

	case domain.EventEscrowDeposited:
		return "Escrow deposit",
			fmt.Sprintf("Match %s: %s deposited %d (escrow holds %d)", ev.MatchID, ev.Actor.Hex(), ev.Amount, ev.Pool)

	case domain.EventEscrowResolved:
		if ev.Result == domain.EscrowResultDraw {
			return "Escrow resolved: draw",
				fmt.Sprintf("Match %s: pot %d, fee %d, each player refunded %d", ev.MatchID, ev.Pool, ev.Fee, ev.Amount)
		}
		return "Escrow resolved: win",
			fmt.Sprintf("Match %s: pot %d, fee %d, payout %d to %s", ev.MatchID, ev.Pool, ev.Fee, ev.Amount, ev.Recipient.Hex())

	case domain.EventMarketCreated:
		return "Market opened",
			fmt.Sprintf("Match %s: betting open, created by %s", ev.MatchID, ev.Actor.Hex())

	case domain.EventMarketBet:
		return "Bet placed",
			fmt.Sprintf("Match %s: %s bet %d on %s (pool %d)", ev.MatchID, ev.Actor.Hex(), ev.Amount, ev.Outcome, ev.Pool)

	case domain.EventMarketResolved:
		return "Market resolved",
			fmt.Sprintf("Match %s: winning outcome %s, pool locked at %d", ev.MatchID, ev.Outcome, ev.Pool)

	case domain.EventMarketClaimed:
		return "Reward claimed",
			fmt.Sprintf("Match %s: %s claimed %d on %s", ev.MatchID, ev.Recipient.Hex(), ev.Amount, ev.Outcome)

	default:
		return string(ev.Kind),
			fmt.Sprintf("Match %s: %s by %s", ev.MatchID, ev.Kind, ev.Actor.Hex())
	}
}
