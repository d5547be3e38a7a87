package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// ReceiptSigner signs settlement receipts so downstream systems can verify
// payout instructions. A nil signer leaves receipts unsigned.
type ReceiptSigner interface {
	SignReceipt(r domain.SettlementReceipt) (domain.SettlementReceipt, error)
}

// newEvent builds a settlement event carrying a fresh UUID and timestamp.
func newEvent(kind domain.EventKind, matchID string, actor domain.Party) domain.SettlementEvent {
	return domain.SettlementEvent{
		ID:      uuid.NewString(),
		Kind:    kind,
		MatchID: matchID,
		Actor:   actor,
		At:      time.Now().UTC(),
	}
}

// publishEvent broadcasts ev on the settlement channel, the per-match
// channel, and the durable stream. Publish failures are logged, never
// propagated: the settlement has already committed.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, ev domain.SettlementEvent) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.WarnContext(ctx, "settlement event marshal failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("match_id", ev.MatchID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := bus.Publish(ctx, domain.ChannelSettlements, payload); err != nil {
		logger.WarnContext(ctx, "settlement event publish failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("match_id", ev.MatchID),
			slog.String("error", err.Error()),
		)
	}
	if err := bus.Publish(ctx, domain.MatchChannel(ev.MatchID), payload); err != nil {
		logger.WarnContext(ctx, "match channel publish failed",
			slog.String("match_id", ev.MatchID),
			slog.String("error", err.Error()),
		)
	}
	if err := bus.StreamAppend(ctx, domain.StreamSettlements, payload); err != nil {
		logger.WarnContext(ctx, "settlement stream append failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("match_id", ev.MatchID),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog writes an audit row, logging instead of failing when the audit
// store is unavailable. Call sites write the row before publishing the
// matching event: a bus subscriber must never observe a settlement whose
// audit row is not in yet.
func auditLog(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// signReceipt signs r when a signer is configured; on signer failure the
// receipt is returned unsigned and the failure logged. Funds have already
// moved by the time receipts are issued.
func signReceipt(ctx context.Context, signer ReceiptSigner, logger *slog.Logger, r domain.SettlementReceipt) domain.SettlementReceipt {
	if signer == nil {
		return r
	}
	signed, err := signer.SignReceipt(r)
	if err != nil {
		logger.WarnContext(ctx, "receipt signing failed",
			slog.String("match_id", r.MatchID),
			slog.String("kind", string(r.Kind)),
			slog.String("error", err.Error()),
		)
		return r
	}
	return signed
}

// newReceipt builds an unsigned receipt for one payout leg.
func newReceipt(matchID string, kind domain.ReceiptKind, to domain.Party, amount uint64) domain.SettlementReceipt {
	return domain.SettlementReceipt{
		Nonce:     uuid.NewString(),
		MatchID:   matchID,
		Kind:      kind,
		Recipient: to,
		Amount:    amount,
		IssuedAt:  time.Now().UTC(),
	}
}
