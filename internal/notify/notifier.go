// Package notify delivers settlement alerts to operator channels. Alerts fan
// out to every registered sender (Telegram, Discord, etc.) and can be
// filtered by event kind so operators only hear about the settlements they
// care about.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers one alert with the given title and body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier fans alerts out to one or more Senders. An optional event filter
// restricts Notify to an allow-listed set of event kinds; NotifyAll always
// bypasses the filter.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. With no
// filter configured, every event kind passes.
func NewNotifier(logger *slog.Logger, senders ...Sender) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithEventFilter restricts Notify to the listed event kinds. An empty list
// clears the filter. Returns the notifier for chaining.
func (n *Notifier) WithEventFilter(events []string) *Notifier {
	if len(events) == 0 {
		n.allowed = nil
		return n
	}
	n.allowed = make(map[string]struct{}, len(events))
	for _, e := range events {
		n.allowed[strings.TrimSpace(e)] = struct{}{}
	}
	return n
}

// Notify delivers an alert to all senders if the event kind passes the
// configured filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n.allowed != nil {
		if _, ok := n.allowed[event]; !ok {
			n.logger.DebugContext(ctx, "event filtered out",
				slog.String("event", event),
			)
			return nil
		}
	}
	return n.deliver(ctx, title, message)
}

// NotifyAll delivers an alert to all senders regardless of event kind.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.deliver(ctx, title, message)
}

// deliver sends the alert through every sender. One sender failing never
// blocks the rest; failures are aggregated into the returned error.
func (n *Notifier) deliver(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("notify: %d of %d senders failed: %s", len(failed), len(n.senders), strings.Join(failed, "; "))
	}
	return nil
}

// postJSON marshals payload, POSTs it to url, and enforces a 2xx response.
// The label prefixes every error for sender attribution.
func postJSON(ctx context.Context, client *http.Client, url, label string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", label, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", label, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", label, resp.StatusCode, string(respBody))
	}
	return nil
}
