// Package handler carries the HTTP handlers for the settlement API. Each
// handler declares the slice of the service layer it needs as a local
// interface, so the package never depends on concrete service wiring.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/server/middleware"
)

// writeJSON marshals v and writes it with the given status. A marshal
// failure degrades to a plain 500 body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFromErr maps settlement sentinels onto HTTP statuses. Anything
// unrecognized is a 500 and should be logged by the caller.
func statusFromErr(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, domain.ErrNotAdmin):
		return http.StatusForbidden, "caller is not the administrator"
	case errors.Is(err, domain.ErrAlreadyDeposited):
		return http.StatusConflict, "stake already deposited"
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict, "escrow not fully funded"
	case errors.Is(err, domain.ErrAlreadyResolved):
		return http.StatusConflict, "already resolved"
	case errors.Is(err, domain.ErrNotResolved):
		return http.StatusConflict, "market not resolved"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return http.StatusConflict, "rewards already claimed"
	case errors.Is(err, domain.ErrNoShares):
		return http.StatusConflict, "no shares on the winning outcome"
	case errors.Is(err, domain.ErrZeroStake),
		errors.Is(err, domain.ErrZeroBet),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrInvalidParty):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusPaymentRequired, "treasury transfer failed"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate limited"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// respondError translates a service failure into an HTTP response, logging
// the ones that are not the client's fault.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, msg := statusFromErr(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
	}
	writeError(w, status, msg)
}

// decodeJSON decodes the request body into v, answering a 400 itself on
// malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// requireCaller extracts the authenticated caller, answering a 401 itself
// when the request carried no identity proof.
func requireCaller(w http.ResponseWriter, r *http.Request) (domain.Party, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity proof required")
		return domain.ZeroParty, false
	}
	return caller, true
}

// pathParam reads a named Go 1.22 route pattern parameter.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// outcomeTotalsView renders per-outcome amounts as named fields instead of
// a bare array.
type outcomeTotalsView struct {
	Player1 uint64 `json:"player1"`
	Player2 uint64 `json:"player2"`
	Draw    uint64 `json:"draw"`
}

func totalsView(t domain.OutcomeTotals) outcomeTotalsView {
	return outcomeTotalsView{
		Player1: t.Get(domain.OutcomePlayer1),
		Player2: t.Get(domain.OutcomePlayer2),
		Draw:    t.Get(domain.OutcomeDraw),
	}
}
