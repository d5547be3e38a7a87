// Package middleware carries the HTTP middleware chain: CORS, caller
// identity, rate limiting, ops-token checks, and request logging.
package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/matchbook/internal/crypto"
	"github.com/alanyoungcy/matchbook/internal/domain"
)

// Identity proof headers. The wallet signs method|path|timestamp|body hash
// (see crypto.CallerDigest) and the server recovers the address.
const (
	HeaderPartyAddress   = "X-Party-Address"
	HeaderPartyTimestamp = "X-Party-Timestamp"
	HeaderPartySignature = "X-Party-Signature"
)

// maxProofBody bounds how much request body the identity check will hash.
const maxProofBody = 1 << 20

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, p domain.Party) context.Context {
	return context.WithValue(ctx, callerKey{}, p)
}

// CallerFrom extracts the authenticated caller placed by the Identity
// middleware. ok is false on anonymous requests.
func CallerFrom(ctx context.Context) (domain.Party, bool) {
	p, ok := ctx.Value(callerKey{}).(domain.Party)
	return p, ok
}

// Identity returns middleware that authenticates requests carrying the
// identity proof headers. Requests without any of the headers pass through
// anonymous; handlers that need a caller reject those themselves. A proof
// older or newer than maxSkew is refused.
func Identity(maxSkew time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := r.Header.Get(HeaderPartyAddress)
			ts := r.Header.Get(HeaderPartyTimestamp)
			sig := r.Header.Get(HeaderPartySignature)

			if addr == "" && ts == "" && sig == "" {
				next.ServeHTTP(w, r)
				return
			}
			if addr == "" || ts == "" || sig == "" {
				writeUnauthorized(w, "incomplete identity headers")
				return
			}
			if !common.IsHexAddress(addr) {
				writeUnauthorized(w, "malformed party address")
				return
			}

			unix, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				writeUnauthorized(w, "malformed proof timestamp")
				return
			}
			if age := time.Since(time.Unix(unix, 0)); age > maxSkew || age < -maxSkew {
				writeUnauthorized(w, "identity proof expired")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxProofBody))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			recovered, err := crypto.RecoverCallerProof(r.Method, r.URL.Path, ts, body, sig)
			if err != nil {
				writeUnauthorized(w, "invalid identity signature")
				return
			}
			if recovered != common.HexToAddress(addr) {
				writeUnauthorized(w, "identity signature mismatch")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), recovered)))
		})
	}
}

// writeUnauthorized sends a 401 with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
