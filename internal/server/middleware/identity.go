package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/bondescrow/internal/crypto"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Request signing headers.
const (
	HeaderTimestamp = "X-Bond-Timestamp"
	HeaderSignature = "X-Bond-Signature"
)

// DefaultMaxSkew is the accepted drift between a request timestamp and the
// server clock.
const DefaultMaxSkew = 5 * time.Minute

const maxSignedBody = 64 << 10

type callerKey struct{}

// CallerFrom returns the address that signed the request, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(common.Address)
	return a, ok
}

// WithCaller returns ctx carrying caller as the authenticated signer.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// IdentityConfig configures the Identity middleware.
type IdentityConfig struct {
	MaxSkew time.Duration
	// Locks records seen signatures for the skew window. Nil disables replay
	// protection.
	Locks domain.LockManager
	Now   func() time.Time
}

// Identity returns middleware that authenticates a request by its EIP-191
// signature over the timestamp and body and attaches the recovered address
// to the request context. A signature is accepted once per skew window.
func Identity(cfg IdentityConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultMaxSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(HeaderSignature)
			tsHeader := r.Header.Get(HeaderTimestamp)
			if sig == "" || tsHeader == "" {
				writeUnauthorized(w, "missing request signature")
				return
			}
			ts, err := strconv.ParseInt(tsHeader, 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid request timestamp")
				return
			}
			if skew := cfg.Now().Sub(time.Unix(ts, 0)).Abs(); skew > cfg.MaxSkew {
				writeUnauthorized(w, "request timestamp outside accepted window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			if len(body) > maxSignedBody {
				writeFailure(w, http.StatusRequestEntityTooLarge, "request body too large", "")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := crypto.RecoverRequest(ts, body, sig)
			if err != nil {
				writeUnauthorized(w, "invalid request signature")
				return
			}

			if cfg.Locks != nil {
				// The lock is never released; it expires after both ends of
				// the window have passed.
				_, err := cfg.Locks.Acquire(r.Context(), "sig:"+crypto.SignatureID(sig), 2*cfg.MaxSkew)
				if errors.Is(err, domain.ErrLockHeld) {
					writeFailure(w, http.StatusConflict, "request already submitted", domain.ErrReplayed.Code)
					return
				}
				if err != nil {
					logger.ErrorContext(r.Context(), "signature replay check failed",
						slog.String("caller", caller.Hex()),
						slog.String("error", err.Error()),
					)
					writeFailure(w, http.StatusServiceUnavailable, "replay protection unavailable", "")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}
