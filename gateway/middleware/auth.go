package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pokemon918/ntbl-api-sub003/gateway/auth"
	"github.com/pokemon918/ntbl-api-sub003/observability"
)

// WhoParam is the query parameter carrying the compact signature token.
const WhoParam = "who"

type identityContextKey struct{}

// IdentityFromContext extracts the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*auth.Identity)
	return identity, ok && identity != nil
}

// AuthOptions configures the signature authentication middleware.
type AuthOptions struct {
	// ThrottleLimit refuses an identity above this many accepted requests in
	// the gate's trailing window; zero disables enforcement while keeping
	// the count available.
	ThrottleLimit int
}

// SignatureAuth authenticates every request from its who token and stores
// the resulting identity on the request context.
type SignatureAuth struct {
	gate    *auth.Gate
	metrics *observability.AuthMetrics
	logger  *slog.Logger
	opts    AuthOptions
}

func NewSignatureAuth(gate *auth.Gate, metrics *observability.AuthMetrics, logger *slog.Logger, opts AuthOptions) *SignatureAuth {
	if gate == nil {
		panic("signature auth requires a gate")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SignatureAuth{gate: gate, metrics: metrics, logger: logger, opts: opts}
}

// Middleware runs the gate for each request. When requireIdentity is false
// anonymous requests pass through with no identity on the context; otherwise
// they are refused. adminRoute marks the allow-listed admin mount.
func (a *SignatureAuth) Middleware(adminRoute, requireIdentity bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.gate.Authenticate(r.Context(), auth.Request{
				Method:     r.Method,
				Path:       r.URL.Path,
				Who:        r.URL.Query().Get(WhoParam),
				AdminRoute: adminRoute,
			})
			if err != nil {
				a.refuse(w, err)
				return
			}
			if identity == nil {
				if requireIdentity {
					a.metrics.RecordOutcome("rejected")
					WriteEnvelope(w, http.StatusUnauthorized, "authentication required", string(auth.CodeValidation), WhoParam)
					return
				}
				a.metrics.RecordOutcome("anonymous")
				next.ServeHTTP(w, r)
				return
			}
			if a.opts.ThrottleLimit > 0 && !identity.Admin {
				count, countErr := a.gate.RecentRequests(r.Context(), identity.Ref)
				if countErr != nil {
					a.logger.Error("throttle count failed", "ref", identity.Ref, "error", countErr)
				} else if count > int64(a.opts.ThrottleLimit) {
					a.metrics.RecordOutcome("throttled")
					WriteEnvelope(w, http.StatusTooManyRequests, "too many requests in the current window", "auth.throttle", WhoParam)
					return
				}
			}
			a.metrics.RecordOutcome("accepted")
			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *SignatureAuth) refuse(w http.ResponseWriter, err error) {
	authErr, ok := err.(*auth.Error)
	if !ok {
		a.logger.Error("authentication failed", "error", err)
		a.metrics.RecordOutcome("error")
		WriteEnvelope(w, http.StatusInternalServerError, "internal error", "internal", "")
		return
	}
	a.metrics.RecordOutcome("rejected:" + string(authErr.Code))
	WriteEnvelope(w, authErr.Status(), authErr.Message, string(authErr.Code), authErr.Field)
}

// Gate exposes the underlying gate for routes that need the privileged
// override path.
func (a *SignatureAuth) Gate() *auth.Gate { return a.gate }

// Refuse writes the envelope for a gate refusal surfaced by a handler.
func (a *SignatureAuth) Refuse(w http.ResponseWriter, err error) { a.refuse(w, err) }

type envelopeError struct {
	Code  string `json:"code"`
	Field string `json:"field"`
	Type  string `json:"type"`
}

type envelope struct {
	Status     string        `json:"status"`
	StatusCode int           `json:"statusCode"`
	Message    string        `json:"message"`
	Error      envelopeError `json:"error"`
}

// WriteEnvelope writes the uniform JSON error envelope. The error type is
// the final segment of the code.
func WriteEnvelope(w http.ResponseWriter, status int, message, code, field string) {
	kind := code
	if idx := strings.LastIndex(code, "."); idx >= 0 {
		kind = code[idx+1:]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Status:     "error",
		StatusCode: status,
		Message:    message,
		Error:      envelopeError{Code: code, Field: field, Type: kind},
	})
}
