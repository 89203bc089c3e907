package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrIdentityNotFound is returned by IdentityStore implementations when no
// identity matches the supplied reference.
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is the read-only view of an authenticated principal. Secret holds
// the stored password-derived key used as the HMAC key.
type Identity struct {
	Ref    string
	Secret []byte
	Admin  bool
}

// IdentityStore resolves references to identities. Owned by the surrounding
// application; the gate only reads from it.
type IdentityStore interface {
	LookupByRef(ctx context.Context, ref string) (*Identity, error)
}

// AlertSink receives elevated-severity notifications for stale timestamps.
// No alerting logic lives in the gate itself.
type AlertSink interface {
	StaleTimestamp(ctx context.Context, userRef string, serverTimeMs, clientTimeMs int64)
}

// Request describes one inbound call to authenticate. It is supplied fresh
// per call and never shared across calls.
type Request struct {
	Method string
	Path   string
	Who    string
	// ServerTimeMs optionally fixes the server clock for this call; zero
	// means the gate reads its own clock.
	ServerTimeMs int64
	// AdminRoute marks requests arriving on the allow-listed admin route.
	AdminRoute bool
}

// Options is the injected configuration value object for the gate.
type Options struct {
	DevMode                 bool
	OverrideEnabled         bool
	DevRefs                 []string
	MaxAgeHours             int
	MaxAheadHours           int
	ThrottleIntervalMinutes int
	Messages                map[Code]string
}

const minRefLen = 4

// Gate authenticates inbound requests from their who token. It is stateless
// per call and safe for concurrent use; all durable state lives in the
// injected stores.
type Gate struct {
	identities IdentityStore
	history    HistoryStore
	alerts     AlertSink
	logger     *slog.Logger
	opts       Options
	nowFn      func() time.Time
}

// NewGate wires the gate with its collaborators. identities and history are
// required; alerts may be nil when no alerting collaborator is configured.
func NewGate(identities IdentityStore, history HistoryStore, alerts AlertSink, logger *slog.Logger, opts Options, nowFn func() time.Time) *Gate {
	if identities == nil {
		panic("identity store required")
	}
	if history == nil {
		panic("history store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if opts.MaxAgeHours <= 0 {
		opts.MaxAgeHours = 24
	}
	if opts.MaxAheadHours <= 0 {
		opts.MaxAheadHours = 1
	}
	if opts.ThrottleIntervalMinutes <= 0 {
		opts.ThrottleIntervalMinutes = 10
	}
	return &Gate{
		identities: identities,
		history:    history,
		alerts:     alerts,
		logger:     logger,
		opts:       opts,
		nowFn:      nowFn,
	}
}

// Authenticate resolves a request to an identity. A nil identity with a nil
// error means the request is anonymous (no who token supplied); endpoints
// that permit unauthenticated access handle that case themselves. Refusals
// are returned as *Error and never fall back to anonymous access.
func (g *Gate) Authenticate(ctx context.Context, req Request) (*Identity, error) {
	who := strings.TrimSpace(req.Who)
	if who == "" {
		return nil, nil
	}

	token, decodeErr := DecodeToken(who)

	// Dev bypass: a literal reference name stands in for a signed token.
	// Checked before a decode failure is surfaced because literal refs are
	// not valid base32.
	if g.opts.DevMode || (req.AdminRoute && len(who) < minRefLen) {
		if ref := g.matchDevRef(who); ref != "" {
			identity, err := g.loadIdentity(ctx, ref)
			if err != nil {
				return nil, err
			}
			g.logger.Info("dev bypass authentication", "ref", identity.Ref)
			return identity, nil
		}
	}

	if decodeErr != nil {
		return nil, g.fail(CodeDecode, "who", decodeErr, "who_len", len(who))
	}

	// Outside dev mode, short references are refused outright so dev-style
	// refs cannot be replayed against production.
	if !g.opts.DevMode && len(token.UserRef) < minRefLen {
		return nil, g.fail(CodeValidation, "who", nil, "ref", token.UserRef)
	}

	serverMs := req.ServerTimeMs
	if serverMs == 0 {
		serverMs = g.nowFn().UnixMilli()
	}
	if !Fresh(token.ClientTimeMs, serverMs, g.opts.MaxAgeHours, g.opts.MaxAheadHours) {
		if g.alerts != nil {
			g.alerts.StaleTimestamp(ctx, token.UserRef, serverMs, token.ClientTimeMs)
		}
		g.logger.Error("stale request timestamp",
			"ref", token.UserRef,
			"server_ms", serverMs,
			"client_ms", token.ClientTimeMs,
		)
		return nil, newError(g.opts.Messages, CodeStale, "who", nil)
	}

	identity, err := g.loadIdentity(ctx, token.UserRef)
	if err != nil {
		return nil, err
	}

	// In dev mode an empty digest skips signature verification entirely.
	if g.opts.DevMode && token.Digest == "" {
		return identity, nil
	}

	if !VerifyDigest(token, req.Method, req.Path, identity.Secret) {
		return nil, g.fail(CodeCredentials, "who", nil, "ref", token.UserRef)
	}

	// Administrative identities bypass replay accounting.
	if !identity.Admin {
		outcome, err := recordIfNew(ctx, g.history, who, token.UserRef, token.ClientTimeMs, time.UnixMilli(serverMs))
		if err != nil {
			return nil, err
		}
		if outcome == ReplayDuplicate {
			return nil, g.fail(CodeReplay, "who", nil, "ref", token.UserRef)
		}
	}

	return identity, nil
}

// AuthorizeOverride loads an identity by literal reference, skipping every
// signature check. It serves only the allow-listed admin route and refuses
// unless the override flag is configured.
func (g *Gate) AuthorizeOverride(ctx context.Context, userRef string) (*Identity, error) {
	if !g.opts.OverrideEnabled {
		return nil, g.fail(CodeConfig, "user_ref", nil)
	}
	ref := strings.TrimSpace(userRef)
	if ref == "" {
		return nil, g.fail(CodeValidation, "user_ref", nil)
	}
	identity, err := g.loadIdentity(ctx, ref)
	if err != nil {
		return nil, err
	}
	g.logger.Warn("override authentication", "ref", identity.Ref)
	return identity, nil
}

// RecentRequests reports the identity's accepted-request count inside the
// configured trailing throttle window.
func (g *Gate) RecentRequests(ctx context.Context, userRef string) (int64, error) {
	return CountRecent(ctx, g.history, userRef, g.opts.ThrottleIntervalMinutes, g.nowFn())
}

func (g *Gate) loadIdentity(ctx context.Context, ref string) (*Identity, error) {
	identity, err := g.identities.LookupByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, g.fail(CodeNotFound, "user_ref", nil, "ref", ref)
		}
		return nil, err
	}
	return identity, nil
}

// matchDevRef resolves a raw who value against the configured dev references
// by case-insensitive literal match. Values too short to be real references
// fall back to the first configured dev ref.
func (g *Gate) matchDevRef(who string) string {
	for _, ref := range g.opts.DevRefs {
		if strings.EqualFold(strings.TrimSpace(ref), who) {
			return strings.TrimSpace(ref)
		}
	}
	if len(who) < minRefLen && len(g.opts.DevRefs) > 0 {
		return strings.TrimSpace(g.opts.DevRefs[0])
	}
	return ""
}

// fail is the single refusal exit path: it logs the full context at warning
// severity and returns the typed error the HTTP layer maps onto its envelope.
func (g *Gate) fail(code Code, field string, cause error, attrs ...any) *Error {
	e := newError(g.opts.Messages, code, field, cause)
	logAttrs := append([]any{"code", string(code), "field", field}, attrs...)
	if cause != nil {
		logAttrs = append(logAttrs, "cause", cause.Error())
	}
	g.logger.Warn("authentication refused", logAttrs...)
	return e
}
