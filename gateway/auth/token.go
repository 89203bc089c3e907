package auth

import (
	"encoding/base32"
	"errors"
	"strconv"
	"strings"
)

// ErrMalformedToken is returned when a who token cannot be base32-decoded or
// carries no user reference.
var ErrMalformedToken = errors.New("malformed who token")

// SignatureToken is the decoded form of a who token. It lives for the
// duration of a single request and is never cached at process scope.
type SignatureToken struct {
	UserRef      string
	ClientTimeMs int64
	Digest       string
}

// who tokens travel lowercase; the standard alphabet is folded to upper case
// before decoding and the encoded output folded back down.
var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DecodeToken parses a raw who value into its three fields. The payload is a
// colon-separated string: reference, client time in milliseconds, digest.
// Every field after the second is rejoined with ":" so that a digest which
// legitimately contains colons survives the round trip. A non-numeric time
// field is coerced to zero rather than rejected here; the freshness and
// digest checks downstream refuse such tokens anyway.
func DecodeToken(who string) (SignatureToken, error) {
	trimmed := strings.TrimSpace(who)
	if trimmed == "" {
		return SignatureToken{}, ErrMalformedToken
	}
	raw, err := tokenEncoding.DecodeString(strings.ToUpper(trimmed))
	if err != nil {
		return SignatureToken{}, ErrMalformedToken
	}
	parts := strings.Split(string(raw), ":")
	ref := parts[0]
	if ref == "" {
		return SignatureToken{}, ErrMalformedToken
	}
	var clientMs int64
	if len(parts) > 1 {
		if parsed, err := strconv.ParseInt(parts[1], 10, 64); err == nil && parsed > 0 {
			clientMs = parsed
		}
	}
	digest := ""
	if len(parts) > 2 {
		digest = strings.ToLower(strings.Join(parts[2:], ":"))
	}
	return SignatureToken{UserRef: ref, ClientTimeMs: clientMs, Digest: digest}, nil
}

// EncodeToken is the inverse of DecodeToken, used by clients and tests.
func EncodeToken(userRef string, clientTimeMs int64, digest string) string {
	payload := strings.Join([]string{userRef, strconv.FormatInt(clientTimeMs, 10), digest}, ":")
	return strings.ToLower(tokenEncoding.EncodeToString([]byte(payload)))
}
