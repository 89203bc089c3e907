package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// digestLen pins the SHAKE256 output to 32 bytes (64 hex characters). The
// two-stage construction keys the message with HMAC-SHA256 first, then runs
// the MAC through SHAKE256 as an opaque finalisation stage.
const digestLen = 32

// signingMessage builds the canonical string bound by the digest: reference,
// HTTP method, path with leading slashes trimmed, and the client time in
// milliseconds, concatenated without separators and folded to lower case.
// Only leading slashes are stripped; a trailing slash is a distinct path and
// yields a distinct digest.
func signingMessage(userRef, method, path string, clientTimeMs int64) string {
	var b strings.Builder
	b.WriteString(userRef)
	b.WriteString(method)
	b.WriteString(strings.TrimLeft(path, "/"))
	b.WriteString(strconv.FormatInt(clientTimeMs, 10))
	return strings.ToLower(b.String())
}

// ExpectedDigest recomputes the digest for the supplied request fields and
// secret, returned as lowercase hex.
func ExpectedDigest(userRef, method, path string, clientTimeMs int64, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingMessage(userRef, method, path, clientTimeMs)))
	raw := mac.Sum(nil)

	shake := sha3.NewShake256()
	shake.Write(raw)
	out := make([]byte, digestLen)
	shake.Read(out)
	return hex.EncodeToString(out)
}

// VerifyDigest recomputes the expected digest for the token and compares it
// to the supplied one in constant time. Mutating any of reference, method,
// path or client time without recomputing the digest makes this return false.
func VerifyDigest(token SignatureToken, method, path string, secret []byte) bool {
	expected := ExpectedDigest(token.UserRef, method, path, token.ClientTimeMs, secret)
	return hmac.Equal([]byte(expected), []byte(token.Digest))
}
