package auth

import (
	"strings"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	cases := []struct {
		ref    string
		timeMs int64
		digest string
	}{
		{"abc123", 1610000000000, "deadbeef"},
		{"user-ref", 1, "0f" + strings.Repeat("ab", 31)},
		{"abcd", 9999999999999, ""},
	}
	for _, tc := range cases {
		who := EncodeToken(tc.ref, tc.timeMs, tc.digest)
		if who != strings.ToLower(who) {
			t.Fatalf("encoded token must be lowercase, got %q", who)
		}
		token, err := DecodeToken(who)
		if err != nil {
			t.Fatalf("decode %q: %v", who, err)
		}
		if token.UserRef != tc.ref || token.ClientTimeMs != tc.timeMs || token.Digest != tc.digest {
			t.Fatalf("round trip mismatch: got %+v, want %+v", token, tc)
		}
	}
}

func TestDecodeTokenIsIdempotent(t *testing.T) {
	who := EncodeToken("abc123", 1610000000000, "cafe1234")
	first, err := DecodeToken(who)
	if err != nil {
		t.Fatalf("first decode: %v", err)
	}
	second, err := DecodeToken(who)
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if first != second {
		t.Fatalf("decode not idempotent: %+v vs %+v", first, second)
	}
}

func TestDecodeTokenPreservesColonsInDigest(t *testing.T) {
	digest := "aa:bb:cc"
	who := EncodeToken("abc123", 42, digest)
	token, err := DecodeToken(who)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if token.Digest != digest {
		t.Fatalf("digest with colons not reconstituted: got %q, want %q", token.Digest, digest)
	}
}

func TestDecodeTokenCoercesNonNumericTime(t *testing.T) {
	payload := "abc123:not-a-number:deadbeef"
	who := strings.ToLower(tokenEncoding.EncodeToString([]byte(payload)))
	token, err := DecodeToken(who)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if token.ClientTimeMs != 0 {
		t.Fatalf("expected non-numeric time to coerce to 0, got %d", token.ClientTimeMs)
	}
	if token.UserRef != "abc123" || token.Digest != "deadbeef" {
		t.Fatalf("unexpected token: %+v", token)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, who := range []string{"", "   ", "!!!not-base32!!!", "tex"} {
		if _, err := DecodeToken(who); err == nil {
			t.Fatalf("expected decode of %q to fail", who)
		}
	}
}

func TestDecodeTokenRejectsEmptyRef(t *testing.T) {
	payload := ":1610000000000:deadbeef"
	who := strings.ToLower(tokenEncoding.EncodeToString([]byte(payload)))
	if _, err := DecodeToken(who); err == nil {
		t.Fatalf("expected decode with empty reference to fail")
	}
}

func TestDecodeTokenAcceptsUppercaseWire(t *testing.T) {
	who := EncodeToken("abc123", 7, "beef")
	token, err := DecodeToken(strings.ToUpper(who))
	if err != nil {
		t.Fatalf("decode uppercase: %v", err)
	}
	if token.UserRef != "abc123" {
		t.Fatalf("unexpected ref: %q", token.UserRef)
	}
}
