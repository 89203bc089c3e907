package auth

import (
	"fmt"
	"net/http"
)

// Code identifies the reason an authentication attempt was refused.
type Code string

const (
	// CodeDecode marks a who token that could not be decoded.
	CodeDecode Code = "auth.decode"
	// CodeValidation marks a malformed or disallowed user reference.
	CodeValidation Code = "auth.validation"
	// CodeStale marks a client timestamp outside the freshness window.
	CodeStale Code = "auth.stale"
	// CodeNotFound marks an unknown identity reference.
	CodeNotFound Code = "auth.not_found"
	// CodeCredentials marks a digest mismatch.
	CodeCredentials Code = "auth.credentials"
	// CodeReplay marks a who token that has already been accepted once.
	CodeReplay Code = "auth.replay"
	// CodeConfig marks misuse of the privileged override route.
	CodeConfig Code = "auth.config"
)

// DefaultMessages maps refusal codes to client-facing messages. A deployment
// may override individual entries through configuration.
var DefaultMessages = map[Code]string{
	CodeDecode:      "could not read the supplied credentials",
	CodeValidation:  "the supplied user reference is not allowed",
	CodeStale:       "the request timestamp is outside the accepted window",
	CodeNotFound:    "no identity matches the supplied reference",
	CodeCredentials: "the request signature does not match",
	CodeReplay:      "this request has already been used",
	CodeConfig:      "the override route is not enabled",
}

// Error is the typed refusal returned by the gate. It never terminates the
// process; the HTTP layer maps it onto a JSON envelope.
type Error struct {
	Code    Code
	Field   string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Message, e.Code, e.Field, e.cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Field)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status this refusal maps to.
func (e *Error) Status() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusUnauthorized
	case CodeReplay:
		return http.StatusConflict
	case CodeConfig:
		return http.StatusForbidden
	case CodeDecode, CodeValidation, CodeStale, CodeCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusUnauthorized
	}
}

func newError(messages map[Code]string, code Code, field string, cause error) *Error {
	msg := messages[code]
	if msg == "" {
		msg = DefaultMessages[code]
	}
	if msg == "" {
		msg = string(code)
	}
	return &Error{Code: code, Field: field, Message: msg, cause: cause}
}
