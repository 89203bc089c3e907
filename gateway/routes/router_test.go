package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pokemon918/ntbl-api-sub003/gateway/auth"
	"github.com/pokemon918/ntbl-api-sub003/gateway/middleware"
	"github.com/pokemon918/ntbl-api-sub003/observability"
	"github.com/pokemon918/ntbl-api-sub003/storage/history"
	"github.com/pokemon918/ntbl-api-sub003/storage/identity"
)

var testClock = time.UnixMilli(1_700_000_000_000).UTC()

type testEnv struct {
	handler    http.Handler
	identities *identity.Store
	user       *identity.User
}

func newTestEnv(t *testing.T, opts auth.Options) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, identity.AutoMigrate(db))
	require.NoError(t, history.AutoMigrate(db))

	identities := identity.NewStore(db)
	user := &identity.User{
		Ref:    "abc123",
		Name:   "Taster",
		Email:  "taster@example.test",
		Secret: []byte("s3cr3t"),
	}
	require.NoError(t, identities.CreateUser(context.Background(), user))
	require.NoError(t, identities.CreateUser(context.Background(), &identity.User{
		Ref:    "tex",
		Name:   "Dev",
		Email:  "dev@example.test",
		Secret: []byte("dev"),
	}))

	gate := auth.NewGate(identities, history.NewStore(db), nil, slog.Default(), opts,
		func() time.Time { return testClock })
	authMW := middleware.NewSignatureAuth(gate, observability.Auth(), slog.Default(), middleware.AuthOptions{})

	handler, err := New(Config{
		Auth:       authMW,
		Identities: identities,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)
	return &testEnv{handler: handler, identities: identities, user: user}
}

func signedWho(ref, method, path string, secret []byte) string {
	clientMs := testClock.UnixMilli() - 1000
	return auth.EncodeToken(ref, clientMs, auth.ExpectedDigest(ref, method, path, clientMs, secret))
}

func (env *testEnv) request(t *testing.T, method, path, who string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	target := path
	if who != "" {
		target += "?who=" + url.QueryEscape(who)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

type errorEnvelope struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      struct {
		Code  string `json:"code"`
		Field string `json:"field"`
		Type  string `json:"type"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealthzIsOpen(t *testing.T) {
	env := newTestEnv(t, auth.Options{})
	rec := env.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProfileRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, auth.Options{})
	rec := env.request(t, http.MethodGet, "/profile", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	envlp := decodeEnvelope(t, rec)
	require.Equal(t, "error", envlp.Status)
	require.Equal(t, http.StatusUnauthorized, envlp.StatusCode)
	require.Equal(t, string(auth.CodeValidation), envlp.Error.Code)
	require.Equal(t, "validation", envlp.Error.Type)
}

func TestProfileWithSignedToken(t *testing.T) {
	env := newTestEnv(t, auth.Options{})
	who := signedWho("abc123", http.MethodGet, "/profile", []byte("s3cr3t"))
	rec := env.request(t, http.MethodGet, "/profile", who, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var profile struct {
		Ref   string `json:"ref"`
		Email string `json:"email"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	require.Equal(t, "abc123", profile.Ref)
	require.Equal(t, "taster@example.test", profile.Email)
}

func TestReplayedTokenIsRefused(t *testing.T) {
	env := newTestEnv(t, auth.Options{})
	who := signedWho("abc123", http.MethodGet, "/profile", []byte("s3cr3t"))

	first := env.request(t, http.MethodGet, "/profile", who, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := env.request(t, http.MethodGet, "/profile", who, nil)
	require.Equal(t, http.StatusConflict, second.Code)
	require.Equal(t, string(auth.CodeReplay), decodeEnvelope(t, second).Error.Code)
}

func TestTamperedSignatureIsRefused(t *testing.T) {
	env := newTestEnv(t, auth.Options{})
	// Signed for POST but replayed against GET: the digest binds the method.
	who := signedWho("abc123", http.MethodPost, "/profile", []byte("s3cr3t"))
	rec := env.request(t, http.MethodGet, "/profile", who, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, string(auth.CodeCredentials), decodeEnvelope(t, rec).Error.Code)
}

func TestCreateAndListTastings(t *testing.T) {
	env := newTestEnv(t, auth.Options{})
	body, err := json.Marshal(map[string]any{
		"name":     "Chateau Test",
		"producer": "Test Estate",
		"vintage":  2019,
		"rating":   92.5,
	})
	require.NoError(t, err)

	who := signedWho("abc123", http.MethodPost, "/tasting", []byte("s3cr3t"))
	rec := env.request(t, http.MethodPost, "/tasting", who, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// A fresh token signed for the list route.
	listMs := testClock.UnixMilli() - 2000
	listWho := auth.EncodeToken("abc123", listMs,
		auth.ExpectedDigest("abc123", http.MethodGet, "/tastings", listMs, []byte("s3cr3t")))
	listRec := env.request(t, http.MethodGet, "/tastings", listWho, nil)
	require.Equal(t, http.StatusOK, listRec.Code, listRec.Body.String())

	var tastings []identity.Tasting
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &tastings))
	require.Len(t, tastings, 1)
	require.Equal(t, "Chateau Test", tastings[0].Name)
}

func TestImpersonateRequiresOverrideFlag(t *testing.T) {
	env := newTestEnv(t, auth.Options{})
	body, _ := json.Marshal(map[string]string{"userRef": "abc123"})
	rec := env.request(t, http.MethodPost, "/admin/impersonate", "", body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, string(auth.CodeConfig), decodeEnvelope(t, rec).Error.Code)
}

func TestImpersonateWithOverrideEnabled(t *testing.T) {
	env := newTestEnv(t, auth.Options{OverrideEnabled: true})
	body, _ := json.Marshal(map[string]string{"userRef": "abc123"})
	rec := env.request(t, http.MethodPost, "/admin/impersonate", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var profile struct {
		Ref string `json:"ref"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	require.Equal(t, "abc123", profile.Ref)
}

func TestDevBypassOnAdminRoute(t *testing.T) {
	env := newTestEnv(t, auth.Options{DevRefs: []string{"tex"}, OverrideEnabled: true})
	body, _ := json.Marshal(map[string]string{"userRef": "abc123"})
	rec := env.request(t, http.MethodPost, "/admin/impersonate", "tex", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
