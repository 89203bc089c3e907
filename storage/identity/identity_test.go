package identity

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pokemon918/ntbl-api-sub003/gateway/auth"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return NewStore(db)
}

func TestLookupByRef(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := &User{Ref: "abc123", Email: "taster@example.test", Secret: []byte("s3cr3t"), Admin: true}
	require.NoError(t, store.CreateUser(ctx, user))

	principal, err := store.LookupByRef(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", principal.Ref)
	require.Equal(t, []byte("s3cr3t"), principal.Secret)
	require.True(t, principal.Admin)

	_, err = store.LookupByRef(ctx, "nobody1")
	require.ErrorIs(t, err, auth.ErrIdentityNotFound)
}

func TestTastingsByOwnerNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := &User{Ref: "abc123", Email: "taster@example.test", Secret: []byte("s3cr3t")}
	require.NoError(t, store.CreateUser(ctx, user))

	older := &Tasting{OwnerID: user.ID, Name: "First", CreatedAt: time.Now().Add(-time.Hour)}
	newer := &Tasting{OwnerID: user.ID, Name: "Second", CreatedAt: time.Now()}
	require.NoError(t, store.CreateTasting(ctx, older))
	require.NoError(t, store.CreateTasting(ctx, newer))

	tastings, err := store.TastingsByOwner(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tastings, 2)
	require.Equal(t, "Second", tastings[0].Name)
	require.Equal(t, "First", tastings[1].Name)
}
