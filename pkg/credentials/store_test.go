package credentials

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testKey() []byte {
	return make([]byte, 32)
}

func TestStore_SaveAndGet(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, testKey())
	require.NoError(t, err)

	ctx := context.Background()
	err = store.Save(ctx, &Credential{
		Key:      "anthropic",
		Secret:   []byte("sk-ant-secret"),
		Metadata: map[string]string{"provider": "anthropic"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "anthropic")
	require.NoError(t, err)
	require.Equal(t, []byte("sk-ant-secret"), got.Secret)
	require.Equal(t, "anthropic", got.Metadata["provider"])
}

func TestStore_GetNotFound(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, testKey())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_KeyTooLarge(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, testKey())
	require.NoError(t, err)

	bigKey := make([]byte, MaxKeyBytes+1)
	err = store.Save(context.Background(), &Credential{Key: string(bigKey), Secret: []byte("x")})
	require.ErrorIs(t, err, ErrKeyTooLarge)
}

func TestStore_SecretTooLarge(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, testKey())
	require.NoError(t, err)

	bigSecret := make([]byte, MaxSecretBytes+1)
	err = store.Save(context.Background(), &Credential{Key: "k", Secret: bigSecret})
	require.ErrorIs(t, err, ErrSecretTooLarge)
}

func TestStore_Rotate(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, testKey())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Credential{Key: "openai", Secret: []byte("old")}))
	require.NoError(t, store.Rotate(ctx, "openai", []byte("new")))

	got, err := store.Get(ctx, "openai")
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got.Secret)
	require.NotNil(t, got.LastRotated)
}

func TestStore_Delete(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, testKey())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Credential{Key: "k", Secret: []byte("v")}))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_List(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, testKey())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Credential{Key: "a", Secret: []byte("1")}))
	require.NoError(t, store.Save(ctx, &Credential{Key: "b", Secret: []byte("2")}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestCredential_NeedsRefresh(t *testing.T) {
	soon := time.Now().Add(1 * time.Minute)
	c := &Credential{ExpiresAt: &soon}
	require.True(t, c.NeedsRefresh())

	later := time.Now().Add(1 * time.Hour)
	c2 := &Credential{ExpiresAt: &later}
	require.False(t, c2.NeedsRefresh())
}

func TestCredential_Zero(t *testing.T) {
	c := &Credential{Secret: []byte("secret")}
	c.Zero()
	for _, b := range c.Secret {
		require.Equal(t, byte(0), b)
	}
}

func TestStore_Get_DetectsTamperedMetadata(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewStore(db, testKey())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &Credential{
		Key:      "anthropic",
		Secret:   []byte("sk-ant-secret"),
		Metadata: map[string]string{"provider": "anthropic"},
	}))

	_, err = db.ExecContext(ctx, `UPDATE credentials SET metadata = ? WHERE key = ?`,
		`{"provider":"openai"}`, "anthropic")
	require.NoError(t, err)

	_, err = store.Get(ctx, "anthropic")
	require.ErrorIs(t, err, ErrMetadataTampered)
}
