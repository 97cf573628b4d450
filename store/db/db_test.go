package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbay/client-go/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{FilePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.KeyAccessToken, "access-1"))

	got, err := s.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got)

	// overwrite
	require.NoError(t, s.Set(ctx, store.KeyAccessToken, "access-2"))
	got, err = s.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-2", got)
}

func TestSQLiteGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestSQLiteSetMany(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMany(ctx, map[string]string{
		store.KeyAccessToken:  "a",
		store.KeyRefreshToken: "r",
	}))

	a, err := s.Get(ctx, store.KeyAccessToken)
	require.NoError(t, err)
	r, err := s.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "a", a)
	assert.Equal(t, "r", r)
}

func TestSQLiteRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.KeyProfile, `{"role":"customer"}`))
	require.NoError(t, s.Remove(ctx, store.KeyProfile))

	_, err := s.Get(ctx, store.KeyProfile)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	assert.NoError(t, s.Remove(ctx, store.KeyProfile))
}

func TestSQLiteWatch(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, store.KeyAccessToken, "watched"))

	select {
	case change := <-ch:
		assert.Equal(t, store.KeyAccessToken, change.Key)
		assert.Equal(t, "watched", change.NewValue)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s1, err := New(Config{FilePath: path})
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, store.KeyRefreshToken, "durable"))
	require.NoError(t, s1.Close())

	s2, err := New(Config{FilePath: path})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "durable", got)
}
