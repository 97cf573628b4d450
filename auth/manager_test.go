package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbay/client-go/core/token"
	"github.com/marketbay/client-go/errors"
	"github.com/marketbay/client-go/store"
)

func TestEnsureValidTokenFreshTokenSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(refreshHandler(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		respondPair(t, w, mintToken(t, time.Hour), "")
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL, nil)
	seedSession(t, mgr, time.Hour)

	require.NoError(t, mgr.EnsureValidToken(context.Background()))
	assert.EqualValues(t, 0, calls.Load())
}

func TestEnsureValidTokenWithoutSession(t *testing.T) {
	mgr, _ := newTestManager(t, "http://127.0.0.1:0", nil)

	err := mgr.EnsureValidToken(context.Background())
	assert.True(t, errors.AuthenticationRequired(err))
}

func TestEnsureValidTokenNearExpiryRefreshes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(refreshHandler(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		respondPair(t, w, mintToken(t, time.Hour), "")
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL, nil)
	seedSession(t, mgr, 10*time.Second) // inside the one-minute threshold

	require.NoError(t, mgr.EnsureValidToken(context.Background()))
	assert.EqualValues(t, 1, calls.Load())
}

func TestProactiveRefreshFiresInsideRenewalWindow(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(refreshHandler(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		respondPair(t, w, mintToken(t, time.Hour), "")
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL, func(cfg *Config) {
		cfg.RefreshThreshold = 50 * time.Millisecond
	})
	seedSession(t, mgr, 200*time.Millisecond)

	require.NoError(t, mgr.EnsureValidToken(context.Background()))
	assert.EqualValues(t, 0, calls.Load(), "token still outside the window")

	assert.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond, "timer must fire once the window opens")
}

func TestSetSessionPersistsEverything(t *testing.T) {
	mgr, storage := newTestManager(t, "http://127.0.0.1:0", nil)

	access := mintToken(t, time.Hour)
	err := mgr.SetSession(context.Background(), token.Pair{
		AccessToken:  access,
		RefreshToken: "r-1",
	}, &Profile{UserID: "u-1", Role: token.RoleVendor, VendorID: "v-42"})
	require.NoError(t, err)

	for key, want := range map[string]string{
		store.KeyAccessToken:  access,
		store.KeyRefreshToken: "r-1",
		store.KeyVendorID:     "v-42",
	} {
		got, err := storage.Get(context.Background(), key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}

	assert.Equal(t, "v-42", mgr.VendorID())
	profile := mgr.CurrentProfile()
	require.NotNil(t, profile)
	assert.Equal(t, token.RoleVendor, profile.Role)
}

func TestSetSessionRejectsMalformedToken(t *testing.T) {
	mgr, _ := newTestManager(t, "http://127.0.0.1:0", nil)

	err := mgr.SetSession(context.Background(), token.Pair{
		AccessToken:  "not-a-jwt",
		RefreshToken: "r-1",
	}, nil)
	require.Error(t, err)
	assert.False(t, mgr.HasSession())
}

func TestLogoutClearsLocallyAndNotifiesBackend(t *testing.T) {
	var logoutCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/logout/", func(w http.ResponseWriter, _ *http.Request) {
		logoutCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, storage := newTestManager(t, srv.URL, nil)
	seedSession(t, mgr, time.Hour)
	events, unsub := collectEvents(mgr)
	defer unsub()

	mgr.Logout(context.Background())

	assert.EqualValues(t, 1, logoutCalls.Load())
	assert.False(t, mgr.HasSession())
	_, err := storage.Get(context.Background(), store.KeyRefreshToken)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	select {
	case e := <-events:
		assert.Equal(t, EventLogout, e.Type)
		assert.Equal(t, ReasonUserLogout, e.Reason)
	case <-time.After(time.Second):
		t.Fatal("no logout event")
	}
}

func TestLogoutSurvivesBackendFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/logout/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL, nil)
	seedSession(t, mgr, time.Hour)

	mgr.Logout(context.Background())
	assert.False(t, mgr.HasSession())
}

func TestExternalRevocationLogsOut(t *testing.T) {
	mgr, storage := newTestManager(t, "http://127.0.0.1:0", nil)
	seedSession(t, mgr, time.Hour)
	events, unsub := collectEvents(mgr)
	defer unsub()

	// Another holder of the same storage revokes the session.
	require.NoError(t, storage.Remove(context.Background(), store.KeyRefreshToken))

	select {
	case e := <-events:
		assert.Equal(t, EventLogout, e.Type)
		assert.Equal(t, ReasonSessionRevoked, e.Reason)
	case <-time.After(time.Second):
		t.Fatal("no logout event")
	}
	assert.False(t, mgr.HasSession())
}

func TestAdoptsSessionWrittenByAnotherHolder(t *testing.T) {
	mgr, storage := newTestManager(t, "http://127.0.0.1:0", nil)
	seedSession(t, mgr, time.Hour)

	fresh := mintToken(t, 2*time.Hour)
	require.NoError(t, storage.SetMany(context.Background(), map[string]string{
		store.KeyAccessToken:  fresh,
		store.KeyRefreshToken: "refresh-other",
	}))

	assert.Eventually(t, func() bool {
		access, ok := mgr.AccessToken()
		return ok && access == fresh
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewAdoptsStoredSession(t *testing.T) {
	storage := store.NewMemory()
	access := mintToken(t, time.Hour)
	require.NoError(t, storage.SetMany(context.Background(), map[string]string{
		store.KeyAccessToken:  access,
		store.KeyRefreshToken: "r-stored",
	}))

	mgr, err := New(Config{BaseURL: "http://127.0.0.1:0"}, storage)
	require.NoError(t, err)
	defer mgr.Close()

	got, ok := mgr.AccessToken()
	require.True(t, ok)
	assert.Equal(t, access, got)
}

func TestNewDiscardsUnreadableStoredSession(t *testing.T) {
	storage := store.NewMemory()
	require.NoError(t, storage.SetMany(context.Background(), map[string]string{
		store.KeyAccessToken:  "garbage",
		store.KeyRefreshToken: "r-stored",
	}))

	mgr, err := New(Config{BaseURL: "http://127.0.0.1:0"}, storage)
	require.NoError(t, err)
	defer mgr.Close()

	assert.False(t, mgr.HasSession())
	_, err = storage.Get(context.Background(), store.KeyAccessToken)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestCloseRejectsQueuedRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(refreshHandler(t, &calls, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		respondPair(t, w, mintToken(t, time.Hour), "")
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL, nil)
	seedSession(t, mgr, time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- mgr.QueueRequest(context.Background(), func(string) error { return nil })
	}()

	assert.Eventually(t, func() bool {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		return len(mgr.queue) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Close())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued request not released on close")
	}
}
