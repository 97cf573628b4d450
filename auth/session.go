package auth

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/marketbay/client-go/core/token"
	"github.com/marketbay/client-go/store"
)

// Profile is the authenticated user's identity as the backend reports it.
type Profile struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	VendorID string `json:"vendor_id,omitempty"`
}

// Session is the in-memory view of the authenticated state. The storage
// layer holds the durable copy; Session caches it together with the
// decoded access-token claims.
type Session struct {
	Access  string
	Refresh string
	Claims  *token.Claims
	Profile *Profile
}

// newSession decodes the access token and builds the cached session.
// A malformed access token is rejected, never defaulted.
func newSession(pair token.Pair, profile *Profile) (*Session, error) {
	claims, err := token.Decode(pair.AccessToken)
	if err != nil {
		return nil, err
	}

	return &Session{
		Access:  pair.AccessToken,
		Refresh: pair.RefreshToken,
		Claims:  claims,
		Profile: profile,
	}, nil
}

// loadSession rebuilds the cached session from storage. Returns nil
// without error when no session is stored.
func loadSession(ctx context.Context, storage store.Storage) (*Session, error) {
	access, err := storage.Get(ctx, store.KeyAccessToken)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	refresh, err := storage.Get(ctx, store.KeyRefreshToken)
	if err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		return nil, err
	}

	var profile *Profile
	if raw, err := storage.Get(ctx, store.KeyProfile); err == nil {
		profile = &Profile{}
		if err := json.Unmarshal([]byte(raw), profile); err != nil {
			profile = nil
		}
	}

	return newSession(token.Pair{AccessToken: access, RefreshToken: refresh}, profile)
}

// persist writes the session to storage atomically: the old pair is only
// gone once the new one is durably stored.
func (s *Session) persist(ctx context.Context, storage store.Storage) error {
	values := map[string]string{
		store.KeyAccessToken:  s.Access,
		store.KeyRefreshToken: s.Refresh,
	}

	if s.Profile != nil {
		raw, err := json.Marshal(s.Profile)
		if err != nil {
			return err
		}
		values[store.KeyProfile] = string(raw)
		if s.Profile.VendorID != "" {
			values[store.KeyVendorID] = s.Profile.VendorID
		}
	}

	return storage.SetMany(ctx, values)
}

// clearStoredSession removes every session key from storage.
func clearStoredSession(ctx context.Context, storage store.Storage) error {
	var errs []error
	for _, key := range []string{
		store.KeyAccessToken,
		store.KeyRefreshToken,
		store.KeyProfile,
		store.KeyVendorID,
	} {
		if err := storage.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
