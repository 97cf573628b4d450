// Package store defines the durable client storage contract the session
// layer persists through: a string key-value store with change
// notifications.
//
// Watch is the platform-neutral equivalent of browser storage events: every
// other holder of the same session observes token writes and removals
// through it. The memory backend fans changes out in-process, the redis
// backend broadcasts them over pub/sub across processes; the sqlite backend
// notifies within its own process only.
package store

import (
	"context"
	"errors"
)

// Keys used by the session layer.
const (
	KeyAccessToken  = "marketbay.access_token"
	KeyRefreshToken = "marketbay.refresh_token"
	KeyProfile      = "marketbay.profile"
	KeyVendorID     = "marketbay.vendor_id"
)

// ErrKeyNotFound is returned by Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// Op describes what happened to a key.
type Op int

const (
	// OpSet means the key was written.
	OpSet Op = iota
	// OpRemove means the key was deleted.
	OpRemove
)

// Change is a single storage mutation observed through Watch.
type Change struct {
	Key      string `json:"key"`
	NewValue string `json:"new_value,omitempty"`
	Op       Op     `json:"op"`
}

// Storage is the durable client storage contract.
type Storage interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a single key.
	Set(ctx context.Context, key, value string) error

	// SetMany writes several keys atomically. The session layer relies on
	// this for the access/refresh pair swap: the old pair is only
	// discarded once the new one is durably stored.
	SetMany(ctx context.Context, values map[string]string) error

	// Remove deletes a key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Watch delivers mutations until ctx is done. Watchers that fall
	// behind may miss intermediate values but always observe the latest
	// state eventually.
	Watch(ctx context.Context) (<-chan Change, error)

	// Close releases backend resources.
	Close() error
}
