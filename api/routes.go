package api

import (
	"sort"
	"strings"
	"sync"
)

// RouteClass declares what a route needs from the session layer.
type RouteClass int

const (
	// ClassPublic routes carry no credentials at all.
	ClassPublic RouteClass = iota
	// ClassAuth routes are the auth endpoints themselves: a bearer token
	// is attached when present, but a 401 from them never triggers a
	// refresh cycle.
	ClassAuth
	// ClassProtected routes require a valid session.
	ClassProtected
	// ClassVendor routes additionally require a vendor scope and carry
	// the X-Vendor-ID header.
	ClassVendor
)

func (c RouteClass) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassAuth:
		return "auth"
	case ClassProtected:
		return "protected"
	case ClassVendor:
		return "vendor"
	}
	return "unknown"
}

// RouteTable classifies request paths by longest matching prefix.
// Unlisted paths default to ClassProtected so a forgotten registration
// fails towards requiring auth, never towards leaking an unauthenticated
// call.
type RouteTable struct {
	mu       sync.RWMutex
	prefixes []routeEntry // sorted longest-first
}

type routeEntry struct {
	prefix string
	class  RouteClass
}

// NewRouteTable builds a table from prefix to class.
func NewRouteTable(routes map[string]RouteClass) *RouteTable {
	t := &RouteTable{}
	for prefix, class := range routes {
		t.prefixes = append(t.prefixes, routeEntry{prefix: prefix, class: class})
	}
	t.sortLocked()
	return t
}

// DefaultRoutes covers the storefront backend surface.
func DefaultRoutes() *RouteTable {
	return NewRouteTable(map[string]RouteClass{
		"/api/products/":   ClassPublic,
		"/api/categories/": ClassPublic,
		"/api/search/":     ClassPublic,
		"/api/vendors/":    ClassPublic,

		"/api/token/": ClassAuth,
		"/api/auth/":  ClassAuth,

		"/api/cart/":    ClassProtected,
		"/api/orders/":  ClassProtected,
		"/api/profile/": ClassProtected,
		"/api/chat/":    ClassProtected,

		"/api/vendor/": ClassVendor,
	})
}

// Register adds or replaces a prefix.
func (t *RouteTable) Register(prefix string, class RouteClass) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.prefixes {
		if e.prefix == prefix {
			t.prefixes[i].class = class
			return
		}
	}
	t.prefixes = append(t.prefixes, routeEntry{prefix: prefix, class: class})
	t.sortLocked()
}

// Classify returns the class of the longest registered prefix matching
// path, or ClassProtected when nothing matches.
func (t *RouteTable) Classify(path string) RouteClass {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.prefixes {
		if strings.HasPrefix(path, e.prefix) {
			return e.class
		}
	}
	return ClassProtected
}

func (t *RouteTable) sortLocked() {
	sort.Slice(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].prefix) > len(t.prefixes[j].prefix)
	})
}
