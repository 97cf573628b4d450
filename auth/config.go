package auth

import (
	"net/http"
	"time"

	"github.com/marketbay/client-go/core/backoff"
	"github.com/marketbay/client-go/log"
	"github.com/marketbay/client-go/metrics"
)

// Config tunes the token manager.
type Config struct {
	// BaseURL is the REST backend root, e.g. "https://api.marketbay.io".
	BaseURL string `json:"base_url" validate:"required,url"`

	// RefreshPath is the token refresh endpoint.
	RefreshPath string `json:"refresh_path" default:"/api/token/refresh/"`

	// RefreshThreshold is the remaining lifetime below which the access
	// token is renewed.
	RefreshThreshold time.Duration `json:"refresh_threshold" default:"5m"`

	// MinRefreshInterval is the minimum spacing between refresh attempts.
	MinRefreshInterval time.Duration `json:"min_refresh_interval" default:"30s"`

	// RefreshTimeout bounds one refresh network call.
	RefreshTimeout time.Duration `json:"refresh_timeout" default:"10s"`

	// MaxRetries is the retry budget for transient refresh failures.
	MaxRetries int `json:"max_retries" default:"3"`

	// LogoutPath is the backend logout endpoint. Empty disables the
	// best-effort server-side logout call.
	LogoutPath string `json:"logout_path" default:"/api/auth/logout/"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client used for refresh calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpc = client
	}
}

// WithBackoff replaces the retry-delay strategy.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(m *Manager) {
		m.backoff = strategy
	}
}

// WithMetrics wires prometheus collectors.
func WithMetrics(mets *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mets
	}
}

// WithRevalidationSchedule runs EnsureValidToken on a cron schedule
// (e.g. "@every 5m") as a backstop for hosts without visibility or
// connectivity signals.
func WithRevalidationSchedule(spec string) Option {
	return func(m *Manager) {
		m.revalidateSpec = spec
	}
}
