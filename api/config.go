package api

import (
	"net/http"

	"github.com/marketbay/client-go/core/rate"
	"github.com/marketbay/client-go/log"
)

// Config tunes the API client.
type Config struct {
	// BaseURL is the REST backend root, e.g. "https://api.marketbay.io".
	BaseURL string `json:"base_url" validate:"required,url"`

	// UserAgent is sent on every request.
	UserAgent string `json:"user_agent" default:"marketbay-client-go"`
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpc = client
	}
}

// WithRoutes replaces the default route table.
func WithRoutes(routes *RouteTable) Option {
	return func(c *Client) {
		c.routes = routes
	}
}

// WithLimiter self-throttles outbound requests; a denied request fails
// locally with a 429 before reaching the network.
func WithLimiter(limiter rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}
