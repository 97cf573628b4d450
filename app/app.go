// Package app assembles the client: config, logger, storage, token
// manager, API client and realtime manager, with ordered teardown and
// optional signal-driven lifecycle for daemon-style hosts.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketbay/client-go/api"
	"github.com/marketbay/client-go/auth"
	"github.com/marketbay/client-go/core/tag"
	"github.com/marketbay/client-go/core/validator"
	"github.com/marketbay/client-go/errors"
	"github.com/marketbay/client-go/log"
	"github.com/marketbay/client-go/metrics"
	"github.com/marketbay/client-go/realtime"
	"github.com/marketbay/client-go/store"
	"github.com/marketbay/client-go/store/db"
	"github.com/marketbay/client-go/store/redis"
)

// Client is the assembled SDK. Auth, API and Realtime are the three
// surfaces callers use; everything else is plumbing owned by Close.
type Client struct {
	cfg     Config
	logger  *log.Logger
	metrics *metrics.Metrics
	storage store.Storage

	Auth     *auth.Manager
	API      *api.Client
	Realtime *realtime.Manager

	closeFuncs []closeFunc
	closed     bool
}

// closeFunc is one teardown step with its own timeout.
type closeFunc struct {
	name    string
	fn      func(context.Context) error
	timeout time.Duration
}

// Option adjusts assembly.
type Option func(*assembly)

type assembly struct {
	logger       *log.Logger
	storage      store.Storage
	authOpts     []auth.Option
	apiOpts      []api.Option
	realtimeOpts []realtime.Option
}

// WithLogger injects a logger instead of building one from cfg.Log.
func WithLogger(logger *log.Logger) Option {
	return func(a *assembly) {
		a.logger = logger
	}
}

// WithStorage overrides the backend selected by cfg.Storage.
func WithStorage(storage store.Storage) Option {
	return func(a *assembly) {
		a.storage = storage
	}
}

// WithAuthOptions appends options for the token manager.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(a *assembly) {
		a.authOpts = append(a.authOpts, opts...)
	}
}

// WithAPIOptions appends options for the API client.
func WithAPIOptions(opts ...api.Option) Option {
	return func(a *assembly) {
		a.apiOpts = append(a.apiOpts, opts...)
	}
}

// WithRealtimeOptions appends options for the realtime manager.
func WithRealtimeOptions(opts ...realtime.Option) Option {
	return func(a *assembly) {
		a.realtimeOpts = append(a.realtimeOpts, opts...)
	}
}

// New assembles a Client from cfg. Teardown order is the reverse of
// assembly: realtime first, storage last.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := validator.Validate.Struct(&cfg); err != nil {
		return nil, errors.BadRequest("invalid configuration: %v", err)
	}

	var a assembly
	for _, opt := range opts {
		opt(&a)
	}

	c := &Client{cfg: cfg}

	logger, err := buildLogger(cfg.Log, a.logger)
	if err != nil {
		return nil, err
	}
	c.logger = logger

	if cfg.MetricsEnabled {
		c.metrics = metrics.New()
	}

	if c.storage, err = buildStorage(cfg.Storage, a.storage, logger); err != nil {
		return nil, err
	}
	c.registerClose("storage", func(context.Context) error {
		return c.storage.Close()
	})

	authOpts := append([]auth.Option{
		auth.WithLogger(logger),
		auth.WithMetrics(c.metrics),
	}, a.authOpts...)
	if c.Auth, err = auth.New(cfg.Auth, c.storage, authOpts...); err != nil {
		c.teardown()
		return nil, err
	}
	c.registerClose("auth", func(context.Context) error {
		return c.Auth.Close()
	})

	apiOpts := append([]api.Option{api.WithLogger(logger)}, a.apiOpts...)
	if c.API, err = api.New(cfg.API, c.Auth, apiOpts...); err != nil {
		c.teardown()
		return nil, err
	}

	realtimeOpts := append([]realtime.Option{
		realtime.WithLogger(logger),
		realtime.WithMetrics(c.metrics),
	}, a.realtimeOpts...)
	if c.Realtime, err = realtime.New(cfg.Realtime, c.Auth, realtimeOpts...); err != nil {
		c.teardown()
		return nil, err
	}
	c.registerClose("realtime", func(context.Context) error {
		return c.Realtime.Close()
	})

	logger.Info().Str("storage", cfg.Storage.Backend).Msg("client assembled")
	return c, nil
}

// Logger returns the client's logger.
func (c *Client) Logger() *log.Logger {
	return c.logger
}

// Metrics returns the prometheus collectors, or nil when disabled.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Storage exposes the session storage, mainly for diagnostics.
func (c *Client) Storage() store.Storage {
	return c.storage
}

// Run blocks until ctx is cancelled or a shutdown signal arrives, then
// closes the client. For hosts that manage their own lifecycle, call
// Close directly instead.
func (c *Client) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		c.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	return c.Close()
}

// Close tears the client down in reverse assembly order. Each step gets
// its own timeout; a panicking step is contained and logged.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.teardown()
	return nil
}

func (c *Client) registerClose(name string, fn func(context.Context) error) {
	c.closeFuncs = append(c.closeFuncs, closeFunc{
		name:    name,
		fn:      fn,
		timeout: 10 * time.Second,
	})
}

func (c *Client) teardown() {
	for i := len(c.closeFuncs) - 1; i >= 0; i-- {
		c.runCloseTask(c.closeFuncs[i])
	}
	c.closeFuncs = nil
}

func (c *Client) runCloseTask(task closeFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), task.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Str("close", task.name).
					Msg("close function panicked")
				done <- errors.Internal("close %s panicked", task.name)
			}
		}()
		done <- task.fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn().Err(err).Str("close", task.name).Msg("close function failed")
		}
	case <-ctx.Done():
		c.logger.Warn().Str("close", task.name).Msg("close function timed out")
	}
}

func buildLogger(cfg LogConfig, injected *log.Logger) (*log.Logger, error) {
	if injected != nil {
		return injected, nil
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.BadRequest("unknown log level %q", cfg.Level)
	}

	if cfg.File != nil {
		return log.NewFile(*cfg.File, log.WithLevel(level))
	}
	return log.New(log.WithLevel(level)), nil
}

func buildStorage(cfg StorageConfig, injected store.Storage, logger *log.Logger) (store.Storage, error) {
	if injected != nil {
		return injected, nil
	}

	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return db.New(cfg.SQLite)
	case "redis":
		return redis.New(&cfg.Redis, redis.WithLogger(logger))
	default:
		return nil, errors.BadRequest("unknown storage backend %q", cfg.Backend)
	}
}
