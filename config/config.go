package config

import (
	"sync"

	"github.com/spf13/viper"

	"github.com/marketbay/client-go/core/validator"
	"github.com/marketbay/client-go/log"
)

// Config loads, validates and watches a configuration target.
type Config struct {
	mu       sync.RWMutex
	viper    *viper.Viper
	validate validator.Validator
	target   any
	loader   Loader
	watch    bool
}

// Loader loads configuration into a target struct.
type Loader interface {
	// Load loads the configuration into the target.
	Load(target any) error

	// Watch invokes the callback when the configuration source changes.
	Watch(callback func()) error
}

// New creates a Config for the given target. Without an explicit loader a
// FileLoader reading "marketbay.yaml" from the working directory is used.
func New(target any, opts ...Option) *Config {
	c := &Config{
		viper:    viper.New(),
		validate: validator.Validate,
		target:   target,
		watch:    true,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.loader == nil {
		c.loader = NewFileLoader("marketbay.yaml", []string{"."}, c.viper, c.validate)
	}

	return c
}

// Load reads the configuration through the configured loader.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loader.Load(c.target)
}

// Watch reloads the target when the configuration source changes.
func (c *Config) Watch() error {
	if !c.watch {
		return nil
	}

	return c.loader.Watch(func() {
		log.Info().Msg("config change detected")

		c.mu.Lock()
		err := c.loader.Load(c.target)
		c.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Msg("failed to reload config after change")
			return
		}

		log.Info().Msg("config reloaded")
	})
}

// Option configures a Config.
type Option func(*Config)

// WithViper sets a custom viper instance.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) {
		c.viper = v
	}
}

// WithValidator sets a custom validator.
func WithValidator(v validator.Validator) Option {
	return func(c *Config) {
		c.validate = v
	}
}

// WithLoader sets the configuration loader.
func WithLoader(loader Loader) Option {
	return func(c *Config) {
		c.loader = loader
	}
}

// WithWatch enables or disables change watching.
func WithWatch(enable bool) Option {
	return func(c *Config) {
		c.watch = enable
	}
}
