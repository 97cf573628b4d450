package app

import (
	"github.com/marketbay/client-go/api"
	"github.com/marketbay/client-go/auth"
	"github.com/marketbay/client-go/log"
	"github.com/marketbay/client-go/realtime"
	"github.com/marketbay/client-go/store/db"
	"github.com/marketbay/client-go/store/redis"
)

// Config is the full client configuration, loadable through the config
// package from marketbay.yaml.
type Config struct {
	// BaseURL is the REST backend root. It seeds Auth.BaseURL and
	// API.BaseURL when those are left empty.
	BaseURL string `json:"base_url"`

	// WSBaseURL is the WebSocket backend root, seeding
	// Realtime.WSBaseURL when empty.
	WSBaseURL string `json:"ws_base_url"`

	Auth     auth.Config     `json:"auth"`
	API      api.Config      `json:"api"`
	Realtime realtime.Config `json:"realtime"`
	Storage  StorageConfig   `json:"storage"`
	Log      LogConfig       `json:"log"`

	// MetricsEnabled wires prometheus collectors into the managers.
	MetricsEnabled bool `json:"metrics_enabled"`
}

// StorageConfig selects and tunes the session storage backend.
type StorageConfig struct {
	// Backend is one of memory, sqlite, redis.
	Backend string `json:"backend" default:"sqlite" validate:"oneof=memory sqlite redis"`

	SQLite db.Config    `json:"sqlite"`
	Redis  redis.Config `json:"redis"`
}

// LogConfig tunes the default logger built when none is injected.
type LogConfig struct {
	// Level is a zerolog level name.
	Level string `json:"level" default:"info"`

	// File, when set, switches from console to rotating file output.
	File *log.FileConfig `json:"file"`
}

// normalize propagates the top-level backend roots into component
// configs that were left empty.
func (c *Config) normalize() {
	if c.Auth.BaseURL == "" {
		c.Auth.BaseURL = c.BaseURL
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = c.BaseURL
	}
	if c.Realtime.WSBaseURL == "" {
		c.Realtime.WSBaseURL = c.WSBaseURL
	}
}
