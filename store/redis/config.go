package redis

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketbay/client-go/core/tag"
)

// Config configures the redis-backed store. Single-node, cluster and
// sentinel deployments are all expressed through Addrs.
type Config struct {
	// Addrs holds one address for single-node mode, several for cluster
	// mode, or sentinel addresses when MasterName is set.
	Addrs []string `json:"addrs" default:"localhost:6379"`

	// MasterName selects sentinel mode when non-empty.
	MasterName string `json:"master_name"`

	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`

	// Protocol is the RESP version.
	Protocol int `json:"protocol" default:"3"`

	DialTimeout  time.Duration `json:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" default:"3s"`

	PoolSize     int `json:"pool_size"`
	MinIdleConns int `json:"min_idle_conns"`

	// Namespace prefixes every key and the broadcast channel so several
	// applications can share one redis.
	Namespace string `json:"namespace" default:"marketbay"`
}

// ApplyDefaults fills zero fields from struct tags.
func (c *Config) ApplyDefaults() error {
	return tag.ApplyDefaults(c)
}

func (c *Config) universalOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:      c.Addrs,
		MasterName: c.MasterName,
		Username:   c.Username,
		Password:   c.Password,
		DB:         c.DB,
		Protocol:   c.Protocol,

		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,

		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
