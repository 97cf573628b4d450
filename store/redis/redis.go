// Package redis provides the redis-backed Storage. Unlike the memory and
// sqlite backends its Watch spans processes: every mutation is published
// on a pub/sub channel, which is how session revocation in one client
// instance reaches all the others.
package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/marketbay/client-go/log"
	"github.com/marketbay/client-go/store"
)

// ErrInvalidConfig is returned for a nil config.
var ErrInvalidConfig = errors.New("redis store: invalid config")

// Store is the redis-backed Storage.
type Store struct {
	client    redis.UniversalClient
	config    *Config
	logger    *log.Logger
	channel   string
	keyPrefix string
}

// Option configures the store.
type Option func(*options)

type options struct {
	logger        *log.Logger
	enableTracing bool
	hooks         []redis.Hook
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracing instruments the client with OpenTelemetry tracing.
func WithTracing() Option {
	return func(o *options) {
		o.enableTracing = true
	}
}

// WithHook adds a custom hook.
func WithHook(hook redis.Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hook)
	}
}

// New connects to redis and verifies the connection.
func New(cfg *Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.G
	}

	client := redis.NewUniversalClient(cfg.universalOptions())

	var success bool
	defer func() {
		if !success {
			_ = client.Close()
		}
	}()

	for _, hook := range o.hooks {
		client.AddHook(hook)
	}
	if o.enableTracing {
		if err := redisotel.InstrumentTracing(client); err != nil {
			return nil, err
		}
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	success = true
	s := &Store{
		client:    client,
		config:    cfg,
		logger:    o.logger,
		channel:   cfg.Namespace + ".changes",
		keyPrefix: cfg.Namespace + ".",
	}
	s.logger.Debug().Interface("addrs", cfg.Addrs).Msg("redis store connected")
	return s, nil
}

func (s *Store) key(key string) string {
	return s.keyPrefix + key
}

// Get implements store.Storage.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", store.ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set implements store.Storage.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return err
	}
	return s.publish(ctx, store.Change{Key: key, NewValue: value, Op: store.OpSet})
}

// SetMany implements store.Storage. Keys go out in one MULTI/EXEC so the
// token-pair swap is atomic for every reader.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	pipe := s.client.TxPipeline()
	for k, v := range values {
		pipe.Set(ctx, s.key(k), v, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	for k, v := range values {
		if err := s.publish(ctx, store.Change{Key: k, NewValue: v, Op: store.OpSet}); err != nil {
			return err
		}
	}
	return nil
}

// Remove implements store.Storage.
func (s *Store) Remove(ctx context.Context, key string) error {
	removed, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return err
	}
	if removed > 0 {
		return s.publish(ctx, store.Change{Key: key, Op: store.OpRemove})
	}
	return nil
}

// Watch implements store.Storage through pub/sub, so changes made by any
// process holding the same session are observed here.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	sub := s.client.Subscribe(ctx, s.channel)

	// Force the subscription before returning so no change is missed
	// between Watch and the first receive.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := make(chan store.Change, 16)
	go func() {
		defer close(ch)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var change store.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					s.logger.Warn().Err(err).Msg("dropping malformed change notification")
					continue
				}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

func (s *Store) publish(ctx context.Context, change store.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

// Close implements store.Storage.
func (s *Store) Close() error {
	err := s.client.Close()
	s.logger.Debug().Msg("redis store closed")
	return err
}
