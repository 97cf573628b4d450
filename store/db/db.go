// Package db provides the sqlite-backed Storage used when the host
// application wants session state to survive restarts. Change
// notifications are process-local; multi-process deployments should use
// the redis backend instead.
package db

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marketbay/client-go/core/tag"
	"github.com/marketbay/client-go/log"
	"github.com/marketbay/client-go/store"
)

// Config configures the sqlite store.
type Config struct {
	// FilePath is the database file location.
	FilePath string `json:"file_path" default:"./marketbay.db"`

	JournalMode string `json:"journal_mode" default:"WAL"`
	BusyTimeout int    `json:"busy_timeout" default:"5000"`
	SyncMode    string `json:"sync_mode" default:"NORMAL"`
}

// DSN builds the sqlite connection string.
func (c *Config) DSN() string {
	var b strings.Builder
	b.Grow(128)

	b.WriteString("file:")
	b.WriteString(c.FilePath)
	b.WriteString("?_journal_mode=")
	b.WriteString(c.JournalMode)
	b.WriteString("&_busy_timeout=")
	b.WriteString(strconv.Itoa(c.BusyTimeout))
	b.WriteString("&_synchronous=")
	b.WriteString(c.SyncMode)

	return b.String()
}

// record is one stored key/value.
type record struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     string
	UpdatedAt time.Time
}

func (record) TableName() string {
	return "client_kv"
}

// Store is the sqlite-backed Storage.
type Store struct {
	db       *gorm.DB
	logger   *log.Logger
	notifier *store.Notifier
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New opens (and migrates) the sqlite store.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}

	s := &Store{
		notifier: store.NewNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.G
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, err
	}

	s.db = db
	s.logger.Debug().Str("path", cfg.FilePath).Msg("sqlite store opened")
	return s, nil
}

// Get implements store.Storage.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var rec record
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", store.ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

// Set implements store.Storage.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.upsert(s.db.WithContext(ctx), key, value); err != nil {
		return err
	}

	s.notifier.Notify(store.Change{Key: key, NewValue: value, Op: store.OpSet})
	return nil
}

// SetMany implements store.Storage. All keys are written in one
// transaction so a token-pair swap is atomic on disk.
func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			if err := s.upsert(tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for k, v := range values {
		s.notifier.Notify(store.Change{Key: k, NewValue: v, Op: store.OpSet})
	}
	return nil
}

func (s *Store) upsert(tx *gorm.DB, key, value string) error {
	rec := record{Key: key, Value: value, UpdatedAt: time.Now()}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

// Remove implements store.Storage.
func (s *Store) Remove(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).Delete(&record{}, "key = ?", key)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		s.notifier.Notify(store.Change{Key: key, Op: store.OpRemove})
	}
	return nil
}

// Watch implements store.Storage. Notifications are process-local.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	return s.notifier.Watch(ctx)
}

// Close implements store.Storage.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
