package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrStoreUnavailable marks failures to obtain a connection from the pool.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidPoints is returned when a score event would not grant a positive amount.
	ErrInvalidPoints = errors.New("points must be positive")
)

// Store hands out sessions bound to a single pooled connection.
type Store struct {
	db      *gorm.DB
	dialect dialect
	now     func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for joined_at and score timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialectFor(db),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSession acquires a connection, runs fn with a Session bound to it and
// releases the connection on every exit path.
func (s *Store) WithSession(ctx context.Context, fn func(*Session) error) error {
	acquired := false
	err := s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		acquired = true
		return fn(&Session{db: conn, dialect: s.dialect, now: s.now})
	})
	if err != nil && !acquired {
		return fmt.Errorf("acquire session: %w", errors.Join(ErrStoreUnavailable, err))
	}
	return err
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Session runs query operations on one connection. Every operation is its own
// transaction and commits before returning.
type Session struct {
	db      *gorm.DB
	dialect dialect
	now     func() time.Time
}

func (s *Session) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Session) timestamp() time.Time {
	return s.now().UTC()
}
