// Package gormstore keeps protocol state in SQLite or MySQL through gorm.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/collapsinghierarchy/quorum/store"
)

const maxAttempts = 5

type dialect int

const (
	dialectSQLite dialect = iota
	dialectMySQL
)

type gormStore struct {
	db      *gorm.DB
	dialect dialect
	logger  *slog.Logger
	// SQLite allows a single writer; Update calls queue here instead of
	// failing with SQLITE_BUSY.
	writeMu sync.Mutex
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}
}

// OpenSQLite opens quorum.sqlite under dataDir, creating the directory if
// needed. An empty dataDir gives a private in-memory database.
func OpenSQLite(dataDir string, logger *slog.Logger) (store.Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = fmt.Sprintf("file:quorum-%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
			filepath.Join(dataDir, "quorum.sqlite"))
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one connection keeps the in-memory database alive and serialises access
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return newStore(db, dialectSQLite, logger)
}

// OpenMySQL connects with a go-sql-driver DSN. parseTime is forced on.
func OpenMySQL(dsn string, logger *slog.Logger) (store.Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	db, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), gormConfig())
	if err != nil {
		return nil, err
	}
	return newStore(db, dialectMySQL, logger)
}

func newStore(db *gorm.DB, d dialect, logger *slog.Logger) (*gormStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &gormStore{db: db, dialect: d, logger: logger.With("component", "gormstore")}
	for _, m := range migrateModels {
		s.logger.Debug(fmt.Sprintf("creating table: %T", m))
		if err := db.AutoMigrate(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	if s.dialect == dialectSQLite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormTx{db: tx})
		})
	}
	return s.retry(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (s *gormStore) View(ctx context.Context, fn func(store.Tx) error) error {
	if s.dialect == dialectSQLite {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormTx{db: tx})
		})
	}
	return s.retry(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (s *gormStore) retry(ctx context.Context, opts *sql.TxOptions, fn func(store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&gormTx{db: tx, lockRows: true})
		}, opts)
		if !retryable(err) {
			return err
		}
		s.logger.Debug("retrying transaction", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

// retryable reports deadlocks (1213) and lock wait timeouts (1205).
func retryable(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == 1213 || myErr.Number == 1205
}
