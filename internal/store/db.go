// Package store persists conversations and their branching message trees
// in an embedded SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/logger"
	"github.com/capitalize-ai/localchat/pkg/metrics"
	"github.com/capitalize-ai/localchat/pkg/tracing"
)

// Store is the conversation store.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string, log *logger.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	// One connection serializes every write transaction.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&conversationRecord{}, &userMessageRecord{}, &assistantMessageRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Info("conversation store opened", zap.String("path", path))

	return &Store{
		db:  db,
		log: log.Named("store"),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// transaction runs fn atomically. fn must only use the tx handle it is given.
func (s *Store) transaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	ctx, span := tracing.Tracer().Start(ctx, "store."+op)
	defer span.End()

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(fn)
	metrics.RecordStoreTx(op, err, time.Since(start).Seconds())

	if err == nil {
		return nil
	}

	err = wrapError(op, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, model.ErrStorage) {
		s.log.Error("store transaction failed", zap.String("op", op), zap.Error(err))
	} else {
		span.SetAttributes(attribute.Bool("not_found", errors.Is(err, model.ErrNotFound)))
	}
	return err
}

func wrapError(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrAlreadyAnswered),
		errors.Is(err, model.ErrInvalidCursor):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %w", op, model.ErrStorage, err)
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
