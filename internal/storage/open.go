// Package storage opens the configured backend and hands out its stores.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"bookreview/internal/auth"
	"bookreview/internal/books"
	"bookreview/internal/mongostore"
	"bookreview/internal/reviews"
	"bookreview/pkg/database"
	"bookreview/pkg/utils"
)

type Stores struct {
	Kind    string
	Users   auth.Store
	Books   books.Store
	Reviews reviews.Store

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// Open connects to the backend named by cfg.Store and prepares its schema
// or indexes.
func Open(ctx context.Context, cfg utils.Config) (*Stores, error) {
	switch cfg.Store {
	case utils.StoreMongo:
		return openMongo(ctx, cfg)
	case utils.StoreSQLite, "":
		return openSQLite(cfg)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func openSQLite(cfg utils.Config) (*Stores, error) {
	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	slog.Info("store ready", "store", utils.StoreSQLite, "path", cfg.DBPath)
	return SQLite(db), nil
}

// SQLite wraps an already migrated database.
func SQLite(db *sql.DB) *Stores {
	return &Stores{
		Kind:    utils.StoreSQLite,
		Users:   auth.NewRepo(db),
		Books:   books.NewRepo(db),
		Reviews: reviews.NewRepo(db),
		ping:    db.PingContext,
		close:   func(context.Context) error { return db.Close() },
	}
}

func openMongo(ctx context.Context, cfg utils.Config) (*Stores, error) {
	c, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	if err := c.EnsureIndexes(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	slog.Info("store ready", "store", utils.StoreMongo, "database", cfg.MongoDatabase)
	return &Stores{
		Kind:    utils.StoreMongo,
		Users:   c.Users(),
		Books:   c.Books(),
		Reviews: c.Reviews(),
		ping:    c.Ping,
		close:   c.Close,
	}, nil
}

func (s *Stores) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

func (s *Stores) Close(ctx context.Context) error {
	return s.close(ctx)
}
