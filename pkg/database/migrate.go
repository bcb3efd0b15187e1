package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Migrate applies every pending goose migration found in migrations.
func Migrate(ctx context.Context, db *sqlx.DB, migrations fs.FS, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db.DB, migrations)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, res := range results {
		logger.Info("migration applied",
			zap.Int64("version", res.Source.Version),
			zap.String("path", res.Source.Path),
			zap.Duration("duration", res.Duration),
		)
	}
	return nil
}

// MigrationStatus reports the applied state of each known migration.
func MigrationStatus(ctx context.Context, db *sqlx.DB, migrations fs.FS) ([]*goose.MigrationStatus, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, db.DB, migrations)
	if err != nil {
		return nil, fmt.Errorf("goose new provider: %w", err)
	}
	return provider.Status(ctx)
}

// Rollback reverts the most recently applied migration.
func Rollback(ctx context.Context, db *sqlx.DB, migrations fs.FS) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db.DB, migrations)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Down(ctx); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}
