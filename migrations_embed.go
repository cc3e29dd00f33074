package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"dinechain/db"

	"go.uber.org/zap"
)

// Embed migrations into the binary so `dinechain migrate` works
// regardless of the current working directory.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations are idempotent and applied in file name order on every run.
func applyMigrations(ctx context.Context, logger *zap.Logger) error {
	if db.Pool == nil {
		return fmt.Errorf("database not initialised")
	}
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		logger.Info("migration applied", zap.String("file", name))
	}
	return nil
}
