package store

import (
	"context"
	"embed"

	"bridgeguard/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	dialect := "sqlite3"
	dir := "migrations/sqlite"
	if db.Driver == DriverPostgres {
		dialect = "postgres"
		dir = "migrations/postgres"
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return err
	}
	if logger != nil {
		logger.Infof("store: migrations applied (%s)", db.Driver)
	}
	return nil
}
