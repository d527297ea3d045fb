package db

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migrate applies all pending goose migrations found in dir of fsys.
func Migrate(ctx context.Context, pool *Pool, fsys fs.FS, dir string, logger *slog.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	// goose works with *sql.DB; borrow one backed by the pool.
	sqlDB := stdlib.OpenDBFromPool(pool.Pool)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("get migration version: %w", err)
	}
	if logger != nil {
		logger.Info("migrations applied", "version", version)
	}
	return nil
}
