// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtyMigration は途中で失敗したマイグレーションが残っていることを示す。
// 手動で修正してから force する必要がある。
var ErrDirtyMigration = errors.New("database schema is dirty")

// NewMigrator はストアコンテナ用スキーマのmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。
// ctx が取り消された場合は実行中のマイグレーションの完了後に停止する。
func RunMigrations(ctx context.Context, databaseURL string, logger *slog.Logger) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("migrations not started: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	stop := context.AfterFunc(ctx, func() {
		select {
		case m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	before, _, err := currentVersion(m)
	if err != nil {
		return 0, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("migrations interrupted: %w", err)
	}

	version, dirty, err := currentVersion(m)
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("%w: version %d", ErrDirtyMigration, version)
	}

	logger.Info("database schema migrated",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("version", uint64(version)),
		slog.Bool("changed", before != version),
	)
	return version, nil
}

// currentVersion は適用済みバージョンを返す。未適用の場合は 0。
func currentVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}
