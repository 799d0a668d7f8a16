// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateLogger はgolang-migrateのログをslogに流す。
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Info("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (migrateLogger) Verbose() bool { return false }

// withMigrator は埋め込みマイグレーションを読み込んだmigrateインスタンスでfnを実行し、
// 実行後のスキーマバージョンを返す。未適用の場合は0を返す。
func withMigrator(databaseURL string, fn func(*migrate.Migrate) error) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{}

	if err := fn(m); err != nil {
		return 0, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// RunMigrations はすべてのマイグレーションを適用し、適用後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) (uint, error) {
	return withMigrator(databaseURL, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
}

// RollbackMigration は直近1件のマイグレーションを取り消し、取り消し後のバージョンを返す。
// 適用済みマイグレーションがない場合はエラーなしで返る。
func RollbackMigration(databaseURL string) (uint, error) {
	return withMigrator(databaseURL, func(m *migrate.Migrate) error {
		err := m.Steps(-1)
		if err == nil {
			return nil
		}
		var short migrate.ErrShortLimit
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, migrate.ErrNilVersion) || errors.As(err, &short) {
			return nil
		}
		return fmt.Errorf("failed to rollback migration: %w", err)
	})
}
