// Package database はPostgreSQLとRedisへの接続、スキーママイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator は埋め込みSQLを元にしたmigrateインスタンスを生成する。
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

// MigrationResult はマイグレーション実行後のスキーマ状態。
type MigrationResult struct {
	Version uint
	// Changed は今回の実行で1件以上適用されたか。
	Changed bool
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後のバージョンを返す。
// dirtyな状態が残っている場合は手動での修復が必要なためエラーを返す。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	changed := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationResult{}, fmt.Errorf("failed to run migrations: %w", err)
		}
		changed = false
	}

	version, dirty, err := m.Version()
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return MigrationResult{}, fmt.Errorf("migration version %d is dirty", version)
	}

	return MigrationResult{Version: version, Changed: changed}, nil
}
