// internal/pkg/database/migrate.go
package database

import (
	"context"
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"

	"fraudguard/internal/pkg/config"
	"fraudguard/internal/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate 将 transactions 表迁移到最新版本，返回迁移前后的版本号。
func Migrate(ctx context.Context, cfg config.MySQLConfig) (before, after uint, err error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return 0, 0, errors.Wrap(err, "sql.Open")
	}
	defer db.Close()

	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		return 0, 0, errors.Wrap(err, "mysql.WithInstance")
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, 0, errors.Wrap(err, "iofs.New")
	}
	m, err := migrate.NewWithInstance("iofs", source, "mysql", driver)
	if err != nil {
		return 0, 0, errors.Wrap(err, "migrate.NewWithInstance")
	}

	before, _, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, 0, errors.Wrap(err, "read version before migration")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return before, before, errors.Wrap(err, "migrate up")
	}

	after, _, err = m.Version()
	if err != nil {
		return before, 0, errors.Wrap(err, "read version after migration")
	}

	logger.Ctx(ctx).Info().
		Uint("pre_migration_version", before).
		Uint("post_migration_version", after).
		Msg("Migration status")
	return before, after, nil
}
