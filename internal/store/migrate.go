/**
 * @description
 * Startup schema migration. goose runs the embedded SQL migrations over a
 * short-lived database/sql connection (goose does not speak pgx native),
 * separate from the pgxpool the repository uses.
 *
 * @dependencies
 * - github.com/pressly/goose/v3: Migration runner.
 * - github.com/jackc/pgx/v5/stdlib: database/sql driver for goose.
 */

package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/admitly/application-service/internal/store/migrations"
)

// RunMigrations applies all pending migrations against the database at dsn.
func RunMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("db open error: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}
