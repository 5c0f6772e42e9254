package repository

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/seedream-pipeline/db/migrations"
)

const migrationTable = "schema_migrations"

// Migrate applies the bundled migrations for the connection's dialect, at
// most once per file.
func (d *DB) Migrate(ctx context.Context) error {
	root := "sqlite"
	if d.dialect == dialect.Postgres {
		root = "postgres"
	}
	return d.applyMigrations(ctx, migrations.FS, root)
}

func (d *DB) applyMigrations(ctx context.Context, migrationFS fs.FS, root string) error {
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
);
`, migrationTable)
	if err := d.drv.Exec(ctx, createSQL, []any{}, nil); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range sqlFiles {
		key := path.Join(root, file)
		applied, err := d.migrationApplied(ctx, key)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(migrationFS, key)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := extractUpMigration(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		err = d.withTx(ctx, func(tx dialect.Tx) error {
			for _, stmt := range splitStatements(upSQL) {
				if err := tx.Exec(ctx, stmt, []any{}, nil); err != nil {
					return fmt.Errorf("exec migration %s: %w", file, err)
				}
			}
			query, args := d.builder().
				Insert(migrationTable).
				Columns("name", "applied_at").
				Values(key, time.Now().UTC().UnixMilli()).
				Query()
			if err := tx.Exec(ctx, query, args, nil); err != nil {
				return fmt.Errorf("record migration %s: %w", file, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		d.log.Info("migration applied", "name", key)
	}
	return nil
}

func (d *DB) migrationApplied(ctx context.Context, key string) (bool, error) {
	query, args := d.builder().
		Select(entsql.Count("*")).
		From(entsql.Table(migrationTable)).
		Where(entsql.EQ("name", key)).
		Query()
	rows := &entsql.Rows{}
	if err := d.drv.Query(ctx, query, args, rows); err != nil {
		return false, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, err
		}
	}
	return n > 0, rows.Err()
}

// extractUpMigration returns the SQL in the -- +migrate Up section.
func extractUpMigration(content string) string {
	upIdx := strings.Index(content, "-- +migrate Up")
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, "-- +migrate Down")
	if downIdx == -1 {
		return content[upIdx+len("-- +migrate Up"):]
	}
	return content[upIdx+len("-- +migrate Up") : downIdx]
}

// splitStatements splits on semicolons that end a line. Migrations never
// embed semicolons inside literals.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";\n") {
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
