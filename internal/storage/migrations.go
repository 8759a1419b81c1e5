package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies every migration in migrations/ not yet recorded in
// the _migrations table, in file name order.
func RunMigrations(db *DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			name TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := appliedMigrations(db.DB)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	migrations, err := migrationFiles()
	if err != nil {
		return fmt.Errorf("reading migration files: %w", err)
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		if err := db.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.content); err != nil {
				return fmt.Errorf("executing SQL: %w", err)
			}
			if _, err := tx.Exec("INSERT INTO _migrations (name) VALUES (?)", m.name); err != nil {
				return fmt.Errorf("recording migration: %w", err)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		slog.Info("[STORAGE] migration applied", "name", m.name)
	}
	return nil
}

type migration struct {
	name    string
	content string
}

func appliedMigrations(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT name FROM _migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func migrationFiles() ([]migration, error) {
	var migrations []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		migrations = append(migrations, migration{name: path.Base(p), content: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Numeric prefixes make name order application order.
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].name < migrations[j].name
	})
	return migrations, nil
}
