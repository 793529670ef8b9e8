package db

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
	Applied     bool
}

// MigrationManager handles database migrations
type MigrationManager struct {
	db         *sqlx.DB
	migrations fs.FS
	dir        string
}

// NewMigrationManager creates a migration manager reading the embedded
// migrations written for driver
func NewMigrationManager(db *sqlx.DB, driver string) *MigrationManager {
	return &MigrationManager{
		db:         db,
		migrations: migrationsFS,
		dir:        path.Join("migrations", driver),
	}
}

// EnsureMigrationTable creates the schema_migrations table if it doesn't exist
func (m *MigrationManager) EnsureMigrationTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	return nil
}

// GetAppliedMigrations returns the set of applied migration versions
func (m *MigrationManager) GetAppliedMigrations() (map[string]bool, error) {
	var versions []string
	if err := m.db.Select(&versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// LoadMigrations loads all migration files for the configured driver
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	files, err := fs.Glob(m.migrations, path.Join(m.dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations found in %s", m.dir)
	}

	// Sort files by name to ensure proper order
	sort.Strings(files)

	var migrations []Migration
	for _, file := range files {
		content, err := fs.ReadFile(m.migrations, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		// Extract version from filename (e.g., 001_initial_schema.sql -> 001)
		filename := path.Base(file)
		parts := strings.Split(filename, "_")
		if len(parts) < 2 {
			logrus.Warnf("migration file %s doesn't follow naming convention (XXX_description.sql)", filename)
			continue
		}

		migrations = append(migrations, Migration{
			Version:     parts[0],
			Description: strings.TrimSuffix(strings.Join(parts[1:], "_"), ".sql"),
			SQL:         string(content),
		})
	}

	return migrations, nil
}

// ApplyMigration applies a single migration
func (m *MigrationManager) ApplyMigration(migration Migration) error {
	tx, err := m.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
	}

	_, err = tx.Exec(tx.Rebind(`
		INSERT INTO schema_migrations (version, description)
		VALUES (?, ?) ON CONFLICT (version) DO NOTHING`),
		migration.Version, migration.Description)
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", migration.Version, err)
	}

	logrus.Infof("Applied migration %s: %s", migration.Version, migration.Description)
	return nil
}

// Migrate runs all pending migrations
func (m *MigrationManager) Migrate() error {
	if err := m.EnsureMigrationTable(); err != nil {
		return err
	}

	appliedMigrations, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return err
	}

	pendingCount := 0
	for _, migration := range migrations {
		if !appliedMigrations[migration.Version] {
			if err := m.ApplyMigration(migration); err != nil {
				return err
			}
			pendingCount++
		}
	}

	if pendingCount == 0 {
		logrus.Debug("No pending migrations to apply")
	} else {
		logrus.Infof("Applied %d migrations successfully", pendingCount)
	}

	return nil
}

// GetMigrationStatus returns the current migration status
func (m *MigrationManager) GetMigrationStatus() ([]Migration, error) {
	if err := m.EnsureMigrationTable(); err != nil {
		return nil, err
	}

	appliedMigrations, err := m.GetAppliedMigrations()
	if err != nil {
		return nil, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}

	for i := range migrations {
		migrations[i].Applied = appliedMigrations[migrations[i].Version]
	}

	return migrations, nil
}
