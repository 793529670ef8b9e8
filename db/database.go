package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"api-vuln-dashboard/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a looked up row does not exist
var ErrNotFound = errors.New("not found")

// Database represents the database connection and operations
type Database struct {
	conn             *sqlx.DB
	driver           string
	migrationManager *MigrationManager
	closed           bool
}

// NewDatabase opens a connection and applies pending migrations.
// Supported drivers are sqlite3 and postgres.
func NewDatabase(driverName, dataSourceName string) (*Database, error) {
	switch driverName {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("failed to open database: unsupported driver %q", driverName)
	}

	conn, err := sqlx.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &Database{
		conn:             conn,
		driver:           driverName,
		migrationManager: NewMigrationManager(conn, driverName),
	}

	if err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Driver returns the name of the underlying driver
func (db *Database) Driver() string {
	return db.driver
}

// Close closes the database connection
func (db *Database) Close() error {
	if db.conn == nil || db.closed {
		return nil
	}
	db.closed = true
	return db.conn.Close()
}

// Ping verifies the connection is alive
func (db *Database) Ping() error {
	return db.conn.Ping()
}

// RunMigrations runs all pending database migrations
func (db *Database) RunMigrations() error {
	return db.migrationManager.Migrate()
}

// GetMigrationStatus returns the current migration status
func (db *Database) GetMigrationStatus() ([]Migration, error) {
	return db.migrationManager.GetMigrationStatus()
}

// ListCategories returns the OWASP taxonomy ordered by id
func (db *Database) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	err := db.conn.SelectContext(ctx, &categories,
		"SELECT id, name, description FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	return categories, nil
}

// notFound maps sql.ErrNoRows onto ErrNotFound and wraps anything else
func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
