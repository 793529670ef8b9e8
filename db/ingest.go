package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"api-vuln-dashboard/models"

	"github.com/jmoiron/sqlx"
)

// IngestTx is the write transaction of one report file. Nothing written
// through it is visible to readers before Commit.
type IngestTx struct {
	tx *sqlx.Tx
}

// BeginIngest opens the transaction used to ingest one report file
func (db *Database) BeginIngest(ctx context.Context) (*IngestTx, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	return &IngestTx{tx: tx}, nil
}

// Commit makes the ingested rows visible
func (t *IngestTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest transaction: %w", err)
	}
	return nil
}

// Rollback discards everything written in the transaction. Calling it after
// Commit is a no-op.
func (t *IngestTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back ingest transaction: %w", err)
	}
	return nil
}

// LatestScanDate returns the most recent scan timestamp stored for url
func (t *IngestTx) LatestScanDate(ctx context.Context, url string) (time.Time, bool, error) {
	var latest time.Time
	err := t.tx.GetContext(ctx, &latest, t.tx.Rebind(`
		SELECT scan_date FROM scans
		WHERE scan_url = ?
		ORDER BY scan_date DESC
		LIMIT 1`), url)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest scan for %s: %w", url, err)
	}
	return latest.UTC(), true, nil
}

// EnsureTool returns the id of the named tool, creating it on first sighting
func (t *IngestTx) EnsureTool(ctx context.Context, name string) (int, error) {
	var id int
	err := t.tx.GetContext(ctx, &id, t.tx.Rebind("SELECT id FROM tools WHERE name = ?"), name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to query tool %q: %w", name, err)
	}

	err = t.tx.GetContext(ctx, &id, t.tx.Rebind("INSERT INTO tools (name) VALUES (?) RETURNING id"), name)
	if err != nil {
		return 0, fmt.Errorf("failed to create tool %q: %w", name, err)
	}
	return id, nil
}

// InsertScan stores scan and sets its generated ID
func (t *IngestTx) InsertScan(ctx context.Context, scan *models.Scan) error {
	err := t.tx.GetContext(ctx, &scan.ID, t.tx.Rebind(`
		INSERT INTO scans (scan_date, scan_url, scan_active, tool_id)
		VALUES (?, ?, ?, ?) RETURNING id`),
		scan.Date.UTC(), scan.URL, scan.Active, scan.ToolID)
	if err != nil {
		return fmt.Errorf("failed to create scan for %s: %w", scan.URL, err)
	}
	return nil
}

// HasRecentFinding reports whether a finding called name was recorded for url
// by a scan dated in [since, before)
func (t *IngestTx) HasRecentFinding(ctx context.Context, url, name string, since, before time.Time) (bool, error) {
	var id int
	err := t.tx.GetContext(ctx, &id, t.tx.Rebind(`
		SELECT v.id
		FROM vulnerabilities v
		JOIN scans s ON v.scan_id = s.id
		WHERE s.scan_url = ? AND s.scan_date < ? AND s.scan_date >= ? AND v.name = ?
		ORDER BY s.scan_date DESC
		LIMIT 1`),
		url, before.UTC(), since.UTC(), name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up previous %q on %s: %w", name, url, err)
	}
	return true, nil
}

// InsertVulnerability stores a finding and sets its generated ID
func (t *IngestTx) InsertVulnerability(ctx context.Context, v *models.Vulnerability) error {
	err := t.tx.GetContext(ctx, &v.ID, t.tx.Rebind(`
		INSERT INTO vulnerabilities (name, scan_id, priority_id, occurrences, description, is_new)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		v.Name, v.ScanID, int(v.Priority), v.Count, v.Description, v.IsNew)
	if err != nil {
		return fmt.Errorf("failed to create vulnerability %q: %w", v.Name, err)
	}
	return nil
}

// LinkCategories associates a finding with each category id
func (t *IngestTx) LinkCategories(ctx context.Context, vulnerabilityID int, categoryIDs []int) error {
	if len(categoryIDs) == 0 {
		return fmt.Errorf("vulnerability %d has no categories", vulnerabilityID)
	}

	query := t.tx.Rebind("INSERT INTO vulnerability_categories (vulnerability_id, category_id) VALUES (?, ?)")
	for _, categoryID := range categoryIDs {
		if _, err := t.tx.ExecContext(ctx, query, vulnerabilityID, categoryID); err != nil {
			return fmt.Errorf("failed to link vulnerability %d to category %d: %w", vulnerabilityID, categoryID, err)
		}
	}
	return nil
}
