package db

import (
	"context"
	"fmt"
	"time"

	"api-vuln-dashboard/models"
)

// ListScans returns scans with their tool name, newest id first
func (db *Database) ListScans(ctx context.Context, filter models.ScanFilter) ([]models.Scan, error) {
	query := `
		SELECT s.id, s.scan_date, s.scan_url, s.scan_active, s.tool_id, t.name AS tool_name
		FROM scans s
		JOIN tools t ON t.id = s.tool_id
		WHERE 1=1`
	var args []any

	if filter.URL != "" {
		query += " AND s.scan_url = ?"
		args = append(args, filter.URL)
	}
	if !filter.Date.IsZero() {
		y, m, d := filter.Date.UTC().Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		query += " AND s.scan_date >= ? AND s.scan_date < ?"
		args = append(args, day, day.Add(24*time.Hour))
	}
	query += " ORDER BY s.id DESC"

	scans := []models.Scan{}
	if err := db.conn.SelectContext(ctx, &scans, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	return scans, nil
}

// GetScan retrieves a scan by ID
func (db *Database) GetScan(ctx context.Context, id int) (*models.Scan, error) {
	scan := &models.Scan{}
	err := db.conn.GetContext(ctx, scan, db.conn.Rebind(`
		SELECT s.id, s.scan_date, s.scan_url, s.scan_active, s.tool_id, t.name AS tool_name
		FROM scans s
		JOIN tools t ON t.id = s.tool_id
		WHERE s.id = ?`), id)
	if err != nil {
		return nil, notFound(err, "scan %d", id)
	}
	return scan, nil
}

// ListVulnerabilities returns findings joined with scan, tool, priority and
// category. A finding mapped to several categories appears once per category.
func (db *Database) ListVulnerabilities(ctx context.Context, filter models.VulnerabilityFilter) ([]models.VulnerabilityView, error) {
	query := `
		SELECT DISTINCT s.id AS scan_id, s.scan_date, s.scan_url, t.name AS tool_name,
		       v.name AS vuln_name, v.occurrences AS vuln_number, p.name AS prio_name,
		       c.name AS owasp_name, v.id AS vuln_id, s.scan_active,
		       v.description AS vuln_description, v.is_new AS vuln_new
		FROM scans s
		JOIN vulnerabilities v ON s.id = v.scan_id
		JOIN tools t ON t.id = s.tool_id
		JOIN vulnerability_categories vc ON v.id = vc.vulnerability_id
		JOIN categories c ON c.id = vc.category_id
		JOIN priorities p ON p.id = v.priority_id`
	var args []any

	switch {
	case filter.URL != "":
		query += " WHERE s.scan_url = ?"
		args = append(args, filter.URL)
	case filter.ScanID != 0:
		query += " WHERE s.id = ?"
		args = append(args, filter.ScanID)
	}
	query += " ORDER BY s.scan_date DESC, v.id, c.name"

	vulns := []models.VulnerabilityView{}
	if err := db.conn.SelectContext(ctx, &vulns, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query vulnerabilities: %w", err)
	}
	return vulns, nil
}

// GetVulnerability retrieves a single finding row
func (db *Database) GetVulnerability(ctx context.Context, id int) (*models.Vulnerability, error) {
	v := &models.Vulnerability{}
	err := db.conn.GetContext(ctx, v, db.conn.Rebind(`
		SELECT id, name, scan_id, priority_id, occurrences, description, is_new
		FROM vulnerabilities WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, "vulnerability %d", id)
	}
	return v, nil
}

// VulnerabilityCategoryIDs returns the category ids linked to a finding
func (db *Database) VulnerabilityCategoryIDs(ctx context.Context, vulnerabilityID int) ([]int, error) {
	ids := []int{}
	err := db.conn.SelectContext(ctx, &ids, db.conn.Rebind(`
		SELECT category_id FROM vulnerability_categories
		WHERE vulnerability_id = ? ORDER BY category_id`), vulnerabilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories of vulnerability %d: %w", vulnerabilityID, err)
	}
	return ids, nil
}

// TrendRows counts findings per scan date, category and active flag for url
func (db *Database) TrendRows(ctx context.Context, url string) ([]models.TrendRow, error) {
	rows := []models.TrendRow{}
	err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(`
		SELECT s.scan_date, c.id AS category_id, c.name AS category_name, s.scan_active,
		       COUNT(v.id) AS vuln_count
		FROM scans s
		JOIN vulnerabilities v ON s.id = v.scan_id
		JOIN vulnerability_categories vc ON v.id = vc.vulnerability_id
		JOIN categories c ON c.id = vc.category_id
		WHERE s.scan_url = ?
		GROUP BY s.scan_date, c.id, c.name, s.scan_active
		ORDER BY s.scan_date ASC, c.id ASC`), url)
	if err != nil {
		return nil, fmt.Errorf("failed to query vulnerability trend: %w", err)
	}
	return rows, nil
}
