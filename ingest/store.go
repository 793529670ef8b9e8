package ingest

import (
	"context"
	"time"

	"api-vuln-dashboard/db"
	"api-vuln-dashboard/models"
)

// Tx is the write side used to ingest one report file. Nothing written
// through a Tx is visible to readers before Commit.
type Tx interface {
	LatestScanDate(ctx context.Context, url string) (time.Time, bool, error)
	EnsureTool(ctx context.Context, name string) (int, error)
	InsertScan(ctx context.Context, scan *models.Scan) error
	HasRecentFinding(ctx context.Context, url, name string, since, before time.Time) (bool, error)
	InsertVulnerability(ctx context.Context, v *models.Vulnerability) error
	LinkCategories(ctx context.Context, vulnerabilityID int, categoryIDs []int) error
	Commit() error
	Rollback() error
}

// Store opens ingestion transactions
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

type databaseStore struct {
	db *db.Database
}

// NewStore adapts a database handle to Store
func NewStore(database *db.Database) Store {
	return &databaseStore{db: database}
}

func (s *databaseStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginIngest(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
