package ingest

import (
	"context"
	"time"
)

// NoveltyWindow is the lookback in which a finding with the same name on the
// same URL makes a new finding recurring
const NoveltyWindow = 30 * 24 * time.Hour

// IsNewerDay reports whether incoming falls on a later UTC calendar day than
// latest. Same-day or earlier scans are duplicates.
func IsNewerDay(incoming, latest time.Time) bool {
	return day(incoming).After(day(latest))
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// acceptSite runs the deduplication gate for one site of a report
func acceptSite(ctx context.Context, tx Tx, url string, scannedAt time.Time) (bool, error) {
	latest, ok, err := tx.LatestScanDate(ctx, url)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return IsNewerDay(scannedAt, latest), nil
}

// isNew classifies a finding against the store state before it is written
func isNew(ctx context.Context, tx Tx, url, name string, scannedAt time.Time) (bool, error) {
	seen, err := tx.HasRecentFinding(ctx, url, name, scannedAt.Add(-NoveltyWindow), scannedAt)
	if err != nil {
		return false, err
	}
	return !seen, nil
}
