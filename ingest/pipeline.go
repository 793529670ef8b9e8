// Package ingest loads ZAP reports into the store: one transaction per file,
// with same-day deduplication per site and 30-day novelty per finding.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"api-vuln-dashboard/mapping"
	"api-vuln-dashboard/models"
	"api-vuln-dashboard/report"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FailureNotifier is told about files whose ingestion was aborted
type FailureNotifier interface {
	NotifyIngestFailure(file string, err error) error
}

// ScanResult describes one site accepted from a report
type ScanResult struct {
	URL      string `json:"scan_url"`
	ScanID   int    `json:"scan_id"`
	Findings int    `json:"findings"`
	New      int    `json:"new_findings"`
}

// Result summarises the ingestion of one report file
type Result struct {
	File    string       `json:"file"`
	RunID   string       `json:"run_id"`
	Tool    string       `json:"tool"`
	Scans   []ScanResult `json:"scans"`
	Skipped []string     `json:"skipped"`
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithNotifier reports aborted files to n
func WithNotifier(n FailureNotifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithLogger replaces the standard logrus logger
func WithLogger(l *logrus.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline runs parse, deduplication, categorisation, novelty and persistence
// for report files. Calls to Process are serialised.
type Pipeline struct {
	store    Store
	lookup   mapping.CategoryLookup
	notifier FailureNotifier
	log      *logrus.Logger

	mu sync.Mutex
}

// NewPipeline creates a pipeline writing to store and categorising with lookup
func NewPipeline(store Store, lookup mapping.CategoryLookup, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		lookup: lookup,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ingests the report at path. Either every accepted site of the file
// is stored or nothing is.
func (p *Pipeline) Process(ctx context.Context, path string) (*Result, error) {
	res := &Result{File: path, RunID: uuid.NewString(), Scans: []ScanResult{}, Skipped: []string{}}
	log := p.log.WithFields(logrus.Fields{"file": path, "run_id": res.RunID})

	// the pipeline lock is not held while notifying
	if err := p.locked(ctx, log, path, res); err != nil {
		log.WithError(err).Error("Report ingestion aborted")
		if p.notifier != nil {
			if nerr := p.notifier.NotifyIngestFailure(path, err); nerr != nil {
				log.WithError(nerr).Warn("Failed to send ingestion failure notification")
			}
		}
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"tool":    res.Tool,
		"scans":   len(res.Scans),
		"skipped": len(res.Skipped),
	}).Info("Report ingested")
	return res, nil
}

func (p *Pipeline) locked(ctx context.Context, log *logrus.Entry, path string, res *Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.process(ctx, log, path, res)
}

func (p *Pipeline) process(ctx context.Context, log *logrus.Entry, path string, res *Result) error {
	rep, err := report.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	res.Tool = rep.Tool
	active := report.IsActiveScan(path)
	log.WithFields(logrus.Fields{
		"tool":     rep.Tool,
		"sites":    len(rep.Sites),
		"findings": rep.FindingCount(),
		"active":   active,
	}).Debug("Report parsed")

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil {
			log.WithError(rerr).Warn("Rollback failed")
		}
	}()

	toolID := 0
	for _, site := range rep.Sites {
		siteLog := log.WithField("scan_url", site.URL)

		accepted, err := acceptSite(ctx, tx, site.URL, rep.GeneratedAt)
		if err != nil {
			return fmt.Errorf("failed to check previous scans of %s: %w", site.URL, err)
		}
		if !accepted {
			siteLog.Info("Scan of this URL already recorded for the day, skipping site")
			res.Skipped = append(res.Skipped, site.URL)
			continue
		}

		if toolID == 0 {
			if toolID, err = tx.EnsureTool(ctx, rep.Tool); err != nil {
				return err
			}
		}

		sr, err := p.writeSite(ctx, tx, siteLog, site, rep.GeneratedAt, active, toolID)
		if err != nil {
			return err
		}
		res.Scans = append(res.Scans, sr)
	}

	return tx.Commit()
}

func (p *Pipeline) writeSite(ctx context.Context, tx Tx, log *logrus.Entry, site report.Site, scannedAt time.Time, active bool, toolID int) (ScanResult, error) {
	scan := &models.Scan{Date: scannedAt, URL: site.URL, Active: active, ToolID: toolID}
	if err := tx.InsertScan(ctx, scan); err != nil {
		return ScanResult{}, err
	}
	sr := ScanResult{URL: site.URL, ScanID: scan.ID}

	for _, f := range site.Findings {
		categories, err := p.lookup.Resolve(f.Name)
		if err != nil {
			return ScanResult{}, fmt.Errorf("failed to categorise %q on %s: %w", f.Name, site.URL, err)
		}

		fresh, err := isNew(ctx, tx, site.URL, f.Name, scannedAt)
		if err != nil {
			return ScanResult{}, err
		}

		v := &models.Vulnerability{
			Name:        f.Name,
			ScanID:      scan.ID,
			Priority:    f.Priority,
			Count:       f.Count,
			Description: f.Description,
			IsNew:       fresh,
		}
		if err := tx.InsertVulnerability(ctx, v); err != nil {
			return ScanResult{}, err
		}
		if err := tx.LinkCategories(ctx, v.ID, categories); err != nil {
			return ScanResult{}, err
		}

		log.WithFields(logrus.Fields{"finding": f.Name, "new": fresh}).Debug("Finding stored")
		sr.Findings++
		if fresh {
			sr.New++
		}
	}

	log.WithFields(logrus.Fields{"scan_id": scan.ID, "findings": sr.Findings, "new": sr.New}).Info("Scan stored")
	return sr, nil
}
