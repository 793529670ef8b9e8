// Package mapping resolves ZAP alert names to OWASP API Top 10 category ids
// using a lookup table maintained outside this service.
package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	nameColumn     = "vulnerability"
	categoryColumn = "owasp"
)

// ErrUnmapped is matched by every UnmappedError
var ErrUnmapped = errors.New("no OWASP mapping")

// UnmappedError reports a finding name missing from the lookup table
type UnmappedError struct {
	Name string
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("%s for vulnerability %q", ErrUnmapped, e.Name)
}

func (e *UnmappedError) Is(target error) bool { return target == ErrUnmapped }

// CategoryLookup resolves a finding name to one or more category ids
type CategoryLookup interface {
	Resolve(name string) ([]int, error)
}

// Table is an immutable, case-insensitive name to category ids lookup
type Table struct {
	entries map[string][]int
}

// NewTable builds a table from name to id list pairs
func NewTable(entries map[string][]int) *Table {
	t := &Table{entries: make(map[string][]int, len(entries))}
	for name, ids := range entries {
		t.entries[key(name)] = normalize(ids)
	}
	return t
}

// Resolve returns a copy of the category ids mapped to name
func (t *Table) Resolve(name string) ([]int, error) {
	ids, ok := t.entries[key(name)]
	if !ok {
		return nil, &UnmappedError{Name: name}
	}
	out := make([]int, len(ids))
	copy(out, ids)
	return out, nil
}

// Len returns the number of mapped names
func (t *Table) Len() int { return len(t.entries) }

// Load reads the lookup table from an .xlsx or .csv file. For workbooks an
// empty sheet selects the first one.
func Load(path, sheet string) (*Table, error) {
	var (
		rows [][]string
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(path, sheet)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, fmt.Errorf("unsupported mapping file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	return fromRows(rows)
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read mapping csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func fromRows(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, errors.New("mapping table is empty")
	}

	nameIdx, catIdx := -1, -1
	for i, h := range rows[0] {
		switch key(h) {
		case nameColumn:
			nameIdx = i
		case categoryColumn:
			catIdx = i
		}
	}
	if nameIdx < 0 || catIdx < 0 {
		return nil, fmt.Errorf("mapping header must contain %q and %q columns", "Vulnerability", "OWASP")
	}

	entries := make(map[string][]int, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		name := cell(row, nameIdx)
		if name == "" {
			continue
		}

		raw := cell(row, catIdx)
		if raw == "" {
			// left unmapped on purpose so ingestion of this name fails loudly
			logrus.WithField("vulnerability", name).Warnf("mapping row %d has no OWASP category", line)
			continue
		}

		ids, err := ParseIDs(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): %w", line, name, err)
		}

		k := key(name)
		// first row wins, same as a top-down lookup
		if _, dup := entries[k]; dup {
			continue
		}
		entries[k] = ids
	}

	return &Table{entries: entries}, nil
}

// ParseIDs turns "3" or "1, 3" into a sorted set of category ids
func ParseIDs(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty OWASP category")
	}

	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		// spreadsheets hand integers back as 3.0 at times
		part = strings.TrimSuffix(part, ".0")
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid OWASP category %q", part)
		}
		if id < 0 {
			return nil, fmt.Errorf("negative OWASP category %d", id)
		}
		ids = append(ids, id)
	}
	return normalize(ids), nil
}

func normalize(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
