// Package trend reshapes grouped finding counts into a per category time series.
package trend

import (
	"sort"

	"api-vuln-dashboard/models"
)

const dateLayout = "2006-01-02"

type day struct {
	active bool
	counts map[string]int
}

// Build turns flat (date, category, active, count) rows into a Trend.
//
// Dates are UTC calendar days in ascending order. Only categories that occur
// in at least one row get a series, ordered by category id. Rows landing on
// the same day are summed and the day counts as active if any of them was.
func Build(rows []models.TrendRow) models.Trend {
	days := make(map[string]*day)
	catIDs := make(map[string]int)

	for _, r := range rows {
		key := r.ScanDate.UTC().Format(dateLayout)
		d, ok := days[key]
		if !ok {
			d = &day{counts: make(map[string]int)}
			days[key] = d
		}
		d.active = d.active || r.Active
		d.counts[r.CategoryName] += r.Count
		catIDs[r.CategoryName] = r.CategoryID
	}

	dates := make([]string, 0, len(days))
	for k := range days {
		dates = append(dates, k)
	}
	sort.Strings(dates)

	categories := make([]string, 0, len(catIDs))
	for name := range catIDs {
		categories = append(categories, name)
	}
	sort.Slice(categories, func(i, j int) bool {
		if catIDs[categories[i]] != catIDs[categories[j]] {
			return catIDs[categories[i]] < catIDs[categories[j]]
		}
		return categories[i] < categories[j]
	})

	t := models.Trend{
		Dates:      dates,
		ScanActive: make([]bool, len(dates)),
		Categories: categories,
		Series:     make(map[string][]int, len(categories)),
	}
	for _, name := range categories {
		t.Series[name] = make([]int, len(dates))
	}
	for i, date := range dates {
		d := days[date]
		t.ScanActive[i] = d.active
		for name, n := range d.counts {
			t.Series[name][i] = n
		}
	}
	return t
}
