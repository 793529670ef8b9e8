package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// TrendRow is one grouped (scan date, category, active flag) count
type TrendRow struct {
	ScanDate     time.Time `db:"scan_date"`
	CategoryID   int       `db:"category_id"`
	CategoryName string    `db:"category_name"`
	Active       bool      `db:"scan_active"`
	Count        int       `db:"vuln_count"`
}

// Trend is a category keyed time series. Dates, ScanActive and every
// Series entry are parallel slices of the same length.
type Trend struct {
	Dates      []string
	ScanActive []bool
	Categories []string
	Series     map[string][]int
}

// MarshalJSON flattens the trend into the chart friendly shape
// {"scan_date": [...], "scan_active": [...], "<category>": [...]}.
func (t Trend) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	dates := t.Dates
	if dates == nil {
		dates = []string{}
	}
	active := t.ScanActive
	if active == nil {
		active = []bool{}
	}
	if err := write("scan_date", dates); err != nil {
		return nil, err
	}
	if err := write("scan_active", active); err != nil {
		return nil, err
	}
	for _, name := range t.Categories {
		if err := write(name, t.Series[name]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
