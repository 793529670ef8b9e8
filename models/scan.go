package models

import "time"

// Tool identifies the scanner that produced a report
type Tool struct {
	ID          int    `json:"tool_id" db:"id"`
	Name        string `json:"tool_name" db:"name"`
	Description string `json:"tool_description" db:"description"`
}

// Scan is one accepted scan run against a URL
type Scan struct {
	ID       int       `json:"scan_id" db:"id"`
	Date     time.Time `json:"scan_date" db:"scan_date"`
	URL      string    `json:"scan_url" db:"scan_url"`
	Active   bool      `json:"active_scan" db:"scan_active"`
	ToolID   int       `json:"-" db:"tool_id"`
	ToolName string    `json:"tool_name" db:"tool_name"`
}

// Vulnerability is one finding of a scan. Rows are immutable once written.
type Vulnerability struct {
	ID          int           `json:"vuln_id" db:"id"`
	Name        string        `json:"vuln_name" db:"name"`
	ScanID      int           `json:"scan_id" db:"scan_id"`
	Priority    PriorityLevel `json:"vuln_priority" db:"priority_id"`
	Count       int           `json:"vuln_number" db:"occurrences"`
	Description string        `json:"vuln_description" db:"description"`
	IsNew       bool          `json:"vuln_new" db:"is_new"`
}

// VulnerabilityView is a finding joined with its scan, tool, priority and one category
type VulnerabilityView struct {
	ScanID       int       `json:"scan_id" db:"scan_id"`
	ScanDate     time.Time `json:"scan_date" db:"scan_date"`
	ScanURL      string    `json:"scan_url" db:"scan_url"`
	ToolName     string    `json:"tool_name" db:"tool_name"`
	Name         string    `json:"vuln_name" db:"vuln_name"`
	Count        int       `json:"vuln_number" db:"vuln_number"`
	PriorityName string    `json:"prio_name" db:"prio_name"`
	CategoryName string    `json:"owasp_name" db:"owasp_name"`
	ID           int       `json:"vuln_id" db:"vuln_id"`
	ScanActive   bool      `json:"scan_active" db:"scan_active"`
	Description  string    `json:"vuln_description" db:"vuln_description"`
	IsNew        bool      `json:"vuln_new" db:"vuln_new"`
}

// ScanFilter narrows scan listings. Zero values mean no filter.
type ScanFilter struct {
	URL  string
	Date time.Time
}

// VulnerabilityFilter narrows finding listings. URL wins over ScanID when both are set.
type VulnerabilityFilter struct {
	URL    string
	ScanID int
}
