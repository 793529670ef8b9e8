// Package report parses OWASP ZAP JSON reports into normalized site findings.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"api-vuln-dashboard/models"
)

// TimestampLayout is the format of the report's @generated field
const TimestampLayout = "Mon, 02 Jan 2006 15:04:05"

// ErrMalformed is matched by every ParseError
var ErrMalformed = errors.New("malformed report")

// ParseError describes why a report was rejected
type ParseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", ErrMalformed, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrMalformed }

// Report is the normalized content of one report document
type Report struct {
	Tool        string
	GeneratedAt time.Time
	Sites       []Site
}

// Site is one scanned target and its findings
type Site struct {
	URL      string
	Findings []Finding
}

// Finding is one alert line of a site
type Finding struct {
	Name        string
	Priority    models.PriorityLevel
	Description string
	Count       int
}

// FindingCount returns the number of findings across all sites
func (r *Report) FindingCount() int {
	n := 0
	for _, s := range r.Sites {
		n += len(s.Findings)
	}
	return n
}

// ParseFile reads and parses the report at path
func ParseFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes one report document. Nothing is returned unless the whole
// document is valid.
func Parse(r io.Reader) (*Report, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Field: "document", Reason: "invalid JSON", Err: err}
	}

	tool := strings.TrimSpace(doc.ProgramName)
	if tool == "" {
		return nil, &ParseError{Field: "@programName", Reason: "missing"}
	}

	if strings.TrimSpace(doc.Generated) == "" {
		return nil, &ParseError{Field: "@generated", Reason: "missing"}
	}
	generated, err := time.Parse(TimestampLayout, strings.TrimSpace(doc.Generated))
	if err != nil {
		return nil, &ParseError{Field: "@generated", Reason: fmt.Sprintf("expected layout %q", TimestampLayout), Err: err}
	}

	if len(doc.Sites) == 0 {
		return nil, &ParseError{Field: "site", Reason: "no site entries"}
	}

	rep := &Report{
		Tool:        tool,
		GeneratedAt: generated.UTC(),
		Sites:       make([]Site, 0, len(doc.Sites)),
	}

	for i, s := range doc.Sites {
		siteURL, err := SiteURL(s.Name, string(s.Port))
		if err != nil {
			return nil, &ParseError{Field: fmt.Sprintf("site[%d]", i), Reason: "invalid address", Err: err}
		}

		site := Site{URL: siteURL, Findings: make([]Finding, 0, len(s.Alerts))}
		for j, a := range s.Alerts {
			field := fmt.Sprintf("site[%d].alerts[%d]", i, j)

			name := strings.TrimSpace(a.Name)
			if name == "" {
				return nil, &ParseError{Field: field + ".alert", Reason: "missing"}
			}
			if a.RiskCode == nil {
				return nil, &ParseError{Field: field + ".riskcode", Reason: "missing"}
			}
			prio := models.PriorityLevel(*a.RiskCode)
			if !prio.Valid() {
				return nil, &ParseError{Field: field + ".riskcode", Reason: fmt.Sprintf("unknown risk code %d", *a.RiskCode)}
			}
			if a.Count == nil {
				return nil, &ParseError{Field: field + ".count", Reason: "missing"}
			}
			if *a.Count < 0 {
				return nil, &ParseError{Field: field + ".count", Reason: "negative"}
			}

			site.Findings = append(site.Findings, Finding{
				Name:        name,
				Priority:    prio,
				Description: a.Desc,
				Count:       int(*a.Count),
			})
		}
		rep.Sites = append(rep.Sites, site)
	}

	return rep, nil
}

// SiteURL names the scanned site. An address with a scheme or an explicit
// port is kept as written; a bare host gets the report's port appended.
func SiteURL(address, port string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("missing @name")
	}

	rest := address
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}

	host, path := rest, ""
	if i := strings.Index(rest, "/"); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	if host == "" {
		return "", fmt.Errorf("no host in %q", address)
	}

	if strings.Contains(address, ":") {
		return address, nil
	}

	port = strings.TrimSpace(port)
	if port == "" {
		return "", fmt.Errorf("no port for %q", address)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid port %q", port)
	}

	path = strings.TrimSuffix(path, "/")
	return host + ":" + port + path, nil
}

// IsActiveScan reports whether a report file name marks an active scan.
// Reports named like api-passive-scan-report_*.json are passive even though
// "passive" contains "active".
func IsActiveScan(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if strings.Contains(name, "passive") {
		return false
	}
	return strings.Contains(name, "active")
}

type document struct {
	ProgramName string `json:"@programName"`
	Generated   string `json:"@generated"`
	Sites       []site `json:"site"`
}

type site struct {
	Name   string     `json:"@name"`
	Port   flexString `json:"@port"`
	Alerts []alert    `json:"alerts"`
}

type alert struct {
	Name     string   `json:"alert"`
	RiskCode *flexInt `json:"riskcode"`
	Desc     string   `json:"desc"`
	Count    *flexInt `json:"count"`
}

// flexInt accepts both 3 and "3"; ZAP writes numbers as strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(n)
	return nil
}

// flexString accepts both "443" and 443.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}
