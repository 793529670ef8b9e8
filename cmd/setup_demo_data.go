package cmd

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"api-vuln-dashboard/ingest"
	"api-vuln-dashboard/mapping"
	"api-vuln-dashboard/report"

	"github.com/spf13/cobra"
)

// demoTools are the tool names written into generated reports
var demoTools = []string{"Random API Scanner", "Dummy API Scanner", "Some API Scanner"}

type demoFinding struct {
	Name        string
	RiskCode    int
	Categories  []int
	Description string
}

var demoFindings = []demoFinding{
	{"Content Security Policy (CSP) Header Not Set", 2, []int{8}, "The Content-Security-Policy header is not set."},
	{"SQL Injection", 3, []int{1, 3}, "SQL Injection is a code injection technique that might destroy your database."},
	{"Bypassing 403", 2, []int{1, 5}, "The server is returning a 403 Forbidden status code."},
	{"Server Leaks Version Information via \"Server\" HTTP Response Header Field", 1, []int{8}, "The server is leaking version information via the Server HTTP response header field."},
	{"A Client Error response code was returned by the server", 0, []int{8}, "A client error response code was returned by the server."},
	{"Cross-Site Scripting (Reflected)", 3, []int{8}, "Cross-Site Scripting allows an attacker to inject malicious scripts into web pages."},
	{"Application Error Disclosure", 1, []int{8, 10}, "The application discloses error messages."},
	{"Session Management Response Identified", 1, []int{2}, "A session management response was identified."},
	{"Hidden File Found", 2, []int{9}, "A hidden file is accessible."},
	{"Modern Web Application", 0, []int{0}, "This is a modern web application."},
}

var (
	demoURL  string
	demoDays int
	demoDir  string
	demoSeed int64
)

var setupDemoDataCmd = &cobra.Command{
	Use:   "setup-demo-data",
	Short: "Fill the database with synthetic scans",
	Long: `Writes one synthetic ZAP report per day for the last --days days and ingests
them with a built-in mapping table, so the dashboard has trends to show.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase(appConfig)
		if err != nil {
			return err
		}
		defer database.Close()

		dir := demoDir
		if dir == "" {
			dir, err = os.MkdirTemp("", "vuln-dashboard-demo-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)
		} else if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}

		pipeline := ingest.NewPipeline(ingest.NewStore(database), demoTable())
		rng := rand.New(rand.NewSource(demoSeed))
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Creating %d days of scans for %s...\n", demoDays, demoURL)
		start := time.Now().UTC().AddDate(0, 0, -demoDays+1)
		for day := 0; day < demoDays; day++ {
			generated := start.AddDate(0, 0, day)
			path, err := writeDemoReport(dir, demoURL, generated, rng)
			if err != nil {
				return err
			}

			res, err := pipeline.Process(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", path, err)
			}
			for _, scan := range res.Scans {
				fmt.Fprintf(out, "  %s  %-20s %2d findings, %d new\n", generated.Format("2006-01-02"), res.Tool, scan.Findings, scan.New)
			}
			for range res.Skipped {
				fmt.Fprintf(out, "  %s  skipped, already scanned\n", generated.Format("2006-01-02"))
			}
		}

		fmt.Fprintln(out, "✅ Demo data created successfully!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupDemoDataCmd)

	setupDemoDataCmd.Flags().StringVar(&demoURL, "url", "https://www.example.com", "scanned site")
	setupDemoDataCmd.Flags().IntVar(&demoDays, "days", 14, "number of daily scans")
	setupDemoDataCmd.Flags().StringVar(&demoDir, "dir", "", "keep the generated reports in this directory")
	setupDemoDataCmd.Flags().Int64Var(&demoSeed, "seed", time.Now().UnixNano(), "random seed")
}

func demoTable() *mapping.Table {
	entries := make(map[string][]int, len(demoFindings))
	for _, f := range demoFindings {
		entries[f.Name] = f.Categories
	}
	return mapping.NewTable(entries)
}

// writeDemoReport writes a ZAP report with a random subset of the demo findings
func writeDemoReport(dir, url string, generated time.Time, rng *rand.Rand) (string, error) {
	alerts := []map[string]any{}
	for _, f := range demoFindings {
		if rng.Intn(2) == 0 {
			continue
		}
		alerts = append(alerts, map[string]any{
			"alert":    f.Name,
			"riskcode": strconv.Itoa(f.RiskCode),
			"desc":     "<p>" + f.Description + "</p>",
			"count":    strconv.Itoa(1 + rng.Intn(20)),
		})
	}

	doc := map[string]any{
		"@programName": demoTools[rng.Intn(len(demoTools))],
		"@generated":   generated.Format(report.TimestampLayout),
		"site": []map[string]any{
			{"@name": url, "@port": "443", "alerts": alerts},
		},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("api-passive-scan-report_%s.json", generated.Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write demo report: %w", err)
	}
	return path, nil
}
