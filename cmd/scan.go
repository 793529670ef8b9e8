package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"api-vuln-dashboard/ingest"
	"api-vuln-dashboard/notifier"
	"api-vuln-dashboard/scanner"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	outputFormat string
	ingestReport bool
	notify       bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run an OWASP ZAP scan in docker",
	Long: `Run ZAP against a web API. The JSON report is written to scanner.output_dir,
where a running watcher picks it up.

Examples:
  # baseline scan of a live API
  vuln-dashboard scan passive https://api.example.com

  # API scan driven by an OpenAPI definition, stored right away
  vuln-dashboard scan active ./openapi.yaml --ingest`,
}

var scanPassiveCmd = &cobra.Command{
	Use:   "passive <url>",
	Short: "Baseline scan of a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, "passive", args[0])
	},
}

var scanActiveCmd = &cobra.Command{
	Use:   "active <openapi-file>",
	Short: "API scan of an OpenAPI definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, "active", args[0])
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanPassiveCmd)
	scanCmd.AddCommand(scanActiveCmd)

	scanCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	scanCmd.PersistentFlags().BoolVar(&ingestReport, "ingest", false, "Ingest the report once the scan finished")
	scanCmd.PersistentFlags().BoolVar(&notify, "notify", true, "Send a Slack message when the scan finished")
}

func runScan(cmd *cobra.Command, mode, target string) error {
	cfg := appConfig
	zap := scanner.NewZAPScanner(cfg.Scanner)

	if err := zap.ValidateInstallation(cmd.Context()); err != nil {
		return err
	}

	if mode == "active" {
		name, err := stageDefinition(target, zap.InputDir())
		if err != nil {
			return err
		}
		target = name
	}

	logrus.WithFields(logrus.Fields{"mode": mode, "target": target}).Info("Starting ZAP scan")

	var (
		res *scanner.ScanResult
		err error
	)
	if mode == "active" {
		res, err = zap.RunActive(cmd.Context(), target)
	} else {
		res, err = zap.RunPassive(cmd.Context(), target)
	}

	if notify {
		if nerr := notifier.FromConfig(cfg.Notification).NotifyScanFinished(mode, target, err); nerr != nil {
			logrus.WithError(nerr).Warn("Failed to send scan notification")
		}
	}
	if err != nil {
		return fmt.Errorf("%s scan failed: %w", mode, err)
	}

	summary := scanSummary{Mode: mode, Target: target, Scan: res}

	if ingestReport {
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		pipeline, err := newPipeline(cfg, database)
		if err != nil {
			return err
		}
		summary.Ingest, err = pipeline.Process(cmd.Context(), filepath.Join(cfg.Scanner.OutputDir, res.ReportFile))
		if err != nil {
			return err
		}
	}

	return writeSummary(cmd.OutOrStdout(), outputFormat, summary)
}

// stageDefinition copies an API definition into the scanner input directory
// and returns its file name there
func stageDefinition(src, inputDir string) (string, error) {
	ext := filepath.Ext(src)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return "", fmt.Errorf("unsupported api definition type %q", ext)
	}

	name := filepath.Base(src)
	dst := filepath.Join(inputDir, name)

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return "", err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	if srcAbs == dstAbs {
		return name, nil
	}

	if err := os.MkdirAll(inputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create input directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open api definition: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to stage api definition: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to stage api definition: %w", err)
	}
	return name, out.Close()
}

type scanSummary struct {
	Mode   string              `json:"mode" yaml:"mode"`
	Target string              `json:"target" yaml:"target"`
	Scan   *scanner.ScanResult `json:"scan" yaml:"scan"`
	Ingest *ingest.Result      `json:"ingest,omitempty" yaml:"ingest,omitempty"`
}

func writeSummary(w io.Writer, format string, s scanSummary) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		return yaml.NewEncoder(w).Encode(s)
	case "table":
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "Mode\t%s\n", s.Mode)
	fmt.Fprintf(tw, "Target\t%s\n", s.Target)
	fmt.Fprintf(tw, "Report\t%s\n", s.Scan.ReportFile)
	fmt.Fprintf(tw, "URLs\t%d\n", s.Scan.URLs)
	fmt.Fprintf(tw, "Duration\t%s\n", s.Scan.Duration)
	if s.Ingest != nil {
		for _, scan := range s.Ingest.Scans {
			fmt.Fprintf(tw, "Stored\t%s (scan %d, %d findings, %d new)\n", scan.URL, scan.ScanID, scan.Findings, scan.New)
		}
		for _, url := range s.Ingest.Skipped {
			fmt.Fprintf(tw, "Skipped\t%s\n", url)
		}
	}
	return tw.Flush()
}
