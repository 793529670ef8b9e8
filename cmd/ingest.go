package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <report.json>...",
	Short: "Ingest one or more ZAP reports",
	Long: `Parse the given ZAP JSON reports and store them. Each file is stored in its
own transaction; a failing file does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := appConfig

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	pipeline, err := newPipeline(cfg, database)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		res, err := pipeline.Process(cmd.Context(), path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			continue
		}

		fmt.Fprintf(out, "✓ %s (run %s)\n", path, res.RunID)
		for _, scan := range res.Scans {
			fmt.Fprintf(out, "  %s: scan %d, %d findings, %d new\n", scan.URL, scan.ScanID, scan.Findings, scan.New)
		}
		for _, url := range res.Skipped {
			fmt.Fprintf(out, "  %s: skipped, already scanned that day\n", url)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(args))
	}
	return nil
}
