package cmd

import (
	"fmt"

	"api-vuln-dashboard/config"
	"api-vuln-dashboard/db"
	"api-vuln-dashboard/ingest"
	"api-vuln-dashboard/logging"
	"api-vuln-dashboard/mapping"
	"api-vuln-dashboard/notifier"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool

	// appConfig is loaded before every command runs
	appConfig *config.Config

	// Version information
	appVersion string
	appCommit  string
	appDate    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vuln-dashboard",
	Short: "API vulnerability dashboard backed by OWASP ZAP reports",
	Long: `vuln-dashboard stores OWASP ZAP scan results of web APIs and serves them
to the dashboard.

Features:
- Watches a directory for new ZAP JSON reports and ingests them
- Maps every alert to the OWASP API Security Top 10 (2023)
- Flags findings that were not seen on the same URL within 30 days
- REST API for scans, vulnerabilities, trends and risk weights
- Triggers passive and active ZAP scans in docker
- Slack alerts for reports that could not be ingested`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(version, commit, date string) error {
	appVersion = version
	appCommit = commit
	appDate = date
	rootCmd.Version = getVersionString()

	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.vuln-dashboard.yaml or $HOME/.vuln-dashboard.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads configuration and sets up logging
func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	appConfig = cfg
	return nil
}

// openDatabase connects to the configured database and applies migrations
func openDatabase(cfg *config.Config) (*db.Database, error) {
	database, err := db.NewDatabase(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

// newPipeline loads the OWASP mapping table and builds the ingestion pipeline
func newPipeline(cfg *config.Config, database *db.Database) (*ingest.Pipeline, error) {
	table, err := mapping.Load(cfg.Mapping.Path, cfg.Mapping.Sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to load OWASP mapping: %w", err)
	}
	logrus.WithFields(logrus.Fields{"path": cfg.Mapping.Path, "entries": table.Len()}).Info("OWASP mapping loaded")

	return ingest.NewPipeline(ingest.NewStore(database), table,
		ingest.WithNotifier(notifier.FromConfig(cfg.Notification))), nil
}

// getVersionString returns formatted version information
func getVersionString() string {
	if appVersion == "" {
		appVersion = "unknown"
	}
	if appCommit == "" {
		appCommit = "unknown"
	}
	if appDate == "" {
		appDate = "unknown"
	}

	return fmt.Sprintf("%s (commit: %s, date: %s)", appVersion, appCommit, appDate)
}
