package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"api-vuln-dashboard/watcher"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Ingest ZAP reports as they appear in a directory",
	Long: `Watch a directory for new ZAP JSON reports and ingest each of them.
Reports are processed one at a time in arrival order. Defaults to watcher.dir.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	dir := cfg.Watcher.Dir
	if len(args) == 1 {
		dir = args[0]
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	pipeline, err := newPipeline(cfg, database)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(dir, cfg.Watcher.Extensions, processFunc(pipeline)).WithSettleDelay(settleDelay)
	logrus.WithField("dir", dir).Info("Waiting for reports, press Ctrl+C to stop")
	return w.Run(ctx)
}
