package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"api-vuln-dashboard/ingest"
	"api-vuln-dashboard/notifier"
	"api-vuln-dashboard/scanner"
	"api-vuln-dashboard/watcher"
	"api-vuln-dashboard/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// settleDelay gives ZAP time to finish writing a report after creating it
const settleDelay = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API and the report watcher",
	Long: `Start the dashboard REST API together with the watcher that ingests new
ZAP reports from the configured output directory.`,
	RunE: runServe,
}

var (
	servePort    string
	serveNoWatch bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "web server port (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "serve the API without watching for reports")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if servePort != "" {
		cfg.Server.Port = servePort
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	var w *watcher.Watcher
	if !serveNoWatch {
		pipeline, err := newPipeline(cfg, database)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.Watcher.Dir, 0755); err != nil {
			return err
		}
		w = watcher.New(cfg.Watcher.Dir, cfg.Watcher.Extensions, processFunc(pipeline)).WithSettleDelay(settleDelay)
	}

	slack := notifier.FromConfig(cfg.Notification)
	server := web.NewAppServer(database, cfg.Server.Port, scanner.NewZAPScanner(cfg.Scanner), slack)

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	if w != nil {
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	logrus.WithFields(logrus.Fields{
		"port":  cfg.Server.Port,
		"api":   "http://localhost:" + cfg.Server.Port + "/api/v1",
		"watch": w != nil,
	}).Info("Dashboard started")

	if err := g.Wait(); err != nil && sigCtx.Err() == nil {
		return err
	}
	return nil
}

// processFunc adapts the pipeline to a watcher handler. Failures are already
// logged and reported by the pipeline.
func processFunc(p *ingest.Pipeline) watcher.Handler {
	return func(ctx context.Context, path string) error {
		_, err := p.Process(ctx, path)
		return err
	}
}
