package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"api-vuln-dashboard/config"

	"github.com/sirupsen/logrus"
)

// Init sets up the global logger according to configuration.
// It supports writing to stdout/stderr plus optional file output.
// Multiple outputs are combined via io.MultiWriter.
func Init(cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	out, err := openOutput(cfg)
	if err != nil {
		return err
	}
	logrus.SetOutput(out)
	return nil
}

func openOutput(cfg config.LoggingConfig) (io.Writer, error) {
	var writers []io.Writer

	switch cfg.Output {
	case "", "stdout":
		writers = append(writers, os.Stdout)
	case "stderr":
		writers = append(writers, os.Stderr)
	case "file":
		// no console writer when file only
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}

	if cfg.Output != "file" && cfg.File == "" {
		return io.MultiWriter(writers...), nil
	}

	logFilePath := cfg.File
	if logFilePath == "" {
		// default path under ./logs/app-YYYYMMDD.log
		logFilePath = filepath.Join("logs", fmt.Sprintf("app-%s.log", time.Now().Format("20060102")))
	}

	if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	writers = append(writers, file)
	return io.MultiWriter(writers...), nil
}
