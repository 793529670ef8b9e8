// Package scanner starts OWASP ZAP scans in docker. Reports are written into
// the output directory, where the watcher picks them up.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"api-vuln-dashboard/config"

	"github.com/sirupsen/logrus"
)

// containerWorkDir is where the output directory is mounted inside the ZAP image
const containerWorkDir = "/zap/wrk"

// reportTimestamp is the suffix format of generated report names
const reportTimestamp = "20060102_150405"

var (
	// ErrTimeout is returned when a scan runs longer than the configured timeout
	ErrTimeout = errors.New("scan timed out")
	// ErrScanFailed is matched by every *ScanError
	ErrScanFailed = errors.New("scan failed")
)

var totalURLs = regexp.MustCompile(`Total of (\d+) URLs`)

// ScanError carries the scanner output of a failed run
type ScanError struct {
	ExitCode int
	Stderr   string
}

func (e *ScanError) Error() string {
	msg := fmt.Sprintf("%s with exit code %d", ErrScanFailed, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ScanError) Is(target error) bool { return target == ErrScanFailed }

// ScanResult describes a finished scan
type ScanResult struct {
	ReportFile string `json:"report_file"`
	URLs       int    `json:"urls"`
	Duration   string `json:"duration"`
}

// ZAPScanner runs the ZAP baseline and API scan scripts in docker
type ZAPScanner struct {
	dockerPath    string
	image         string
	outputDir     string
	inputDir      string
	passiveConfig string
	timeout       time.Duration
	now           func() time.Time
}

// NewZAPScanner creates a scanner from configuration
func NewZAPScanner(cfg config.ScannerConfig) *ZAPScanner {
	return &ZAPScanner{
		dockerPath:    cfg.DockerPath,
		image:         cfg.Image,
		outputDir:     cfg.OutputDir,
		inputDir:      cfg.InputDir,
		passiveConfig: cfg.PassiveConfig,
		timeout:       time.Duration(cfg.TimeoutSeconds) * time.Second,
		now:           time.Now,
	}
}

// InputDir is where API definitions for active scans are stored
func (z *ZAPScanner) InputDir() string {
	return z.inputDir
}

// PassiveArgs builds the docker arguments of a baseline scan of target
func (z *ZAPScanner) PassiveArgs(mount, target, reportFile string) []string {
	args := z.dockerArgs(mount, "zap-baseline.py")
	if z.passiveConfig != "" {
		args = append(args, "-g", z.passiveConfig)
	}
	return append(args, "-t", target, "-J", reportFile)
}

// ActiveArgs builds the docker arguments of an API scan of an OpenAPI definition
func (z *ZAPScanner) ActiveArgs(mount, definition, reportFile string) []string {
	args := z.dockerArgs(mount, "zap-api-scan.py")
	return append(args, "-t", definition, "-f", "openapi", "-J", reportFile)
}

func (z *ZAPScanner) dockerArgs(mount, script string) []string {
	return []string{"run", "--rm", "-v", mount + ":" + containerWorkDir, z.image, script}
}

// RunPassive runs a baseline scan against target
func (z *ZAPScanner) RunPassive(ctx context.Context, target string) (*ScanResult, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("url is required")
	}

	mount, err := filepath.Abs(z.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	reportFile := fmt.Sprintf("api-passive-scan-report_%s.json", z.now().Format(reportTimestamp))
	return z.run(ctx, z.PassiveArgs(mount, target, reportFile), reportFile)
}

// RunActive runs an API scan of the OpenAPI definition named definition,
// which must already be stored in the input directory
func (z *ZAPScanner) RunActive(ctx context.Context, definition string) (*ScanResult, error) {
	name := filepath.Base(definition)
	if _, err := os.Stat(filepath.Join(z.inputDir, name)); err != nil {
		return nil, fmt.Errorf("api definition %s: %w", name, err)
	}

	mount, err := filepath.Abs(z.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	inContainer, err := z.containerPath(name)
	if err != nil {
		return nil, err
	}

	reportFile := fmt.Sprintf("api-active-scan-report_%s.json", z.now().Format(reportTimestamp))
	return z.run(ctx, z.ActiveArgs(mount, inContainer, reportFile), reportFile)
}

// containerPath maps a file of the input directory to its path in the container.
// The input directory has to live below the output directory.
func (z *ZAPScanner) containerPath(name string) (string, error) {
	out, err := filepath.Abs(z.outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}
	in, err := filepath.Abs(z.inputDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve input directory: %w", err)
	}
	rel, err := filepath.Rel(out, in)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("input directory %s is not inside output directory %s", z.inputDir, z.outputDir)
	}
	return path.Join(containerWorkDir, filepath.ToSlash(rel), name), nil
}

func (z *ZAPScanner) run(ctx context.Context, args []string, reportFile string) (*ScanResult, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, z.timeout)
	defer cancel()

	log := logrus.WithFields(logrus.Fields{"component": "scanner", "report": reportFile})
	log.WithField("args", strings.Join(args, " ")).Info("Starting ZAP scan")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(cmdCtx, z.dockerPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	started := z.now()
	err := cmd.Run()
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		log.Warn("ZAP scan timed out")
		return nil, fmt.Errorf("%w after %s", ErrTimeout, z.timeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	urls := countURLs(stdout.String())
	res := &ScanResult{
		ReportFile: filepath.Join(z.outputDir, reportFile),
		URLs:       urls,
		Duration:   z.now().Sub(started).Round(time.Second).String(),
	}

	if err == nil {
		log.WithField("urls", urls).Info("ZAP scan completed")
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to start %s: %w", z.dockerPath, err)
	}

	// ZAP exits non-zero when it raises warnings; crawling URLs means the report was written
	if urls > 0 {
		log.WithFields(logrus.Fields{"urls": urls, "exit_code": exitErr.ExitCode()}).Info("ZAP scan completed with alerts")
		return res, nil
	}

	log.WithField("exit_code", exitErr.ExitCode()).Error("ZAP scan failed")
	return nil, &ScanError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
}

func countURLs(stdout string) int {
	m := totalURLs.FindStringSubmatch(stdout)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// GetVersion returns the docker client version
func (z *ZAPScanner) GetVersion(ctx context.Context) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, z.dockerPath, "version", "--format", "{{.Client.Version}}")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get docker version: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ValidateInstallation checks that docker can be executed
func (z *ZAPScanner) ValidateInstallation(ctx context.Context) error {
	if filepath.IsAbs(z.dockerPath) {
		if _, err := os.Stat(z.dockerPath); err != nil {
			return fmt.Errorf("docker not found at %s: %w", z.dockerPath, err)
		}
	} else {
		if _, err := exec.LookPath(z.dockerPath); err != nil {
			return fmt.Errorf("docker not found in PATH: %w", err)
		}
	}

	if _, err := z.GetVersion(ctx); err != nil {
		return err
	}
	return nil
}
