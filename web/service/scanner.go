package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"api-vuln-dashboard/scanner"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// allowedDefinitions are the accepted API definition upload extensions
var allowedDefinitions = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// Scanner starts ZAP scans
type Scanner interface {
	RunPassive(ctx context.Context, target string) (*scanner.ScanResult, error)
	RunActive(ctx context.Context, definition string) (*scanner.ScanResult, error)
	InputDir() string
}

// ScanNotifier is told about finished scans
type ScanNotifier interface {
	NotifyScanFinished(mode, target string, scanErr error) error
}

type ScanRequest struct {
	URL string `json:"url"`
}

type ScannerService struct {
	scanner  Scanner
	notifier ScanNotifier
}

// NewScannerService creates the scan trigger handlers. notifier may be nil.
func NewScannerService(s Scanner, notifier ScanNotifier) *ScannerService {
	return &ScannerService{scanner: s, notifier: notifier}
}

// HandleAPIRunPassiveScan runs a baseline scan of the posted url
func (ds *ScannerService) HandleAPIRunPassiveScan(c *fiber.Ctx) error {
	var req ScanRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return errorResponse(c, fiber.StatusBadRequest, "URL is missing")
	}

	res, err := ds.scanner.RunPassive(c.UserContext(), req.URL)
	ds.notify("passive", req.URL, err)
	if err != nil {
		return scanError(c, err)
	}
	return c.JSON(fiber.Map{"message": "URL successfully scanned", "result": res})
}

// HandleAPIRunActiveScan stores an uploaded OpenAPI definition and runs an
// API scan against it
func (ds *ScannerService) HandleAPIRunActiveScan(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "No file part")
	}

	name := filepath.Base(file.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return errorResponse(c, fiber.StatusBadRequest, "No selected file")
	}
	if !allowedDefinitions[strings.ToLower(filepath.Ext(name))] {
		return errorResponse(c, fiber.StatusBadRequest, "File type not allowed")
	}

	if err := c.SaveFile(file, filepath.Join(ds.scanner.InputDir(), name)); err != nil {
		logrus.WithError(err).WithField("file", name).Error("Failed to store API definition")
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to store uploaded file")
	}
	logrus.WithField("file", name).Info("API definition uploaded")

	res, err := ds.scanner.RunActive(c.UserContext(), name)
	ds.notify("active", name, err)
	if err != nil {
		return scanError(c, err)
	}
	return c.JSON(fiber.Map{"message": "URL successfully scanned", "result": res})
}

func (ds *ScannerService) notify(mode, target string, scanErr error) {
	if ds.notifier == nil {
		return
	}
	if err := ds.notifier.NotifyScanFinished(mode, target, scanErr); err != nil {
		logrus.WithError(err).Warn("Failed to send scan notification")
	}
}

func scanError(c *fiber.Ctx, err error) error {
	var scanErr *scanner.ScanError
	switch {
	case errors.Is(err, scanner.ErrTimeout):
		return errorResponse(c, fiber.StatusGatewayTimeout, "Scan timed out")
	case errors.As(err, &scanErr):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Scan failed", "details": scanErr.Stderr})
	default:
		logrus.WithError(err).Error("Scan could not be started")
		return errorResponse(c, fiber.StatusInternalServerError, "An unexpected error occurred")
	}
}
