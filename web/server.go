package web

import (
	"context"
	"errors"
	"fmt"

	"api-vuln-dashboard/db"
	"api-vuln-dashboard/web/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

// uploadLimit bounds uploaded API definitions
const uploadLimit = 16 * 1024 * 1024

// AppServer serves the dashboard REST API
type AppServer struct {
	app      *fiber.App
	database *db.Database
	port     string
}

// NewAppServer creates the server. scanner and notifier may be nil; without a
// scanner the scan trigger endpoints are not registered.
func NewAppServer(database *db.Database, port string, scanner service.Scanner, notifier service.ScanNotifier) *AppServer {
	app := fiber.New(fiber.Config{
		AppName:               "API Vulnerability Dashboard",
		BodyLimit:             uploadLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	server := &AppServer{
		app:      app,
		database: database,
		port:     port,
	}

	server.setupRoutes(scanner, notifier)
	return server
}

// setupRoutes configures all API routes
func (ds *AppServer) setupRoutes(scanner service.Scanner, notifier service.ScanNotifier) {
	health := service.NewHealthService(ds.database)
	scans := service.NewScanService(ds.database)
	vulns := service.NewVulnerabilityService(ds.database)
	custom := service.NewCustomisationService(ds.database)

	api := ds.app.Group("/api/v1")
	api.Get("/health", health.HandleHealthCheck)
	api.Get("/health/db", health.HandleAPIHealthDB)

	api.Get("/scans", scans.HandleAPIScans)
	api.Get("/scans/:id", scans.HandleAPIScanDetail)

	api.Get("/vulnerabilities", vulns.HandleAPIVulnerabilities)
	api.Get("/vulnerability_trend", vulns.HandleAPIVulnerabilityTrend)
	api.Get("/categories", vulns.HandleAPICategories)

	api.Get("/customisation", custom.HandleAPIGetCustomisation)
	api.Post("/customisation", custom.HandleAPIUpdateCustomisation)

	if scanner != nil {
		trigger := service.NewScannerService(scanner, notifier)
		api.Post("/run-passive-scan", trigger.HandleAPIRunPassiveScan)
		api.Post("/run-active-scan", trigger.HandleAPIRunActiveScan)
	}
}

// errorHandler renders unhandled errors in the API's error format
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.Path()).Error("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// App exposes the fiber application, mainly for tests
func (ds *AppServer) App() *fiber.App {
	return ds.app
}

// Start starts the web server
func (ds *AppServer) Start() error {
	logrus.WithField("port", ds.port).Info("Starting API Vulnerability Dashboard")
	return ds.app.Listen(":" + ds.port)
}

// Stop gracefully stops the web server
func (ds *AppServer) Stop() error {
	return ds.app.Shutdown()
}

// Run serves until ctx is done and then shuts the server down
func (ds *AppServer) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- ds.Start() }()

	select {
	case err := <-errc:
		return fmt.Errorf("web server stopped: %w", err)
	case <-ctx.Done():
		logrus.Info("Shutting down web server")
		if err := ds.Stop(); err != nil {
			return fmt.Errorf("failed to shut down web server: %w", err)
		}
		return <-errc
	}
}
