package service

import (
	"time"

	"api-vuln-dashboard/db"

	"github.com/gofiber/fiber/v2"
)

// Version is reported by the health endpoint
var Version = "1.0.0"

type HealthService struct {
	database *db.Database
}

func NewHealthService(db *db.Database) *HealthService {
	return &HealthService{database: db}
}

func (ds *HealthService) HandleHealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   Version,
	})
}

func (ds *HealthService) HandleAPIHealthDB(c *fiber.Ctx) error {
	if err := ds.database.Ping(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "error", "message": "Database connection failed"})
	}
	return c.JSON(fiber.Map{"status": "ok", "message": "Database is healthy", "driver": ds.database.Driver()})
}
