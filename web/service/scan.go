package service

import (
	"strconv"
	"time"

	"api-vuln-dashboard/db"
	"api-vuln-dashboard/models"

	"github.com/gofiber/fiber/v2"
)

// DateLayout is the format of date query parameters
const DateLayout = "2006-01-02"

type ScanService struct {
	database *db.Database
}

func NewScanService(db *db.Database) *ScanService {
	return &ScanService{database: db}
}

// HandleAPIScans lists scans, optionally filtered by scan_url and scan_date
func (ds *ScanService) HandleAPIScans(c *fiber.Ctx) error {
	filter := models.ScanFilter{URL: c.Query("scan_url")}

	if raw := c.Query("scan_date"); raw != "" {
		date, err := time.Parse(DateLayout, raw)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "scan_date must be formatted as YYYY-MM-DD")
		}
		filter.Date = date
	}

	scans, err := ds.database.ListScans(c.UserContext(), filter)
	if err != nil {
		return storeError(c, err, "Failed to get scans")
	}
	return c.JSON(scans)
}

// HandleAPIScanDetail returns one scan
func (ds *ScanService) HandleAPIScanDetail(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid scan ID")
	}

	scan, err := ds.database.GetScan(c.UserContext(), id)
	if err != nil {
		return storeError(c, err, "Failed to get scan")
	}
	return c.JSON(scan)
}
