package service

import (
	"strconv"

	"api-vuln-dashboard/db"
	"api-vuln-dashboard/models"
	"api-vuln-dashboard/trend"

	"github.com/gofiber/fiber/v2"
)

type VulnerabilityService struct {
	database *db.Database
}

func NewVulnerabilityService(db *db.Database) *VulnerabilityService {
	return &VulnerabilityService{database: db}
}

// HandleAPIVulnerabilities lists findings by scan_url or scan_id. scan_url
// wins when both are given.
func (ds *VulnerabilityService) HandleAPIVulnerabilities(c *fiber.Ctx) error {
	filter := models.VulnerabilityFilter{URL: c.Query("scan_url")}

	if raw := c.Query("scan_id"); raw != "" && filter.URL == "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid scan ID")
		}
		filter.ScanID = id
	}

	vulnerabilities, err := ds.database.ListVulnerabilities(c.UserContext(), filter)
	if err != nil {
		return storeError(c, err, "Failed to get vulnerabilities")
	}
	return c.JSON(vulnerabilities)
}

// HandleAPIVulnerabilityTrend returns per category finding counts over time
// for one URL
func (ds *VulnerabilityService) HandleAPIVulnerabilityTrend(c *fiber.Ctx) error {
	url := c.Query("scan_url")
	if url == "" {
		return errorResponse(c, fiber.StatusBadRequest, "Missing scan_url parameter")
	}

	rows, err := ds.database.TrendRows(c.UserContext(), url)
	if err != nil {
		return storeError(c, err, "Failed to get vulnerability trend")
	}
	return c.JSON(trend.Build(rows))
}

// HandleAPICategories lists the OWASP taxonomy
func (ds *VulnerabilityService) HandleAPICategories(c *fiber.Ctx) error {
	categories, err := ds.database.ListCategories(c.UserContext())
	if err != nil {
		return storeError(c, err, "Failed to get categories")
	}
	return c.JSON(categories)
}
