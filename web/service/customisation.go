package service

import (
	"encoding/json"
	"strconv"

	"api-vuln-dashboard/db"
	"api-vuln-dashboard/models"

	"github.com/gofiber/fiber/v2"
)

type CustomisationService struct {
	database *db.Database
}

func NewCustomisationService(db *db.Database) *CustomisationService {
	return &CustomisationService{database: db}
}

// HandleAPIGetCustomisation lists risk weights filtered by user_id and owasp_cat
func (ds *CustomisationService) HandleAPIGetCustomisation(c *fiber.Ctx) error {
	filter := models.RiskWeightFilter{Category: c.Query("owasp_cat")}

	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid user ID")
		}
		filter.UserID = id
	}

	weights, err := ds.database.ListRiskWeights(c.UserContext(), filter)
	if err != nil {
		return storeError(c, err, "Failed to get customisation")
	}
	return c.JSON(weights)
}

// HandleAPIUpdateCustomisation applies a batch of weight updates atomically
func (ds *CustomisationService) HandleAPIUpdateCustomisation(c *fiber.Ctx) error {
	var weights []models.RiskWeight
	if err := json.Unmarshal(c.Body(), &weights); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid customisation format")
	}
	if len(weights) == 0 {
		return errorResponse(c, fiber.StatusBadRequest, "No customisation given")
	}

	for _, w := range weights {
		if w.UserID == 0 || (w.Category == "" && w.CategoryID == 0) {
			return errorResponse(c, fiber.StatusBadRequest, "user_id and owasp_cat are required")
		}
		if w.Weight < 0 {
			return errorResponse(c, fiber.StatusBadRequest, "weight must not be negative")
		}
	}

	if err := ds.database.UpdateRiskWeights(c.UserContext(), weights); err != nil {
		return storeError(c, err, "Failed to update customisation")
	}
	return c.JSON(fiber.Map{"status": "success"})
}
