package service

import (
	"errors"

	"api-vuln-dashboard/db"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// errorResponse writes the structured error payload
func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// storeError maps a database error onto a status. Missing rows are 404,
// anything else is logged and reported as 500.
func storeError(c *fiber.Ctx, err error, message string) error {
	if errors.Is(err, db.ErrNotFound) {
		return errorResponse(c, fiber.StatusNotFound, err.Error())
	}
	logrus.WithError(err).WithField("path", c.Path()).Error(message)
	return errorResponse(c, fiber.StatusInternalServerError, message)
}
