/**
 * @description
 * Shared response helpers for the API handlers.
 * Translates the service error taxonomy into HTTP statuses with
 * machine-readable codes, and parses common request parameters.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/apperr
 */

package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/macronet-project/backend/internal/apperr"
)

// respondError maps a service error onto an HTTP status. Every body carries
// the human message under "error" and a stable machine code under "code".
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case apperr.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(), "code": "validation_failed",
		})
	case errors.Is(err, apperr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(), "code": "not_found",
		})
	case apperr.IsRateLimitTimeout(err):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": err.Error(), "code": "rate_limit_timeout",
		})
	case apperr.IsFetchFailure(err), apperr.IsSystemic(err):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(), "code": "upstream_failure",
		})
	case apperr.IsInsufficientData(err):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(), "code": "insufficient_data",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(), "code": "internal_error",
		})
	}
}

// badRequest reports a malformed request that never reached a service.
func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg, "code": "bad_request",
	})
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
