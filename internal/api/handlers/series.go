/**
 * @description
 * Series catalog and observation API handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/macronet-project/backend/internal/services"
)

type SeriesHandler struct {
	Service *services.SeriesService
}

func NewSeriesHandler(service *services.SeriesService) *SeriesHandler {
	return &SeriesHandler{Service: service}
}

// ListSeries returns catalog entries, filterable by source, country,
// indicator category and provider watermark.
// GET /api/v1/series
func (h *SeriesHandler) ListSeries(c *fiber.Ctx) error {
	params := services.QuerySeriesParams{
		Source:          c.Query("source"),
		Country:         c.Query("country"),
		Category:        c.Query("category"),
		IncludeInactive: c.QueryBool("include_inactive", false),
		Limit:           c.QueryInt("limit", 0),
		Offset:          c.QueryInt("offset", 0),
	}
	if raw := c.Query("updated_since"); raw != "" {
		ts, err := parseDate(raw)
		if err != nil {
			return badRequest(c, "updated_since must be YYYY-MM-DD or RFC 3339")
		}
		params.UpdatedSince = &ts
	}

	series, err := h.Service.ListSeries(c.Context(), params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(series)
}

// GetSeries returns one series by id.
// GET /api/v1/series/:id
func (h *SeriesHandler) GetSeries(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid series id")
	}
	series, err := h.Service.GetSeries(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(series)
}

// ListObservations returns a series' values in date order. Null values are
// included.
// GET /api/v1/series/:id/observations
func (h *SeriesHandler) ListObservations(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid series id")
	}

	params := services.QueryObservationsParams{
		OriginalOnly: c.QueryBool("original_only", false),
		Limit:        c.QueryInt("limit", 0),
	}
	if raw := c.Query("from"); raw != "" {
		ts, err := parseDate(raw)
		if err != nil {
			return badRequest(c, "from must be YYYY-MM-DD or RFC 3339")
		}
		params.From = &ts
	}
	if raw := c.Query("to"); raw != "" {
		ts, err := parseDate(raw)
		if err != nil {
			return badRequest(c, "to must be YYYY-MM-DD or RFC 3339")
		}
		params.To = &ts
	}

	observations, err := h.Service.ListObservations(c.Context(), id, params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(observations)
}
