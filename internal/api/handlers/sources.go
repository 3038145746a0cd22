/**
 * @description
 * Source registry API handlers.
 * Covers source registration, configuration patches, catalog listing,
 * crawl history and the country reference table.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/macronet-project/backend/internal/services"
)

type SourceHandler struct {
	Registry *services.RegistryService
}

func NewSourceHandler(registry *services.RegistryService) *SourceHandler {
	return &SourceHandler{Registry: registry}
}

// ListSources returns the source catalog.
// GET /api/v1/sources
func (h *SourceHandler) ListSources(c *fiber.Ctx) error {
	sources, err := h.Registry.ListSources(c.Context(), services.QuerySourcesParams{
		IncludeDisabled: c.QueryBool("include_disabled", false),
		IncludeHidden:   c.QueryBool("include_hidden", false),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sources)
}

// RegisterSource creates a source, or updates the configuration of an
// existing source with the same name.
// POST /api/v1/sources
func (h *SourceHandler) RegisterSource(c *fiber.Ctx) error {
	var in services.SourceInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	source, err := h.Registry.RegisterSource(c.Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(source)
}

// GetSource returns one source by name.
// GET /api/v1/sources/:name
func (h *SourceHandler) GetSource(c *fiber.Ctx) error {
	source, err := h.Registry.GetSource(c.Context(), c.Params("name"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(source)
}

// UpdateSource applies a partial configuration patch; absent fields keep
// their stored values.
// PATCH /api/v1/sources/:name
func (h *SourceHandler) UpdateSource(c *fiber.Ctx) error {
	var patch services.SourceUpdate
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(c, "invalid request body")
	}
	source, err := h.Registry.UpdateSource(c.Context(), c.Params("name"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(source)
}

// ListCrawlAttempts returns a source's crawl history, newest first.
// GET /api/v1/sources/:name/attempts
func (h *SourceHandler) ListCrawlAttempts(c *fiber.Ctx) error {
	attempts, err := h.Registry.ListCrawlAttempts(c.Context(), c.Params("name"), c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(attempts)
}

// ListCountries returns the country reference table.
// GET /api/v1/countries
func (h *SourceHandler) ListCountries(c *fiber.Ctx) error {
	countries, err := h.Registry.ListCountries(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(countries)
}
