/**
 * @description
 * Network analysis API handlers.
 * Serves stored correlation facts, leading-indicator detections,
 * correlation-degree centrality and composite country health scores.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 */

package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/macronet-project/backend/internal/services"
)

type AnalysisHandler struct {
	Service *services.AnalysisService
}

func NewAnalysisHandler(service *services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{Service: service}
}

// GetCorrelations lists stored correlation facts, strongest first.
// GET /api/v1/analysis/correlations
func (h *AnalysisHandler) GetCorrelations(c *fiber.Ctx) error {
	correlations, err := h.Service.GetCorrelations(c.Context(), services.QueryCorrelationsParams{
		Country:     strings.ToUpper(c.Query("country")),
		Category:    c.Query("category"),
		MinStrength: c.QueryFloat("min_strength", 0),
		Limit:       c.QueryInt("limit", 0),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(correlations)
}

// GetLeadingIndicators lists leading-indicator detections, strongest first.
// GET /api/v1/analysis/leading-indicators
func (h *AnalysisHandler) GetLeadingIndicators(c *fiber.Ctx) error {
	indicators, err := h.Service.GetLeadingIndicators(c.Context(), services.QueryLeadingParams{
		Country:        strings.ToUpper(c.Query("country")),
		Category:       c.Query("category"),
		IncludeHistory: c.QueryBool("include_history", false),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(indicators)
}

// GetCentrality ranks countries by mean correlation strength over the most
// recent analysis window.
// GET /api/v1/analysis/centrality
func (h *AnalysisHandler) GetCentrality(c *fiber.Ctx) error {
	entries, err := h.Service.GetCentrality(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entries)
}

// GetCountryHealth returns the composite health score for one country.
// GET /api/v1/countries/:code/health
func (h *AnalysisHandler) GetCountryHealth(c *fiber.Ctx) error {
	health, err := h.Service.GetCountryHealth(c.Context(), strings.ToUpper(c.Params("code")))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(health)
}
