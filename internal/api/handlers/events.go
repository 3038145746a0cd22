/**
 * @description
 * Economic event and trade graph API handlers.
 * Event ingest, asserted impacts, derived-impact reads and the directed
 * trade edges the propagation pass runs over.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/models
 * - backend/internal/services
 */

package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/macronet-project/backend/internal/models"
	"github.com/macronet-project/backend/internal/services"
)

type EventHandler struct {
	Service *services.EventService
}

func NewEventHandler(service *services.EventService) *EventHandler {
	return &EventHandler{Service: service}
}

// CreateEventRequest mirrors services.EventInput with wire-friendly dates.
type CreateEventRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	EventDate   string  `json:"event_date"`
	EndDate     *string `json:"end_date"`
}

// CreateEvent records a global economic event.
// POST /api/v1/events
func (h *EventHandler) CreateEvent(c *fiber.Ctx) error {
	var req CreateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	in := services.EventInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
	}
	if req.EventDate != "" {
		ts, err := parseDate(req.EventDate)
		if err != nil {
			return badRequest(c, "event_date must be YYYY-MM-DD or RFC 3339")
		}
		in.EventDate = ts
	}
	if req.EndDate != nil && *req.EndDate != "" {
		ts, err := parseDate(*req.EndDate)
		if err != nil {
			return badRequest(c, "end_date must be YYYY-MM-DD or RFC 3339")
		}
		in.EndDate = &ts
	}

	event, err := h.Service.CreateEvent(c.Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(event)
}

// eventResponse decorates an event with its recovery classification.
type eventResponse struct {
	models.GlobalEconomicEvent
	Recovery string `json:"recovery"`
}

// ListEvents returns events newest first.
// GET /api/v1/events
func (h *EventHandler) ListEvents(c *fiber.Ctx) error {
	params := services.QueryEventsParams{Category: c.Query("category")}
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

	events, err := h.Service.ListEvents(c.Context(), params)
	if err != nil {
		return respondError(c, err)
	}

	out := make([]eventResponse, len(events))
	for i := range events {
		out[i] = eventResponse{
			GlobalEconomicEvent: events[i],
			Recovery:            services.ClassifyRecovery(&events[i]),
		}
	}
	return c.JSON(out)
}

// GetEvent returns one event by id.
// GET /api/v1/events/:id
func (h *EventHandler) GetEvent(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid event id")
	}
	event, err := h.Service.GetEvent(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(eventResponse{
		GlobalEconomicEvent: *event,
		Recovery:            services.ClassifyRecovery(event),
	})
}

// AssertImpact records or revises the asserted impact of an event on a
// country and re-propagates derived impacts over the trade graph.
// POST /api/v1/events/:id/impacts
func (h *EventHandler) AssertImpact(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid event id")
	}
	var in services.ImpactInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}

	impact, err := h.Service.AssertImpact(c.Context(), id, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(impactResponse{
		EventCountryImpact: *impact,
		Severity:           services.ClassifySeverity(impact.Magnitude),
	})
}

// impactResponse decorates an impact with its severity label.
type impactResponse struct {
	models.EventCountryImpact
	Severity string `json:"severity"`
}

// GetImpacts lists an event's impacts, assertions before derived rows.
// GET /api/v1/events/:id/impacts
func (h *EventHandler) GetImpacts(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid event id")
	}

	impacts, err := h.Service.GetImpacts(c.Context(), id, services.QueryImpactsParams{
		IncludeHistory: c.QueryBool("include_history", false),
	})
	if err != nil {
		return respondError(c, err)
	}

	out := make([]impactResponse, len(impacts))
	for i := range impacts {
		out[i] = impactResponse{
			EventCountryImpact: impacts[i],
			Severity:           services.ClassifySeverity(impacts[i].Magnitude),
		}
	}
	return c.JSON(out)
}

// ListTrade returns directed trade edges, newest year first.
// GET /api/v1/trade
func (h *EventHandler) ListTrade(c *fiber.Ctx) error {
	edges, err := h.Service.ListTradeRelationships(c.Context(), services.QueryTradeParams{
		Country:  strings.ToUpper(c.Query("country")),
		Exporter: strings.ToUpper(c.Query("exporter")),
		Importer: strings.ToUpper(c.Query("importer")),
		Year:     c.QueryInt("year", 0),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(edges)
}

// UpsertTrade writes one directed trade edge (optionally its reciprocal)
// and re-propagates stored event impacts.
// POST /api/v1/trade
func (h *EventHandler) UpsertTrade(c *fiber.Ctx) error {
	var in services.TradeInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	edges, err := h.Service.UpsertTradeRelationship(c.Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(edges)
}
