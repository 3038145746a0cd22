/**
 * @description
 * Pipeline event stream handler.
 * Re-serves crawl and analysis outcome events published on Redis pub/sub
 * over SSE for the presentation layer.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - github.com/redis/go-redis/v9
 * - backend/internal/services
 */

package handlers

import (
	"bufio"
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/macronet-project/backend/internal/services"
	"github.com/redis/go-redis/v9"
)

type StreamHandler struct {
	Redis *redis.Client
}

func NewStreamHandler(rdb *redis.Client) *StreamHandler {
	return &StreamHandler{Redis: rdb}
}

// StreamEvents streams pipeline events over SSE
// GET /api/v1/events/stream
func (h *StreamHandler) StreamEvents(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	requestCtx := c.Context()

	ctx, cancel := context.WithCancel(context.Background())

	pubsub := h.Redis.Subscribe(ctx, services.EventsChannel)
	ch := pubsub.Channel()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cancel()
			_ = pubsub.Close()
		}()

		requestDone := requestCtx.Done()

		for {
			select {
			case <-requestDone:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}
