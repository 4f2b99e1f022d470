package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/menubot/menubot/internal/messenger"
)

// WebhookProcessor routes one normalized inbound callback.
// *dispatch.Processor satisfies it.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, m messenger.Messenger, slug string, body []byte) error
}

// WebhookHandler receives messenger callbacks. The platforms retry on
// non-2xx, so everything short of a malformed body is acknowledged with
// 200 and handled (or logged) internally.
type WebhookHandler struct {
	logger    *slog.Logger
	processor WebhookProcessor
}

func NewWebhookHandler(log *slog.Logger, processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:    log.With(slog.String("handler", "webhook")),
		processor: processor,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	for _, m := range []messenger.Messenger{messenger.Telegram, messenger.Viber} {
		path := "/" + string(m) + "/:slug"
		e.Any(path, h.receive(m))
		e.Any(path+"/", h.receive(m))
	}
}

func (h *WebhookHandler) receive(m messenger.Messenger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Method != http.MethodPost {
			return c.NoContent(http.StatusNotFound)
		}
		slug := c.Param("slug")
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		err = h.processor.HandleWebhook(c.Request().Context(), m, slug, body)
		if err != nil {
			if errors.Is(err, messenger.ErrMalformedPayload) {
				return c.NoContent(http.StatusBadRequest)
			}
			// Acknowledge anyway, a retry would hit the same failure.
			h.logger.Error("webhook processing",
				slog.String("messenger", string(m)),
				slog.String("slug", slug),
				slog.Any("error", err))
		}
		return c.NoContent(http.StatusOK)
	}
}
