package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/menubot/menubot/internal/channel"
	"github.com/menubot/menubot/internal/messenger"
)

// WebhookChannelSource loads the tenant whose callbacks are being
// wired. *channel.Store satisfies it.
type WebhookChannelSource interface {
	GetBySlug(ctx context.Context, slug string) (channel.Channel, error)
}

// AccountNamer is the optional gateway capability behind the info
// endpoint's account field (Telegram getMe, Viber get_account_info).
type AccountNamer interface {
	AccountInfo(ctx context.Context, token string) (string, error)
}

// WebhookAdminHandler points the messenger platforms at this service's
// callback URLs.
type WebhookAdminHandler struct {
	logger     *slog.Logger
	channels   WebhookChannelSource
	registry   *messenger.Registry
	publicHost string
}

func NewWebhookAdminHandler(log *slog.Logger, channels WebhookChannelSource, registry *messenger.Registry, publicHost string) *WebhookAdminHandler {
	return &WebhookAdminHandler{
		logger:     log.With(slog.String("handler", "webhook_admin")),
		channels:   channels,
		registry:   registry,
		publicHost: publicHost,
	}
}

func (h *WebhookAdminHandler) Register(e *echo.Echo) {
	group := e.Group("/api/channels/:slug/webhook/:messenger")
	group.PUT("", h.SetWebhook)
	group.DELETE("", h.UnsetWebhook)
	group.GET("", h.WebhookInfo)
}

// CallbackURL is the public endpoint a messenger posts updates to.
func (h *WebhookAdminHandler) CallbackURL(m messenger.Messenger, slug string) string {
	return fmt.Sprintf("https://%s/%s/%s/", h.publicHost, m, slug)
}

func (h *WebhookAdminHandler) SetWebhook(c echo.Context) error {
	gw, token, slug, m, err := h.resolve(c)
	if err != nil {
		return err
	}
	url := h.CallbackURL(m, slug)
	if err := gw.SetWebhook(c.Request().Context(), token, url); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	h.logger.Info("webhook set",
		slog.String("messenger", string(m)), slog.String("slug", slug))
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

func (h *WebhookAdminHandler) UnsetWebhook(c echo.Context) error {
	gw, token, slug, m, err := h.resolve(c)
	if err != nil {
		return err
	}
	if err := gw.RemoveWebhook(c.Request().Context(), token); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	h.logger.Info("webhook removed",
		slog.String("messenger", string(m)), slog.String("slug", slug))
	return c.NoContent(http.StatusNoContent)
}

func (h *WebhookAdminHandler) WebhookInfo(c echo.Context) error {
	gw, token, _, _, err := h.resolve(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	url, err := gw.WebhookInfo(ctx, token)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	info := map[string]string{"url": url}
	if namer, ok := gw.(AccountNamer); ok {
		account, err := namer.AccountInfo(ctx, token)
		if err != nil {
			h.logger.Warn("account info", slog.Any("error", err))
		} else {
			info["account"] = account
		}
	}
	return c.JSON(http.StatusOK, info)
}

func (h *WebhookAdminHandler) resolve(c echo.Context) (messenger.Gateway, string, string, messenger.Messenger, error) {
	m, ok := messenger.Parse(c.Param("messenger"))
	if !ok {
		return nil, "", "", "", echo.NewHTTPError(http.StatusBadRequest, "unknown messenger")
	}
	slug := c.Param("slug")
	ch, err := h.channels.GetBySlug(c.Request().Context(), slug)
	if err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) {
			return nil, "", "", "", echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}
		return nil, "", "", "", echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	token := ch.Token(m)
	if token == "" {
		return nil, "", "", "", echo.NewHTTPError(http.StatusNotFound, "channel has no bot for this messenger")
	}
	gw, ok := h.registry.Gateway(m)
	if !ok {
		return nil, "", "", "", echo.NewHTTPError(http.StatusInternalServerError, "no gateway registered")
	}
	return gw, token, slug, m, nil
}
