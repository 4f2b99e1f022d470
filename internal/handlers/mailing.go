package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/menubot/menubot/internal/channel"
	"github.com/menubot/menubot/internal/mailing"
)

// MailingStore is the post persistence the operator API needs.
// *mailing.Store satisfies it.
type MailingStore interface {
	CreatePost(ctx context.Context, channelID int64, scheduledAt *time.Time, actionIDs, subscriberIDs []int64) (mailing.Post, error)
	GetPost(ctx context.Context, id int64) (mailing.Post, error)
	DeletePost(ctx context.Context, id int64) error
}

// MailingSender runs the broadcast side of a post. *mailing.Fanout
// satisfies it.
type MailingSender interface {
	Send(ctx context.Context, postID int64) error
	DeletePost(ctx context.Context, postID int64) error
}

type MailingChannelSource interface {
	GetByID(ctx context.Context, id int64) (channel.Channel, error)
}

type MailingHandler struct {
	logger   *slog.Logger
	store    MailingStore
	sender   MailingSender
	channels MailingChannelSource
}

func NewMailingHandler(log *slog.Logger, store MailingStore, sender MailingSender, channels MailingChannelSource) *MailingHandler {
	return &MailingHandler{
		logger:   log.With(slog.String("handler", "mailing")),
		store:    store,
		sender:   sender,
		channels: channels,
	}
}

func (h *MailingHandler) Register(e *echo.Echo) {
	group := e.Group("/api/posts")
	group.POST("", h.CreatePost)
	group.GET("/:id", h.GetPost)
	group.POST("/:id/send", h.SendPost)
	group.DELETE("/:id", h.DeletePost)
}

type CreatePostRequest struct {
	ChannelID     int64      `json:"channel_id" validate:"required"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	ActionIDs     []int64    `json:"action_ids" validate:"required,min=1"`
	SubscriberIDs []int64    `json:"subscriber_ids"`
}

// CreatePost stores a mailing. A post without a schedule is sent right
// away, a scheduled one waits for the poller.
func (h *MailingHandler) CreatePost(c echo.Context) error {
	var req CreatePostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	ch, err := h.channels.GetByID(ctx, req.ChannelID)
	if err != nil {
		if errors.Is(err, channel.ErrChannelNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ch.MailingAllowed {
		return echo.NewHTTPError(http.StatusForbidden, "mailing is disabled for this channel")
	}

	post, err := h.store.CreatePost(ctx, req.ChannelID, req.ScheduledAt, req.ActionIDs, req.SubscriberIDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if post.ScheduledAt == nil {
		go h.send(post.ID)
	}
	return c.JSON(http.StatusCreated, post)
}

func (h *MailingHandler) GetPost(c echo.Context) error {
	id, err := h.postID(c)
	if err != nil {
		return err
	}
	post, err := h.store.GetPost(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, mailing.ErrPostNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "post not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, post)
}

// SendPost triggers the fan-out immediately. The broadcast runs in the
// background, the call returns as soon as the post is known.
func (h *MailingHandler) SendPost(c echo.Context) error {
	id, err := h.postID(c)
	if err != nil {
		return err
	}
	post, err := h.store.GetPost(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, mailing.ErrPostNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "post not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if post.IsDone {
		return echo.NewHTTPError(http.StatusConflict, "post already sent")
	}
	go h.send(post.ID)
	return c.NoContent(http.StatusAccepted)
}

// DeletePost removes the delivered Telegram messages and then the post
// itself.
func (h *MailingHandler) DeletePost(c echo.Context) error {
	id, err := h.postID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.sender.DeletePost(ctx, id); err != nil {
		if errors.Is(err, mailing.ErrPostNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "post not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.store.DeletePost(ctx, id); err != nil && !errors.Is(err, mailing.ErrPostNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *MailingHandler) send(postID int64) {
	if err := h.sender.Send(context.Background(), postID); err != nil {
		h.logger.Error("mailing send", slog.Int64("post_id", postID), slog.Any("error", err))
	}
}

func (h *MailingHandler) postID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid post id")
	}
	return id, nil
}
