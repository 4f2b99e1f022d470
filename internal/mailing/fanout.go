package mailing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/menubot/menubot/internal/channel"
	"github.com/menubot/menubot/internal/dispatch"
	"github.com/menubot/menubot/internal/keyboard"
	"github.com/menubot/menubot/internal/messenger"
	"github.com/menubot/menubot/internal/subscriber"
)

// PostStore is the persistence surface the fan-out needs. *Store
// satisfies it.
type PostStore interface {
	GetPost(ctx context.Context, id int64) (Post, error)
	PostActions(ctx context.Context, postID int64) ([]int64, error)
	PostRecipients(ctx context.Context, postID int64) ([]int64, error)
	StampBroadcast(ctx context.Context, postID int64, broadcastID uuid.UUID) error
	MarkDone(ctx context.Context, postID int64) error
	RecordSent(ctx context.Context, rec SentMessage) error
	SentByBroadcast(ctx context.Context, broadcastID uuid.UUID) ([]SentMessage, error)
}

// SubscriberSource loads mailing recipients. *subscriber.Store
// satisfies it.
type SubscriberSource interface {
	ActiveByChannel(ctx context.Context, channelID int64) ([]subscriber.Subscriber, error)
	ByIDs(ctx context.Context, ids []int64) ([]subscriber.Subscriber, error)
}

// ChannelSource loads the post's tenant. *channel.Store satisfies it.
type ChannelSource interface {
	GetByID(ctx context.Context, id int64) (channel.Channel, error)
}

// ActionSource loads the post's actions. *keyboard.Store satisfies it.
type ActionSource interface {
	ActionByID(ctx context.Context, id int64) (keyboard.Action, error)
}

// Fanout broadcasts a post's actions to its recipients. Viber users get
// one chunked broadcast per action, Telegram users are sent to one at a
// time behind the gateway's pacing delay. It runs in the background and
// may take hundreds of seconds for large recipient lists.
type Fanout struct {
	logger      *slog.Logger
	store       PostStore
	subscribers SubscriberSource
	channels    ChannelSource
	actions     ActionSource
	registry    *messenger.Registry
	dispatcher  *dispatch.Dispatcher
}

// NewFanout creates a mailing fan-out.
func NewFanout(
	log *slog.Logger,
	store PostStore,
	subscribers SubscriberSource,
	channels ChannelSource,
	actions ActionSource,
	registry *messenger.Registry,
	dispatcher *dispatch.Dispatcher,
) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{
		logger:      log.With(slog.String("component", "fanout")),
		store:       store,
		subscribers: subscribers,
		channels:    channels,
		actions:     actions,
		registry:    registry,
		dispatcher:  dispatcher,
	}
}

// Send delivers one post. A post deleted before the run starts is a
// clean no-op. Store failures are fatal to the run and surface to the
// caller, per-recipient send failures are not.
func (f *Fanout) Send(ctx context.Context, postID int64) error {
	post, err := f.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			f.logger.Info("post deleted before fan-out", slog.Int64("post_id", postID))
			return nil
		}
		return fmt.Errorf("fanout post %d: %w", postID, err)
	}

	recipients, err := f.recipients(ctx, post)
	if err != nil {
		return fmt.Errorf("fanout post %d: %w", postID, err)
	}
	var telegramUsers, viberUsers []string
	for _, sub := range recipients {
		switch sub.Messenger {
		case messenger.Telegram:
			telegramUsers = append(telegramUsers, sub.UserID)
		case messenger.Viber:
			viberUsers = append(viberUsers, sub.UserID)
		}
	}

	ch, err := f.channels.GetByID(ctx, post.ChannelID)
	if err != nil {
		return fmt.Errorf("fanout post %d: %w", postID, err)
	}
	actionIDs, err := f.store.PostActions(ctx, postID)
	if err != nil {
		return fmt.Errorf("fanout post %d: %w", postID, err)
	}

	// One broadcast id per run groups the sent records, so the mailing
	// stays deletable even after the post row is removed.
	broadcastID := uuid.New()
	if err := f.store.StampBroadcast(ctx, postID, broadcastID); err != nil {
		return fmt.Errorf("fanout post %d: %w", postID, err)
	}

	log := f.logger.With(slog.Int64("post_id", postID),
		slog.Int64("channel_id", ch.ID),
		slog.String("broadcast_id", broadcastID.String()))
	log.Info("fan-out started",
		slog.Int("telegram", len(telegramUsers)), slog.Int("viber", len(viberUsers)))

	for _, actionID := range actionIDs {
		action, err := f.actions.ActionByID(ctx, actionID)
		if err != nil {
			log.Error("load post action", slog.Int64("action_id", actionID), slog.Any("error", err))
			continue
		}
		if len(viberUsers) > 0 {
			f.sendViber(ctx, log, ch, action, viberUsers)
		}
		if len(telegramUsers) > 0 {
			f.sendTelegram(ctx, log, ch, post, broadcastID, action, telegramUsers)
		}
	}

	if err := f.store.MarkDone(ctx, postID); err != nil {
		return fmt.Errorf("fanout post %d: %w", postID, err)
	}
	log.Info("fan-out done")
	return nil
}

func (f *Fanout) recipients(ctx context.Context, post Post) ([]subscriber.Subscriber, error) {
	explicit, err := f.store.PostRecipients(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	if len(explicit) > 0 {
		return f.subscribers.ByIDs(ctx, explicit)
	}
	return f.subscribers.ActiveByChannel(ctx, post.ChannelID)
}

// sendViber issues one broadcast dispatch, the gateway chunks it to the
// platform ceiling. Viber reports no per-recipient message ids, so
// nothing is recorded for deletion.
func (f *Fanout) sendViber(ctx context.Context, log *slog.Logger, ch channel.Channel, action keyboard.Action, users []string) {
	gw, ok := f.registry.Gateway(messenger.Viber)
	if !ok {
		log.Error("no viber gateway registered")
		return
	}
	token := ch.Token(messenger.Viber)
	if token == "" {
		log.Warn("channel has viber subscribers but no viber bot")
		return
	}
	if _, err := f.dispatcher.Dispatch(ctx, gw, token, messenger.ToMany(users), &action); err != nil {
		log.Warn("viber broadcast", slog.Int64("action_id", action.ID), slog.Any("error", err))
	}
}

// sendTelegram dispatches per recipient and records every delivered
// message under the run's broadcast id.
func (f *Fanout) sendTelegram(ctx context.Context, log *slog.Logger, ch channel.Channel, post Post, broadcastID uuid.UUID, action keyboard.Action, users []string) {
	gw, ok := f.registry.Gateway(messenger.Telegram)
	if !ok {
		log.Error("no telegram gateway registered")
		return
	}
	token := ch.Token(messenger.Telegram)
	if token == "" {
		log.Warn("channel has telegram subscribers but no telegram bot")
		return
	}
	for _, userID := range users {
		refs, err := f.dispatcher.Dispatch(ctx, gw, token, messenger.To(userID), &action)
		if err != nil {
			log.Warn("telegram mailing send",
				slog.String("user_id", userID), slog.Any("error", err))
		}
		for _, ref := range refs {
			if ref.IsZero() {
				continue
			}
			rec := SentMessage{
				PostID:      post.ID,
				BroadcastID: broadcastID,
				ChatID:      ref.ChatID,
				MessageID:   ref.MessageID,
			}
			if err := f.store.RecordSent(ctx, rec); err != nil {
				log.Error("record sent message", slog.Any("error", err))
			}
		}
	}
}

// DeletePost removes every recorded Telegram message of a prior
// mailing, looked up by the post's broadcast id. A post that was never
// fanned out has no broadcast id and nothing to delete. Viber has no
// delete primitive, its messages stay.
func (f *Fanout) DeletePost(ctx context.Context, postID int64) error {
	post, err := f.store.GetPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("delete mailing %d: %w", postID, err)
	}
	if post.BroadcastID == uuid.Nil {
		return nil
	}
	ch, err := f.channels.GetByID(ctx, post.ChannelID)
	if err != nil {
		return fmt.Errorf("delete mailing %d: %w", postID, err)
	}
	recs, err := f.store.SentByBroadcast(ctx, post.BroadcastID)
	if err != nil {
		return fmt.Errorf("delete mailing %d: %w", postID, err)
	}
	return f.DeleteMessages(ctx, ch.Token(messenger.Telegram), recs)
}

// DeleteMessages issues one delete call per record, behind the
// gateway's pacing delay. Failures are logged and do not stop the rest.
func (f *Fanout) DeleteMessages(ctx context.Context, token string, recs []SentMessage) error {
	gw, ok := f.registry.Gateway(messenger.Telegram)
	if !ok {
		return fmt.Errorf("no telegram gateway registered")
	}
	for _, rec := range recs {
		if err := gw.DeleteMessage(ctx, token, rec.ChatID, rec.MessageID); err != nil {
			f.logger.Warn("delete mailing message",
				slog.String("chat_id", rec.ChatID),
				slog.String("message_id", rec.MessageID),
				slog.Any("error", err))
		}
	}
	return nil
}
