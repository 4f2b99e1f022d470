package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/menubot/menubot/internal/keyboard"
	"github.com/menubot/menubot/internal/messenger"
)

// SendDelay is the minimum spacing between consecutive API calls through
// one gateway, keeping well under Telegram's ~30 msg/s ceiling.
const SendDelay = 100 * time.Millisecond

const blockedByUserDescription = "bot was blocked by the user"

// FileIDCache stores platform file ids across uploads. *keyboard.FileIDs
// satisfies it.
type FileIDCache interface {
	Cached(ctx context.Context, actionID int64, token, localPath string) (string, bool, error)
	Remember(ctx context.Context, actionID int64, token, localPath, fileID string) error
}

// SubscriberDeactivator marks a subscriber inactive when the platform
// reports the bot was blocked.
type SubscriberDeactivator interface {
	DeactivateByToken(ctx context.Context, token, userID string) error
}

// Gateway is the outbound Telegram client. Broadcast targets are sent
// one recipient at a time with the gateway's pacing delay, Telegram has
// no native broadcast call.
type Gateway struct {
	logger      *slog.Logger
	files       FileIDCache
	deactivator SubscriberDeactivator

	clientsMu sync.Mutex
	clients   map[string]*tgbotapi.BotAPI

	paceMu   sync.Mutex
	lastCall time.Time
}

// NewGateway creates a Telegram gateway.
func NewGateway(log *slog.Logger, files FileIDCache, deactivator SubscriberDeactivator) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		logger:      log.With(slog.String("gateway", "telegram")),
		files:       files,
		deactivator: deactivator,
		clients:     map[string]*tgbotapi.BotAPI{},
	}
}

// Messenger reports the platform this gateway sends to.
func (*Gateway) Messenger() messenger.Messenger {
	return messenger.Telegram
}

func (g *Gateway) client(token string) (*tgbotapi.BotAPI, error) {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	if bot, ok := g.clients[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}
	g.clients[token] = bot
	return bot, nil
}

// pace blocks until at least SendDelay has passed since the previous
// call through this gateway.
func (g *Gateway) pace() {
	g.paceMu.Lock()
	defer g.paceMu.Unlock()
	if wait := SendDelay - time.Since(g.lastCall); wait > 0 {
		time.Sleep(wait)
	}
	g.lastCall = time.Now()
}

// SendText sends a text message with the keyboard rendered as reply
// markup.
func (g *Gateway) SendText(ctx context.Context, token string, target messenger.Target, text string, kb *keyboard.Keyboard) ([]messenger.SentRef, error) {
	return g.eachRecipient(ctx, token, target, func(chatID int64) (tgbotapi.Message, error) {
		bot, err := g.client(token)
		if err != nil {
			return tgbotapi.Message{}, err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if markup, ok := replyMarkup(kb); ok {
			msg.ReplyMarkup = markup
		}
		return bot.Send(msg)
	})
}

// SendMedia sends a photo, video or document. A cached file id is reused
// when the stored local path still matches, otherwise the file is
// uploaded and the returned id cached for (action, token). Media of kind
// url is sent as a plain text message carrying the link.
func (g *Gateway) SendMedia(ctx context.Context, token string, target messenger.Target, media messenger.Media, kb *keyboard.Keyboard) ([]messenger.SentRef, error) {
	if media.Kind == messenger.MediaURL {
		return g.SendText(ctx, token, target, media.URL, kb)
	}
	return g.eachRecipient(ctx, token, target, func(chatID int64) (tgbotapi.Message, error) {
		bot, err := g.client(token)
		if err != nil {
			return tgbotapi.Message{}, err
		}
		file, cached, err := g.mediaFile(ctx, token, media)
		if err != nil {
			return tgbotapi.Message{}, err
		}
		resp, err := bot.Send(mediaConfig(chatID, media.Kind, file, kb))
		if err != nil {
			return tgbotapi.Message{}, err
		}
		if !cached && g.files != nil {
			if id := responseFileID(resp, media.Kind); id != "" {
				if err := g.files.Remember(ctx, media.ActionID, token, media.LocalPath, id); err != nil {
					g.logger.Warn("cache file id", slog.Int64("action_id", media.ActionID), slog.Any("error", err))
				}
			}
		}
		return resp, nil
	})
}

func (g *Gateway) mediaFile(ctx context.Context, token string, media messenger.Media) (tgbotapi.RequestFileData, bool, error) {
	if g.files != nil {
		id, ok, err := g.files.Cached(ctx, media.ActionID, token, media.LocalPath)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return tgbotapi.FileID(id), true, nil
		}
	}
	if media.LocalPath == "" {
		return nil, false, fmt.Errorf("media action %d has no local path", media.ActionID)
	}
	return tgbotapi.FilePath(media.LocalPath), false, nil
}

func mediaConfig(chatID int64, kind messenger.MediaKind, file tgbotapi.RequestFileData, kb *keyboard.Keyboard) tgbotapi.Chattable {
	switch kind {
	case messenger.MediaVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		if markup, ok := replyMarkup(kb); ok {
			cfg.ReplyMarkup = markup
		}
		return cfg
	case messenger.MediaDocument:
		cfg := tgbotapi.NewDocument(chatID, file)
		if markup, ok := replyMarkup(kb); ok {
			cfg.ReplyMarkup = markup
		}
		return cfg
	default:
		cfg := tgbotapi.NewPhoto(chatID, file)
		if markup, ok := replyMarkup(kb); ok {
			cfg.ReplyMarkup = markup
		}
		return cfg
	}
}

func responseFileID(resp tgbotapi.Message, kind messenger.MediaKind) string {
	switch kind {
	case messenger.MediaVideo:
		if resp.Video != nil {
			return resp.Video.FileID
		}
	case messenger.MediaDocument:
		if resp.Document != nil {
			return resp.Document.FileID
		}
	default:
		if len(resp.Photo) > 0 {
			return resp.Photo[len(resp.Photo)-1].FileID
		}
	}
	return ""
}

// SendLocation sends a lat/lon point.
func (g *Gateway) SendLocation(ctx context.Context, token string, target messenger.Target, loc messenger.Location, kb *keyboard.Keyboard) ([]messenger.SentRef, error) {
	return g.eachRecipient(ctx, token, target, func(chatID int64) (tgbotapi.Message, error) {
		bot, err := g.client(token)
		if err != nil {
			return tgbotapi.Message{}, err
		}
		cfg := tgbotapi.NewLocation(chatID, loc.Lat, loc.Lon)
		if markup, ok := replyMarkup(kb); ok {
			cfg.ReplyMarkup = markup
		}
		return bot.Send(cfg)
	})
}

// SendSticker sends a sticker by its Telegram file id.
func (g *Gateway) SendSticker(ctx context.Context, token string, target messenger.Target, stickerID string, kb *keyboard.Keyboard) ([]messenger.SentRef, error) {
	return g.eachRecipient(ctx, token, target, func(chatID int64) (tgbotapi.Message, error) {
		bot, err := g.client(token)
		if err != nil {
			return tgbotapi.Message{}, err
		}
		cfg := tgbotapi.NewSticker(chatID, tgbotapi.FileID(stickerID))
		if markup, ok := replyMarkup(kb); ok {
			cfg.ReplyMarkup = markup
		}
		return bot.Send(cfg)
	})
}

// DeleteMessage removes a previously sent message.
func (g *Gateway) DeleteMessage(ctx context.Context, token, chatID, messageID string) error {
	bot, err := g.client(token)
	if err != nil {
		return err
	}
	chat, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", chatID, err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram message id %q: %w", messageID, err)
	}
	g.pace()
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(chat, msgID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SetWebhook registers the callback URL for a bot token.
func (g *Gateway) SetWebhook(ctx context.Context, token, url string) error {
	bot, err := g.client(token)
	if err != nil {
		return err
	}
	cfg, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	if _, err := bot.Request(cfg); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// RemoveWebhook unregisters the callback URL for a bot token.
func (g *Gateway) RemoveWebhook(ctx context.Context, token string) error {
	bot, err := g.client(token)
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("remove webhook: %w", err)
	}
	return nil
}

// WebhookInfo returns the currently registered callback URL, empty when
// none is set.
func (g *Gateway) WebhookInfo(ctx context.Context, token string) (string, error) {
	bot, err := g.client(token)
	if err != nil {
		return "", err
	}
	info, err := bot.GetWebhookInfo()
	if err != nil {
		return "", fmt.Errorf("get webhook info: %w", err)
	}
	return info.URL, nil
}

// AccountInfo returns the bot's username via getMe.
func (g *Gateway) AccountInfo(ctx context.Context, token string) (string, error) {
	bot, err := g.client(token)
	if err != nil {
		return "", err
	}
	me, err := bot.GetMe()
	if err != nil {
		return "", fmt.Errorf("get me: %w", err)
	}
	return me.UserName, nil
}

// FileURL resolves a file id to a download link, for archiving inbound
// media.
func (g *Gateway) FileURL(ctx context.Context, token, fileID string) (string, error) {
	bot, err := g.client(token)
	if err != nil {
		return "", err
	}
	file, err := bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	return file.Link(token), nil
}

// eachRecipient runs one paced API call per target recipient. Broadcast
// failures are logged per recipient and do not abort the rest of the
// list; a single-recipient failure is returned to the caller. A blocked
// bot deactivates the subscriber before the error propagates.
func (g *Gateway) eachRecipient(ctx context.Context, token string, target messenger.Target, send func(chatID int64) (tgbotapi.Message, error)) ([]messenger.SentRef, error) {
	recipients := target.Broadcast
	if !target.IsBroadcast() {
		recipients = []string{target.ChatID}
	}
	var refs []messenger.SentRef
	for _, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			return refs, err
		}
		chatID, err := strconv.ParseInt(recipient, 10, 64)
		if err != nil {
			g.logger.Warn("bad telegram chat id", slog.String("chat_id", recipient))
			continue
		}
		g.pace()
		resp, err := send(chatID)
		if err != nil {
			err = g.normalizeSendError(ctx, token, recipient, err)
			if !target.IsBroadcast() {
				return refs, err
			}
			g.logger.Warn("telegram send failed",
				slog.String("chat_id", recipient), slog.Any("error", err))
			continue
		}
		refs = append(refs, messenger.SentRef{
			ChatID:    recipient,
			MessageID: strconv.Itoa(resp.MessageID),
		})
	}
	return refs, nil
}

// normalizeSendError maps the blocked-by-user rejection onto
// ErrBlockedByUser and deactivates the subscriber as a side effect.
func (g *Gateway) normalizeSendError(ctx context.Context, token, userID string, err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || !strings.Contains(apiErr.Message, blockedByUserDescription) {
		return err
	}
	if g.deactivator != nil {
		if derr := g.deactivator.DeactivateByToken(ctx, token, userID); derr != nil {
			g.logger.Error("deactivate blocked subscriber",
				slog.String("user_id", userID), slog.Any("error", derr))
		} else {
			g.logger.Info("subscriber blocked the bot, deactivated",
				slog.String("user_id", userID))
		}
	}
	return fmt.Errorf("%w: %s", messenger.ErrBlockedByUser, apiErr.Message)
}

// replyMarkup renders a keyboard to Telegram reply markup. A nil or
// empty keyboard yields no markup.
func replyMarkup(kb *keyboard.Keyboard) (tgbotapi.ReplyKeyboardMarkup, bool) {
	if kb == nil || len(kb.Buttons) == 0 {
		return tgbotapi.ReplyKeyboardMarkup{}, false
	}
	var rows [][]tgbotapi.KeyboardButton
	for _, row := range kb.TelegramRows() {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(b.Text))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
	}
	return tgbotapi.NewReplyKeyboard(rows...), true
}
