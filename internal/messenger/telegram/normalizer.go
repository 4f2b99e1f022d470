// Package telegram implements the Telegram Bot API normalizer and
// outbound gateway.
package telegram

import (
	"encoding/json"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/menubot/menubot/internal/messenger"
)

// Normalizer parses Telegram Bot API update JSON into the shared event
// model.
type Normalizer struct{}

// NewNormalizer creates a Telegram normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Messenger reports the platform this normalizer parses.
func (*Normalizer) Messenger() messenger.Messenger {
	return messenger.Telegram
}

// Normalize maps an update onto an event. "/start" subscribes, any other
// leading slash is a system command, everything else with a message is an
// ordinary message. Updates without a message (edited_message and the
// like) come back as unknown and are dropped upstream.
func (*Normalizer) Normalize(body []byte) (messenger.Event, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return messenger.Event{}, messenger.ErrMalformedPayload
	}
	ev := messenger.Event{Kind: messenger.EventUnknown, Messenger: messenger.Telegram}
	msg := update.Message
	if msg == nil {
		return ev, nil
	}
	if msg.Chat == nil {
		return messenger.Event{}, messenger.ErrMalformedPayload
	}
	ev.Sender = messenger.Sender{
		ID:   strconv.FormatInt(msg.Chat.ID, 10),
		Name: senderName(msg),
	}
	ev.MessageToken = strconv.Itoa(msg.MessageID)
	ev.Text = msg.Text

	switch {
	case msg.Text == "/start":
		ev.Kind = messenger.EventSubscribed
	case strings.HasPrefix(msg.Text, "/"):
		ev.Kind = messenger.EventSystemCommand
	default:
		ev.Kind = messenger.EventMessage
	}

	if kind, fileID := extractMedia(msg); fileID != "" {
		ev.MediaFileID = fileID
		ev.MediaType = kind
		if ev.Text == "" {
			ev.Text = msg.Caption
		}
	}
	if msg.Location != nil {
		ev.Location = &messenger.Location{
			Lat: msg.Location.Latitude,
			Lon: msg.Location.Longitude,
		}
	}
	return ev, nil
}

func senderName(msg *tgbotapi.Message) string {
	if msg.Chat.UserName != "" {
		return msg.Chat.UserName
	}
	return msg.Chat.FirstName
}

// extractMedia picks the file handle out of a message. For photos the
// last size is the original.
func extractMedia(msg *tgbotapi.Message) (kind, fileID string) {
	switch {
	case len(msg.Photo) > 0:
		return "photo", msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		return "document", msg.Document.FileID
	case msg.Audio != nil:
		return "audio", msg.Audio.FileID
	case msg.Video != nil:
		return "video", msg.Video.FileID
	case msg.Voice != nil:
		return "voice", msg.Voice.FileID
	case msg.Sticker != nil:
		return "sticker", msg.Sticker.FileID
	}
	return "", ""
}
