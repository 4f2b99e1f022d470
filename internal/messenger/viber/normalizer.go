// Package viber implements the Viber REST API normalizer and outbound
// gateway. Viber ships no Go SDK, the gateway speaks the chat API
// directly over HTTP.
package viber

import (
	"encoding/json"
	"strings"

	"github.com/menubot/menubot/internal/messenger"
)

type callback struct {
	Event        string           `json:"event"`
	MessageToken json.Number      `json:"message_token"`
	UserID       string           `json:"user_id"`
	Desc         string           `json:"desc"`
	Sender       *callbackUser    `json:"sender"`
	User         *callbackUser    `json:"user"`
	Message      *callbackMessage `json:"message"`
}

type callbackUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type callbackMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Media    string `json:"media"`
	FileName string `json:"file_name"`
	Location *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"location"`
}

// Normalizer parses Viber callback JSON into the shared event model.
type Normalizer struct{}

// NewNormalizer creates a Viber normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Messenger reports the platform this normalizer parses.
func (*Normalizer) Messenger() messenger.Messenger {
	return messenger.Viber
}

// Normalize maps a callback onto an event by its top-level event field.
// conversation_started counts as subscribed, failed/delivered/seen become
// delivery statuses, anything else is unknown.
func (*Normalizer) Normalize(body []byte) (messenger.Event, error) {
	var cb callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return messenger.Event{}, messenger.ErrMalformedPayload
	}
	ev := messenger.Event{Kind: messenger.EventUnknown, Messenger: messenger.Viber}
	ev.MessageToken = cb.MessageToken.String()

	switch cb.Event {
	case "message":
		if cb.Sender == nil || cb.Message == nil {
			return messenger.Event{}, messenger.ErrMalformedPayload
		}
		ev.Sender = messenger.Sender{ID: cb.Sender.ID, Name: cb.Sender.Name, Avatar: cb.Sender.Avatar}
		ev.Text = cb.Message.Text
		ev.MediaURL = cb.Message.Media
		ev.MediaType = cb.Message.Type
		if cb.Message.Location != nil {
			ev.Location = &messenger.Location{Lat: cb.Message.Location.Lat, Lon: cb.Message.Location.Lon}
		}
		if cb.Message.Type == "text" && strings.HasPrefix(cb.Message.Text, "/") {
			ev.Kind = messenger.EventSystemCommand
		} else {
			ev.Kind = messenger.EventMessage
		}
	case "subscribed", "conversation_started":
		if cb.User == nil {
			return messenger.Event{}, messenger.ErrMalformedPayload
		}
		ev.Kind = messenger.EventSubscribed
		ev.Sender = messenger.Sender{ID: cb.User.ID, Name: cb.User.Name, Avatar: cb.User.Avatar}
	case "unsubscribed":
		ev.Kind = messenger.EventUnsubscribed
		ev.Sender = messenger.Sender{ID: cb.UserID}
	case "failed", "delivered", "seen":
		ev.Kind = messenger.EventDeliveryStatus
		ev.Status = cb.Event
		ev.Sender = messenger.Sender{ID: cb.UserID}
		ev.Text = cb.Desc
	}
	return ev, nil
}
