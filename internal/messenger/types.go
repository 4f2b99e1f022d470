// Package messenger defines the normalized inbound event model and the
// outbound gateway contract shared by all messenger platforms.
package messenger

import "strings"

// Messenger identifies a supported messaging platform.
type Messenger string

const (
	Telegram Messenger = "telegram"
	Viber    Messenger = "viber"
)

// String returns the messenger name as a plain string.
func (m Messenger) String() string {
	return string(m)
}

// Parse maps a raw string onto a known Messenger.
func Parse(raw string) (Messenger, bool) {
	switch Messenger(strings.ToLower(strings.TrimSpace(raw))) {
	case Telegram:
		return Telegram, true
	case Viber:
		return Viber, true
	default:
		return "", false
	}
}

// EventKind classifies a normalized webhook event.
type EventKind string

const (
	EventSubscribed     EventKind = "subscribed"
	EventUnsubscribed   EventKind = "unsubscribed"
	EventSystemCommand  EventKind = "system_command"
	EventMessage        EventKind = "message"
	EventDeliveryStatus EventKind = "delivery_status"
	EventUnknown        EventKind = "unknown"
)

// Sender is the platform user an event originates from.
type Sender struct {
	ID     string
	Name   string
	Avatar string
}

// Location is a geographic point attached to an inbound message.
type Location struct {
	Lat float64
	Lon float64
}

// Event is a webhook payload normalized to the shared model. The zero value
// is an unknown event.
type Event struct {
	Kind         EventKind
	Messenger    Messenger
	Sender       Sender
	Text         string
	MessageToken string
	MediaURL     string
	// MediaFileID is the platform file handle for platforms that do not
	// expose a direct download link in the webhook (Telegram).
	MediaFileID string
	MediaType   string
	Location    *Location
	// Status carries the raw delivery-status name (failed, delivered, seen)
	// for EventDeliveryStatus events.
	Status string
}

// IsHelpCommand reports whether the event text opens the help flow.
// The comparison covers the first five characters, case-insensitively,
// so "/HELP", "/help me" and "/HeLp" all match.
func (e Event) IsHelpCommand() bool {
	if len(e.Text) < 5 {
		return false
	}
	return strings.EqualFold(e.Text[:5], "/help")
}

// Target addresses an outbound send: a single recipient or a broadcast list.
type Target struct {
	ChatID    string
	Broadcast []string
}

// IsBroadcast reports whether the target is a multi-recipient broadcast.
func (t Target) IsBroadcast() bool {
	return len(t.Broadcast) > 0
}

// To addresses a single recipient.
func To(chatID string) Target {
	return Target{ChatID: chatID}
}

// ToMany addresses a broadcast list.
func ToMany(chatIDs []string) Target {
	return Target{Broadcast: chatIDs}
}

// SentRef identifies a delivered message for later deletion. Platforms
// without per-recipient delivery receipts return the zero value.
type SentRef struct {
	ChatID    string
	MessageID string
}

// IsZero reports whether the ref carries no provider message id.
func (r SentRef) IsZero() bool {
	return r.MessageID == ""
}

// MediaKind selects the platform media-send primitive.
type MediaKind string

const (
	MediaPhoto    MediaKind = "picture"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "file"
	MediaURL      MediaKind = "url"
)

// Media references a file to send. LocalPath feeds Telegram uploads and the
// file-id cache; URL feeds Viber, which fetches media by public link.
type Media struct {
	ActionID  int64
	Kind      MediaKind
	LocalPath string
	URL       string
	FileName  string
	Size      int64
}
