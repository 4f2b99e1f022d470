// Package subscriber tracks the per-bot subscriber roster and archives
// inbound messages.
package subscriber

import (
	"time"

	"github.com/menubot/menubot/internal/messenger"
)

// Subscriber is a messenger-platform user tracked per bot. It is created
// or refreshed on every inbound contact event, never by an admin.
type Subscriber struct {
	ID    int64
	BotID int64
	// Messenger is the platform of the owning bot, filled on reads that
	// join the bots table.
	Messenger messenger.Messenger
	UserID    string
	Name      string
	Avatar    string
	Info      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is an archived inbound message. Rows are immutable after
// insert, only the linked HelpReply's triage fields change later.
type Message struct {
	ID            int64
	SubscriberID  int64
	MessageToken  string
	Text          string
	MediaURL      string
	Location      *messenger.Location
	IsHelpMessage bool
	CreatedAt     time.Time
}

// HelpReply tracks operator triage of a help request. Exactly one exists
// per help message.
type HelpReply struct {
	ID          int64
	MessageID   int64
	IsStarted   bool
	IsClosed    bool
	Description string
	CreatedAt   time.Time
	StartedAt   *time.Time
	ClosedAt    *time.Time
}
