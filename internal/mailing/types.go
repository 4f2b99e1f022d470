// Package mailing fans a post's actions out to a channel's subscribers
// and supports bulk deletion of a prior mailing.
package mailing

import (
	"time"

	"github.com/google/uuid"
)

// Post is one scheduled or immediate mailing: a channel, an ordered
// action list and an optional explicit recipient subset. An empty
// subset means every active subscriber of the channel. BroadcastID is
// stamped when the fan-out starts and stays uuid.Nil for posts that
// were never sent.
type Post struct {
	ID          int64      `json:"id"`
	ChannelID   int64      `json:"channel_id"`
	BroadcastID uuid.UUID  `json:"broadcast_id"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	IsDone      bool       `json:"is_done"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SentMessage maps a delivered mailing message to its provider id, so a
// mailing can be bulk-deleted later. BroadcastID groups the records of
// one fan-out run and survives deletion of the post row.
type SentMessage struct {
	ID          int64     `json:"id"`
	PostID      int64     `json:"post_id"`
	BroadcastID uuid.UUID `json:"broadcast_id"`
	ChatID      string    `json:"chat_id"`
	MessageID   string    `json:"message_id"`
	CreatedAt   time.Time `json:"created_at"`
}
