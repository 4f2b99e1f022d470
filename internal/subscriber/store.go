package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/menubot/menubot/internal/messenger"
)

var ErrSubscriberNotFound = errors.New("subscriber not found")

// Store persists subscribers, archived messages and help replies.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a subscriber store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("store", "subscriber")),
	}
}

// Upsert creates or refreshes a subscriber by (bot, user). Re-contact
// reactivates an unsubscribed user. The operation is a single atomic
// statement, concurrent webhooks for the same user cannot create
// duplicate rows. created reports whether a new row was inserted.
func (s *Store) Upsert(ctx context.Context, botID int64, sender messenger.Sender) (Subscriber, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscribers (bot_id, user_id, name, avatar, is_active)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), TRUE)
		ON CONFLICT (bot_id, user_id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), subscribers.name),
			avatar = COALESCE(NULLIF(EXCLUDED.avatar, ''), subscribers.avatar),
			is_active = TRUE,
			updated_at = now()
		RETURNING id, bot_id, user_id, COALESCE(name, ''), COALESCE(avatar, ''),
		          COALESCE(info, ''), is_active, created_at, updated_at,
		          (xmax = 0)`,
		botID, sender.ID, sender.Name, sender.Avatar)
	var (
		sub     Subscriber
		created bool
	)
	err := row.Scan(&sub.ID, &sub.BotID, &sub.UserID, &sub.Name, &sub.Avatar,
		&sub.Info, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt, &created)
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("upsert subscriber: %w", err)
	}
	return sub, created, nil
}

// ByUser finds a subscriber by (bot, user).
func (s *Store) ByUser(ctx context.Context, botID int64, userID string) (Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, bot_id, user_id, COALESCE(name, ''), COALESCE(avatar, ''),
		       COALESCE(info, ''), is_active, created_at, updated_at
		FROM subscribers WHERE bot_id = $1 AND user_id = $2`, botID, userID)
	var sub Subscriber
	err := row.Scan(&sub.ID, &sub.BotID, &sub.UserID, &sub.Name, &sub.Avatar,
		&sub.Info, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscriber{}, ErrSubscriberNotFound
		}
		return Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}
	return sub, nil
}

// Deactivate marks a subscriber inactive, for unsubscribe events and
// blocked-by-user send failures. The update commits immediately.
func (s *Store) Deactivate(ctx context.Context, botID int64, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscribers SET is_active = FALSE, updated_at = now()
		WHERE bot_id = $1 AND user_id = $2`, botID, userID)
	if err != nil {
		return fmt.Errorf("deactivate subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}
	return nil
}

// DeactivateByToken marks a subscriber inactive by bot token, for
// gateways that only know the token they sent with. A missing
// subscriber is not an error, the blocked user may never have
// subscribed.
func (s *Store) DeactivateByToken(ctx context.Context, token, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscribers SET is_active = FALSE, updated_at = now()
		FROM bots
		WHERE bots.id = subscribers.bot_id
		  AND bots.token = $1 AND subscribers.user_id = $2`, token, userID)
	if err != nil {
		return fmt.Errorf("deactivate subscriber by token: %w", err)
	}
	return nil
}

// ActiveByChannel lists a channel's active subscribers across all its
// bots, with the owning bot's messenger filled in.
func (s *Store) ActiveByChannel(ctx context.Context, channelID int64) ([]Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.bot_id, b.messenger, s.user_id, COALESCE(s.name, ''),
		       COALESCE(s.avatar, ''), COALESCE(s.info, ''),
		       s.is_active, s.created_at, s.updated_at
		FROM subscribers s
		JOIN bots b ON b.id = s.bot_id
		WHERE b.channel_id = $1 AND s.is_active
		ORDER BY s.id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	return collect(rows)
}

// ByIDs loads subscribers by primary key, with the owning bot's
// messenger filled in.
func (s *Store) ByIDs(ctx context.Context, ids []int64) ([]Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.bot_id, b.messenger, s.user_id, COALESCE(s.name, ''),
		       COALESCE(s.avatar, ''), COALESCE(s.info, ''),
		       s.is_active, s.created_at, s.updated_at
		FROM subscribers s
		JOIN bots b ON b.id = s.bot_id
		WHERE s.id = ANY ($1)
		ORDER BY s.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list subscribers by ids: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Subscriber, error) {
	defer rows.Close()
	var subs []Subscriber
	for rows.Next() {
		var sub Subscriber
		err := rows.Scan(&sub.ID, &sub.BotID, &sub.Messenger, &sub.UserID,
			&sub.Name, &sub.Avatar, &sub.Info, &sub.IsActive,
			&sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SaveMessage archives an inbound message. A zero ID inserts a new row;
// a non-zero ID re-ensures the help reply only, the message row itself
// is immutable. Exactly one HelpReply ever exists per help message.
func (s *Store) SaveMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == 0 {
		var locJSON []byte
		if msg.Location != nil {
			var err error
			locJSON, err = json.Marshal(msg.Location)
			if err != nil {
				return Message{}, fmt.Errorf("encode location: %w", err)
			}
		}
		row := s.pool.QueryRow(ctx, `
			INSERT INTO messages (subscriber_id, message_token, text, media_url,
			                      location, is_help_message)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
			RETURNING id, created_at`,
			msg.SubscriberID, msg.MessageToken, msg.Text, msg.MediaURL,
			locJSON, msg.IsHelpMessage)
		if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
			return Message{}, fmt.Errorf("insert message: %w", err)
		}
	}
	if msg.IsHelpMessage {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO help_replies (message_id) VALUES ($1)
			ON CONFLICT (message_id) DO NOTHING`, msg.ID)
		if err != nil {
			return Message{}, fmt.Errorf("ensure help reply: %w", err)
		}
	}
	return msg, nil
}
