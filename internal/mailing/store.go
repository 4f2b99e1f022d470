package mailing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrPostNotFound = errors.New("post not found")

// Store persists posts, their action/recipient lists and the sent
// message records.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a mailing store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("store", "mailing")),
	}
}

// CreatePost inserts a post with its ordered actions and optional
// explicit recipients in one transaction.
func (s *Store) CreatePost(ctx context.Context, channelID int64, scheduledAt *time.Time, actionIDs, subscriberIDs []int64) (Post, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Post{}, fmt.Errorf("begin create post: %w", err)
	}
	defer tx.Rollback(ctx)

	var post Post
	post.ChannelID = channelID
	post.ScheduledAt = scheduledAt
	row := tx.QueryRow(ctx, `
		INSERT INTO posts (channel_id, scheduled_at)
		VALUES ($1, $2)
		RETURNING id, created_at`, channelID, scheduledAt)
	if err := row.Scan(&post.ID, &post.CreatedAt); err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	for ord, actionID := range actionIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO post_actions (post_id, action_id, ord)
			VALUES ($1, $2, $3)`, post.ID, actionID, ord)
		if err != nil {
			return Post{}, fmt.Errorf("insert post action: %w", err)
		}
	}
	for _, subID := range subscriberIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO post_recipients (post_id, subscriber_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, post.ID, subID)
		if err != nil {
			return Post{}, fmt.Errorf("insert post recipient: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Post{}, fmt.Errorf("commit create post: %w", err)
	}
	return post, nil
}

// GetPost loads a post by id.
func (s *Store) GetPost(ctx context.Context, id int64) (Post, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id,
		       COALESCE(broadcast_id, '00000000-0000-0000-0000-000000000000'::uuid),
		       scheduled_at, started_at, is_done, created_at
		FROM posts WHERE id = $1`, id)
	return scanPost(row)
}

func scanPost(row pgx.Row) (Post, error) {
	var post Post
	err := row.Scan(&post.ID, &post.ChannelID, &post.BroadcastID,
		&post.ScheduledAt, &post.StartedAt, &post.IsDone, &post.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, ErrPostNotFound
		}
		return Post{}, fmt.Errorf("scan post: %w", err)
	}
	return post, nil
}

// PostActions returns the post's action ids in mailing order.
func (s *Store) PostActions(ctx context.Context, postID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT action_id FROM post_actions
		WHERE post_id = $1 ORDER BY ord`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post actions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// PostRecipients returns the explicit recipient subscriber ids, empty
// when the post targets the whole channel.
func (s *Store) PostRecipients(ctx context.Context, postID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subscriber_id FROM post_recipients
		WHERE post_id = $1 ORDER BY subscriber_id`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post recipients: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// StampBroadcast sets the post's broadcast id at fan-out start. The
// sent message records of the run carry the same id, so the mailing
// can be deleted even after the post row is gone.
func (s *Store) StampBroadcast(ctx context.Context, postID int64, broadcastID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE posts SET broadcast_id = $2 WHERE id = $1`, postID, broadcastID)
	if err != nil {
		return fmt.Errorf("stamp broadcast id: %w", err)
	}
	return nil
}

// MarkDone flags a finished post.
func (s *Store) MarkDone(ctx context.Context, postID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE posts SET is_done = TRUE WHERE id = $1`, postID)
	if err != nil {
		return fmt.Errorf("mark post done: %w", err)
	}
	return nil
}

// DeletePost removes the post row. Action and recipient links cascade,
// sent_messages keep their rows with post_id detached by the schema.
func (s *Store) DeletePost(ctx context.Context, postID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

// ClaimDuePosts atomically claims scheduled posts whose time has come.
// SKIP LOCKED keeps concurrent pollers from double-sending.
func (s *Store) ClaimDuePosts(ctx context.Context) ([]Post, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE posts SET started_at = now()
		WHERE id IN (
			SELECT id FROM posts
			WHERE NOT is_done AND started_at IS NULL
			  AND scheduled_at IS NOT NULL AND scheduled_at <= now()
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, channel_id,
		          COALESCE(broadcast_id, '00000000-0000-0000-0000-000000000000'::uuid),
		          scheduled_at, started_at, is_done, created_at`)
	if err != nil {
		return nil, fmt.Errorf("claim due posts: %w", err)
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// RecordSent stores one delivered message for later deletion.
func (s *Store) RecordSent(ctx context.Context, rec SentMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sent_messages (post_id, broadcast_id, chat_id, message_id)
		VALUES (NULLIF($1, 0), NULLIF($2::uuid, '00000000-0000-0000-0000-000000000000'::uuid), $3, $4)`,
		rec.PostID, rec.BroadcastID, rec.ChatID, rec.MessageID)
	if err != nil {
		return fmt.Errorf("record sent message: %w", err)
	}
	return nil
}

// SentByBroadcast lists the delivered messages of one fan-out run.
func (s *Store) SentByBroadcast(ctx context.Context, broadcastID uuid.UUID) ([]SentMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(post_id, 0), broadcast_id,
		       chat_id, message_id, created_at
		FROM sent_messages WHERE broadcast_id = $1 ORDER BY id`, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("list sent messages: %w", err)
	}
	defer rows.Close()
	var recs []SentMessage
	for rows.Next() {
		var rec SentMessage
		err := rows.Scan(&rec.ID, &rec.PostID, &rec.BroadcastID,
			&rec.ChatID, &rec.MessageID, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan sent message: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
