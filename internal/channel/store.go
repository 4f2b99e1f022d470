package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrBotNotFound     = errors.New("bot not found")
	ErrBotExists       = errors.New("bot already exists for channel and messenger")
)

const pgUniqueViolation = "23505"

// Store reads tenant configuration from Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a channel store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("store", "channel")),
	}
}

// GetBySlug loads a channel and its bots by webhook slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (Channel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, slug, COALESCE(description, ''),
		       media_allowed, geo_allowed, mailing_allowed,
		       COALESCE(welcome_action_id, 0)
		FROM channels WHERE slug = $1`, slug)
	var ch Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.Slug, &ch.Description,
		&ch.MediaAllowed, &ch.GeoAllowed, &ch.MailingAllowed, &ch.WelcomeActionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, ErrChannelNotFound
		}
		return Channel{}, fmt.Errorf("get channel by slug: %w", err)
	}
	bots, err := s.botsOf(ctx, ch.ID)
	if err != nil {
		return Channel{}, err
	}
	ch.Bots = bots
	return ch, nil
}

// GetByID loads a channel and its bots by id.
func (s *Store) GetByID(ctx context.Context, id int64) (Channel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, slug, COALESCE(description, ''),
		       media_allowed, geo_allowed, mailing_allowed,
		       COALESCE(welcome_action_id, 0)
		FROM channels WHERE id = $1`, id)
	var ch Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.Slug, &ch.Description,
		&ch.MediaAllowed, &ch.GeoAllowed, &ch.MailingAllowed, &ch.WelcomeActionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, ErrChannelNotFound
		}
		return Channel{}, fmt.Errorf("get channel by id: %w", err)
	}
	bots, err := s.botsOf(ctx, ch.ID)
	if err != nil {
		return Channel{}, err
	}
	ch.Bots = bots
	return ch, nil
}

// BotByToken finds a bot by its messenger token.
func (s *Store) BotByToken(ctx context.Context, token string) (Bot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, messenger, token, COALESCE(description, '')
		FROM bots WHERE token = $1`, token)
	var bot Bot
	if err := row.Scan(&bot.ID, &bot.ChannelID, &bot.Messenger, &bot.Token, &bot.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bot{}, ErrBotNotFound
		}
		return Bot{}, fmt.Errorf("get bot by token: %w", err)
	}
	return bot, nil
}

// CreateBot inserts a bot credential. The (channel, messenger) and token
// uniqueness invariants are enforced by the store's unique indexes.
func (s *Store) CreateBot(ctx context.Context, bot Bot) (Bot, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO bots (channel_id, messenger, token, description)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id`,
		bot.ChannelID, bot.Messenger, bot.Token, bot.Description)
	if err := row.Scan(&bot.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Bot{}, ErrBotExists
		}
		return Bot{}, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

func (s *Store) botsOf(ctx context.Context, channelID int64) ([]Bot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, messenger, token, COALESCE(description, '')
		FROM bots WHERE channel_id = $1 ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()
	var bots []Bot
	for rows.Next() {
		var bot Bot
		if err := rows.Scan(&bot.ID, &bot.ChannelID, &bot.Messenger, &bot.Token, &bot.Description); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}
