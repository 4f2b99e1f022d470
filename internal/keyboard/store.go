package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrActionNotFound   = errors.New("action not found")
	ErrKeyboardNotFound = errors.New("keyboard not found")
)

// Store reads keyboards, buttons and actions from Postgres. The dispatch
// engine consumes them read-only, mutation belongs to the admin surface.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a keyboard store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("store", "keyboard")),
	}
}

const actionColumns = `
	a.id, a.keyboard_id, a.name, a.action_type,
	COALESCE(a.text, ''), COALESCE(a.picture_path, ''), COALESCE(a.url, ''),
	COALESCE(a.video_path, ''), COALESCE(a.file_path, ''),
	COALESCE(a.latitude, 0), COALESCE(a.longitude, 0),
	COALESCE(a.sticker_id, '')`

func scanAction(row pgx.Row) (Action, error) {
	var (
		a                         Action
		actionType                string
		picture, url, video, file string
		lat, lon                  float64
		sticker                   string
	)
	err := row.Scan(&a.ID, &a.KeyboardID, &a.Name, &actionType,
		&a.Text, &picture, &url, &video, &file, &lat, &lon, &sticker)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Action{}, ErrActionNotFound
		}
		return Action{}, fmt.Errorf("scan action: %w", err)
	}
	a.Type = ActionType(actionType)
	switch a.Type {
	case ActionPicture:
		a.Payload = PicturePayload{Path: picture}
	case ActionURL:
		a.Payload = URLPayload{URL: url}
	case ActionVideo:
		a.Payload = VideoPayload{Path: video}
	case ActionFile:
		a.Payload = FilePayload{Path: file}
	case ActionLocation:
		a.Payload = LocationPayload{Lat: lat, Lon: lon}
	case ActionSticker:
		a.Payload = StickerPayload{Pair: sticker}
	}
	return a, nil
}

// ButtonActionByText finds the action linked to a button whose display
// text matches exactly, scoped to the channel. First match by button id
// wins.
func (s *Store) ButtonActionByText(ctx context.Context, channelID int64, text string) (Action, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+actionColumns+`
		FROM buttons b
		JOIN actions a ON a.id = b.action_id
		JOIN keyboards kb ON kb.id = b.keyboard_id
		WHERE kb.channel_id = $1 AND b.text = $2
		ORDER BY b.id
		LIMIT 1`, channelID, text)
	return scanAction(row)
}

// ActionByName finds an action by its internal name, scoped to the
// channel. First match by action id wins.
func (s *Store) ActionByName(ctx context.Context, channelID int64, name string) (Action, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+actionColumns+`
		FROM actions a
		JOIN keyboards kb ON kb.id = a.keyboard_id
		WHERE kb.channel_id = $1 AND a.name = $2
		ORDER BY a.id
		LIMIT 1`, channelID, name)
	return scanAction(row)
}

// ActionByID loads an action by primary key.
func (s *Store) ActionByID(ctx context.Context, id int64) (Action, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+actionColumns+`
		FROM actions a
		WHERE a.id = $1`, id)
	return scanAction(row)
}

// FirstAction returns the channel's lowest-id action. It backs the home
// action fallback when no welcome action is configured.
func (s *Store) FirstAction(ctx context.Context, channelID int64) (Action, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+actionColumns+`
		FROM actions a
		JOIN keyboards kb ON kb.id = a.keyboard_id
		WHERE kb.channel_id = $1
		ORDER BY a.id
		LIMIT 1`, channelID)
	return scanAction(row)
}

// KeyboardByID loads a keyboard and its buttons ordered by position.
func (s *Store) KeyboardByID(ctx context.Context, id int64) (Keyboard, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, name, COALESCE(bg_color, '')
		FROM keyboards WHERE id = $1`, id)
	var kb Keyboard
	if err := row.Scan(&kb.ID, &kb.ChannelID, &kb.Name, &kb.BgColor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Keyboard{}, ErrKeyboardNotFound
		}
		return Keyboard{}, fmt.Errorf("get keyboard: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, keyboard_id, action_id, name, text,
		       width, height, position, tg_row,
		       COALESCE(text_size, ''), COALESCE(text_v_align, ''),
		       COALESCE(text_h_align, ''), COALESCE(bg_color, ''),
		       COALESCE(button_kind, '')
		FROM buttons
		WHERE keyboard_id = $1
		ORDER BY position`, id)
	if err != nil {
		return Keyboard{}, fmt.Errorf("list buttons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b Button
		err := rows.Scan(&b.ID, &b.KeyboardID, &b.ActionID, &b.Name, &b.Text,
			&b.Width, &b.Height, &b.Position, &b.TgRow,
			&b.TextSize, &b.TextVAlign, &b.TextHAlign, &b.BgColor, &b.Kind)
		if err != nil {
			return Keyboard{}, fmt.Errorf("scan button: %w", err)
		}
		kb.Buttons = append(kb.Buttons, b)
	}
	return kb, rows.Err()
}
