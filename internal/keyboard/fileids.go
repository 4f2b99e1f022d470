package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FileIDs caches platform file ids returned after an upload, keyed by
// (action, bot token). Ids are not portable across bot tokens, so the
// token is part of the key even within one channel.
type FileIDs struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewFileIDs creates a file-id cache store.
func NewFileIDs(log *slog.Logger, pool *pgxpool.Pool) *FileIDs {
	if log == nil {
		log = slog.Default()
	}
	return &FileIDs{
		pool:   pool,
		logger: log.With(slog.String("store", "file_ids")),
	}
}

// Cached returns the stored platform id for (action, token) if one
// exists and the stored local path still matches. A path mismatch means
// the media file was replaced, so the cached id is stale.
func (f *FileIDs) Cached(ctx context.Context, actionID int64, token, localPath string) (string, bool, error) {
	row := f.pool.QueryRow(ctx, `
		SELECT local_path, telegram_id FROM file_ids
		WHERE action_id = $1 AND token = $2`, actionID, token)
	var storedPath, fileID string
	if err := row.Scan(&storedPath, &fileID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup file id: %w", err)
	}
	if storedPath != localPath {
		return "", false, nil
	}
	return fileID, true, nil
}

// Remember stores the platform id returned by an upload, replacing any
// stale entry for the same (action, token).
func (f *FileIDs) Remember(ctx context.Context, actionID int64, token, localPath, fileID string) error {
	_, err := f.pool.Exec(ctx, `
		INSERT INTO file_ids (action_id, token, local_path, telegram_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (action_id, token) DO UPDATE SET
			local_path = EXCLUDED.local_path,
			telegram_id = EXCLUDED.telegram_id`,
		actionID, token, localPath, fileID)
	if err != nil {
		return fmt.Errorf("remember file id: %w", err)
	}
	return nil
}
