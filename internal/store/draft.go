package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelanni/mea/internal/wizard"
)

// SaveDraft upserts the serialized draft under key.
func (s *Store) SaveDraft(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drafts (key, blob, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		key, blob, time.Now(),
	)
	return err
}

// LoadDraft returns the draft stored under key, or wizard.ErrDraftNotFound.
func (s *Store) LoadDraft(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM drafts WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wizard.ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// DeleteDraft removes the draft under key. Missing keys are not an error.
func (s *Store) DeleteDraft(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE key = ?`, key)
	return err
}

// PurgeDrafts removes drafts not updated since before.
func (s *Store) PurgeDrafts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE updated_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
