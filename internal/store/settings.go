package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/pavelanni/mea/internal/schema"
)

const settingSubjectFailures = "feature.subject_failures"

// SetSetting upserts a key-value pair in the settings table.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetSetting returns the value for a settings key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetToggles stores the feature switches.
func (s *Store) SetToggles(ctx context.Context, t schema.Toggles) error {
	return s.SetSetting(ctx, settingSubjectFailures, strconv.FormatBool(t.SubjectFailures))
}

// Toggles reads the feature switches. Unset switches take their defaults.
func (s *Store) Toggles(ctx context.Context) (schema.Toggles, error) {
	t := schema.DefaultToggles()
	v, err := s.GetSetting(ctx, settingSubjectFailures)
	if err != nil {
		return t, err
	}
	if v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return t, err
		}
		t.SubjectFailures = b
	}
	return t, nil
}
