package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/mea/internal/model"
)

// InsertSubmission stores a finalized report.
func (s *Store) InsertSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("encode submission content: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, respondent_id, level, school_year, period, school_name, district, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RespondentID, rec.Level, rec.SchoolYear, rec.Period, rec.SchoolName, rec.District, string(content), rec.CreatedAt,
	)
	return err
}

// SubmissionFilter narrows ListSubmissions. Empty strings mean no filtering on
// that field.
type SubmissionFilter struct {
	School string
	Period string
	Level  string
}

// ListSubmissions returns submissions matching the filter, oldest first.
func (s *Store) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]model.SubmissionRecord, error) {
	query := `SELECT id, respondent_id, level, school_year, period, school_name, district, content, created_at
		FROM submissions WHERE 1=1`
	var args []any
	if f.School != "" {
		query += ` AND school_name = ?`
		args = append(args, f.School)
	}
	if f.Period != "" {
		query += ` AND period = ?`
		args = append(args, f.Period)
	}
	if f.Level != "" {
		query += ` AND level = ?`
		args = append(args, f.Level)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetSubmission returns a submission by id.
func (s *Store) GetSubmission(ctx context.Context, id string) (model.SubmissionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, respondent_id, level, school_year, period, school_name, district, content, created_at
		 FROM submissions WHERE id = ?`, id,
	)
	return scanSubmission(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(sc scanner) (model.SubmissionRecord, error) {
	var rec model.SubmissionRecord
	var content string
	if err := sc.Scan(&rec.ID, &rec.RespondentID, &rec.Level, &rec.SchoolYear, &rec.Period,
		&rec.SchoolName, &rec.District, &content, &rec.CreatedAt); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
		return rec, fmt.Errorf("decode submission %s: %w", rec.ID, err)
	}
	return rec, nil
}
