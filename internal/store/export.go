package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/mea/internal/model"
)

// ExportReports builds the report export for a school and period. Only the
// latest submission of each level is included; levels appear in the order of
// their first submission.
func (s *Store) ExportReports(ctx context.Context, school, period string) (model.ReportExport, error) {
	recs, err := s.ListSubmissions(ctx, SubmissionFilter{School: school, Period: period})
	if err != nil {
		return model.ReportExport{}, fmt.Errorf("list submissions: %w", err)
	}

	latest := make(map[string]int)
	var reports []model.LevelReport
	names := make(map[int64]string)
	for _, rec := range recs {
		by, ok := names[rec.RespondentID]
		if !ok {
			user, err := s.GetUserByID(ctx, rec.RespondentID)
			if err != nil {
				return model.ReportExport{}, fmt.Errorf("get user %d: %w", rec.RespondentID, err)
			}
			if user != nil {
				by = user.DisplayName
				if by == "" {
					by = user.Username
				}
			}
			names[rec.RespondentID] = by
		}

		r := model.LevelReport{
			Level:             rec.Level,
			SchoolYear:        rec.SchoolYear,
			Period:            rec.Period,
			SubmittedBy:       by,
			SubmittedAt:       rec.CreatedAt,
			Movement:          rec.Content.Movement,
			FailuresBySubject: rec.Content.FailuresBySubject,
			Content:           rec.Content.Answers,
		}
		if i, ok := latest[rec.Level]; ok {
			reports[i] = r
			continue
		}
		latest[rec.Level] = len(reports)
		reports = append(reports, r)
	}

	return model.ReportExport{
		School:      school,
		Period:      period,
		GeneratedAt: time.Now(),
		Reports:     reports,
	}, nil
}
