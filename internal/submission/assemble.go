// Package submission turns a finished draft into the normalized record that
// is persisted and exported.
package submission

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/schema"
	"github.com/pavelanni/mea/internal/subjects"
)

// ErrAuthMissing is returned when no authenticated respondent is available.
var ErrAuthMissing = errors.New("no authenticated user found")

// Input is everything Assemble needs.
type Input struct {
	Level      model.LevelConfig
	Respondent *model.User
	Answers    model.Answers
	Selection  model.SubjectSelection
	// Ranges are the period ranges of the selected period, in order.
	Ranges []string
	// Now stamps the record; zero means time.Now.
	Now time.Time
}

// Assemble builds the submission record. It performs no I/O.
func Assemble(in Input) (model.SubmissionRecord, error) {
	if in.Respondent == nil {
		return model.SubmissionRecord{}, ErrAuthMissing
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	answers := in.Answers.Clone()
	return model.SubmissionRecord{
		ID:           uuid.NewString(),
		RespondentID: in.Respondent.ID,
		Level:        in.Level.ID,
		SchoolYear:   answers.String(schema.FieldSchoolYear),
		Period:       answers.String(schema.FieldPeriod),
		SchoolName:   answers.String(schema.FieldSchoolName),
		District:     answers.String(schema.FieldDistrict),
		Content: model.SubmissionContent{
			Answers:           answers,
			FailuresBySubject: FailuresBySubject(in.Level, answers, in.Selection),
			Movement:          Movement(in.Level, answers, in.Ranges),
			Meta:              in.Selection.Clone(),
		},
		CreatedAt: now,
	}, nil
}

// FailuresBySubject emits one entry per active subject with its coerced count.
func FailuresBySubject(level model.LevelConfig, answers model.Answers, sel model.SubjectSelection) []model.SubjectFailure {
	active := subjects.Active(level, sel)
	out := make([]model.SubjectFailure, 0, len(active))
	for _, s := range active {
		out = append(out, model.SubjectFailure{
			SubjectName:   s.Name,
			SubjectSource: s.Source,
			FailedCount:   model.ParseCount(answers[subjects.AnswerKey(s.Name)]),
		})
	}
	return out
}

// ReviewFailures keeps only subjects with a strictly positive count.
func ReviewFailures(level model.LevelConfig, answers model.Answers, sel model.SubjectSelection) []model.SubjectFailure {
	var out []model.SubjectFailure
	for _, f := range FailuresBySubject(level, answers, sel) {
		if f.FailedCount > 0 {
			out = append(out, f)
		}
	}
	return out
}

// Movement builds the per-range movement table from the level's movement
// templates. Levels without movement sections return nil.
func Movement(level model.LevelConfig, answers model.Answers, ranges []string) []model.MovementRow {
	templates := movementTemplates(level)
	if len(templates) == 0 {
		return nil
	}
	rows := make([]model.MovementRow, 0, len(ranges))
	for _, rg := range ranges {
		row := model.MovementRow{Range: rg}
		for measure, id := range templates {
			v := model.ParseCount(answers[schema.RangeKey(id, rg)])
			switch measure {
			case model.MeasureEnrollment:
				row.Enrollment = v
			case model.MeasureTransferIn:
				row.TransferredIn = v
			case model.MeasureTransferOut:
				row.TransferredOut = v
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func movementTemplates(level model.LevelConfig) map[model.Measure]string {
	out := make(map[model.Measure]string)
	for _, s := range level.Sections {
		if !s.Movement {
			continue
		}
		for _, f := range s.Fields {
			if f.Measure == "" {
				continue
			}
			if _, ok := out[f.Measure]; !ok {
				out[f.Measure] = f.ID
			}
		}
	}
	return out
}

// Summary is the headline figures shown once a report is submitted.
type Summary struct {
	Enrollment     float64 `json:"enrollment"`
	TransferredIn  float64 `json:"transferred_in"`
	TransferredOut float64 `json:"transferred_out"`
}

// Summarize reports the latest non-zero enrollment and the summed transfers
// across the movement table.
func Summarize(rows []model.MovementRow) Summary {
	var s Summary
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Enrollment > 0 {
			s.Enrollment = rows[i].Enrollment
			break
		}
	}
	for _, r := range rows {
		s.TransferredIn += r.TransferredIn
		s.TransferredOut += r.TransferredOut
	}
	return s
}
