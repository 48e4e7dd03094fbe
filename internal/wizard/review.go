package wizard

import (
	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/schema"
	"github.com/pavelanni/mea/internal/submission"
)

// ReviewEntry is one answered field shown on the review step.
type ReviewEntry struct {
	FieldID string `json:"field_id"`
	Label   string `json:"label"`
	Range   string `json:"range,omitempty"`
	Value   string `json:"value"`
}

// ReviewSection summarizes one step for the review screen. Index is the step
// to jump to for editing.
type ReviewSection struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id"`
	Title    string                 `json:"title"`
	Entries  []ReviewEntry          `json:"entries,omitempty"`
	Failures []model.SubjectFailure `json:"failures,omitempty"`
}

// Review projects the answers onto every step except the review itself.
// Unanswered fields are omitted and the failures step lists only subjects
// with a positive count.
func (c *Controller) Review() []ReviewSection {
	var out []ReviewSection
	for i, s := range c.sections {
		if s.ID == schema.ReviewSectionID {
			continue
		}
		rs := ReviewSection{Index: i, ID: s.ID, Title: s.Title}
		if s.ID == schema.FailuresSectionID {
			rs.Failures = submission.ReviewFailures(c.cfg.Level, c.answers, c.subjects.Selection())
			out = append(out, rs)
			continue
		}
		for _, f := range s.Fields {
			if !f.HasAnswer() || c.answers.Empty(f.ID) {
				continue
			}
			rs.Entries = append(rs.Entries, ReviewEntry{
				FieldID: f.ID,
				Label:   f.Label,
				Range:   f.PeriodRange,
				Value:   c.answers.String(f.ID),
			})
		}
		out = append(out, rs)
	}
	return out
}
