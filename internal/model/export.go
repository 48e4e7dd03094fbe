package model

import "time"

// ReportExport is the top-level JSON structure for a school's report export.
type ReportExport struct {
	School      string        `json:"school"`
	Period      string        `json:"period"`
	GeneratedAt time.Time     `json:"generated_at"`
	Reports     []LevelReport `json:"reports"`
}

// LevelReport holds the latest submission of one level for export.
type LevelReport struct {
	Level             string           `json:"level"`
	LevelLabel        string           `json:"level_label"`
	SchoolYear        string           `json:"school_year"`
	Period            string           `json:"period"`
	SubmittedBy       string           `json:"submitted_by"`
	SubmittedAt       time.Time        `json:"submitted_at"`
	Movement          []MovementRow    `json:"monthly_learners_movement"`
	FailuresBySubject []SubjectFailure `json:"failures_by_subject"`
	Content           Answers          `json:"content"`
}
