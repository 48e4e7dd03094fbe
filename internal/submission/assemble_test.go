package submission

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/mea/internal/catalog"
	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/subjects"
)

func mustLevel(t *testing.T, c *catalog.Catalog, id string) model.LevelConfig {
	t.Helper()
	l, err := c.Level(id)
	if err != nil {
		t.Fatalf("Level(%q): %v", id, err)
	}
	return l
}

func TestAssembleRequiresRespondent(t *testing.T) {
	c := catalog.Default()
	_, err := Assemble(Input{Level: mustLevel(t, c, "elementary"), Answers: model.Answers{}})
	if !errors.Is(err, ErrAuthMissing) {
		t.Fatalf("expected ErrAuthMissing, got %v", err)
	}
}

func TestAssembleElementaryScenario(t *testing.T) {
	c := catalog.Default()
	level := mustLevel(t, c, "elementary")
	ranges := c.Ranges("Q1")

	answers := model.Answers{
		"schoolName":     "Bacong Central School",
		"schoolId":       "120001",
		"district":       "Bacong",
		"sy":             "2025-2026",
		"quarter":        "Q1",
		"respondentName": "M. Cruz",
		"designation":    "Adviser",
		"enroll_total_" + ranges[0]:   "120",
		subjects.AnswerKey("English"): "2",
	}
	now := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	rec, err := Assemble(Input{
		Level:      level,
		Respondent: &model.User{ID: 7},
		Answers:    answers,
		Ranges:     ranges,
		Now:        now,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if rec.ID == "" {
		t.Error("expected record id")
	}
	if rec.RespondentID != 7 || rec.Level != "elementary" || rec.SchoolYear != "2025-2026" || rec.Period != "Q1" {
		t.Errorf("unexpected top-level fields: %+v", rec)
	}
	if rec.SchoolName != "Bacong Central School" || rec.District != "Bacong" {
		t.Errorf("unexpected school fields: %q %q", rec.SchoolName, rec.District)
	}
	if !rec.CreatedAt.Equal(now) {
		t.Errorf("expected created at %v, got %v", now, rec.CreatedAt)
	}

	if rec.Content.Answers["enroll_total_"+ranges[0]] != "120" {
		t.Error("enrollment for the first range missing")
	}
	for _, rg := range ranges[1:] {
		for _, tmpl := range []string{"enroll_total", "move_in", "move_out", "move_nlpa"} {
			if _, ok := rec.Content.Answers[tmpl+"_"+rg]; ok {
				t.Errorf("unexpected key %s_%s", tmpl, rg)
			}
		}
	}

	if len(rec.Content.FailuresBySubject) != len(level.Subjects) {
		t.Fatalf("expected %d failure rows, got %d", len(level.Subjects), len(rec.Content.FailuresBySubject))
	}
	for _, f := range rec.Content.FailuresBySubject {
		want := 0.0
		if f.SubjectName == "English" {
			want = 2
		}
		if f.FailedCount != want {
			t.Errorf("%s: expected %v failures, got %v", f.SubjectName, want, f.FailedCount)
		}
		if f.SubjectSource != model.SourceCurriculum {
			t.Errorf("%s: expected curriculum source, got %q", f.SubjectName, f.SubjectSource)
		}
	}

	wantMovement := []model.MovementRow{
		{Range: ranges[0], Enrollment: 120},
		{Range: ranges[1]},
		{Range: ranges[2]},
	}
	if diff := cmp.Diff(wantMovement, rec.Content.Movement); diff != "" {
		t.Errorf("movement mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleLibraryScenario(t *testing.T) {
	c := catalog.Default()
	level := mustLevel(t, c, "shs")
	sel := model.SubjectSelection{
		Library: []string{"Oral Communication", "General Mathematics"},
		Custom:  []string{"Robotics"},
	}
	answers := model.Answers{
		"quarter": "Q1",
		subjects.AnswerKey("Oral Communication"):  "3",
		subjects.AnswerKey("General Mathematics"): "0",
		subjects.AnswerKey("Robotics"):            float64(5),
	}

	rec, err := Assemble(Input{Level: level, Respondent: &model.User{ID: 1}, Answers: answers, Selection: sel, Ranges: c.Ranges("Q1")})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	want := []model.SubjectFailure{
		{SubjectName: "Oral Communication", SubjectSource: model.SourceLibrary, FailedCount: 3},
		{SubjectName: "General Mathematics", SubjectSource: model.SourceLibrary, FailedCount: 0},
		{SubjectName: "Robotics", SubjectSource: model.SourceCustom, FailedCount: 5},
	}
	if diff := cmp.Diff(want, rec.Content.FailuresBySubject); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(sel, rec.Content.Meta); diff != "" {
		t.Errorf("meta mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleDoesNotAliasAnswers(t *testing.T) {
	c := catalog.Default()
	answers := model.Answers{"quarter": "Q1"}
	rec, err := Assemble(Input{Level: mustLevel(t, c, "school_head"), Respondent: &model.User{ID: 1}, Answers: answers})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	answers["quarter"] = "Q2"
	if rec.Content.Answers["quarter"] != "Q1" {
		t.Error("record shares storage with the live answer map")
	}
	if rec.Content.Movement != nil {
		t.Errorf("expected no movement table for school head, got %v", rec.Content.Movement)
	}
	if len(rec.Content.FailuresBySubject) != 0 {
		t.Errorf("expected no failure rows, got %d", len(rec.Content.FailuresBySubject))
	}
}

func TestReviewFailuresPositiveOnly(t *testing.T) {
	level := model.LevelConfig{
		SubjectStrategy: model.StrategyCurriculum,
		Subjects:        []string{"A", "B", "C", "D", "E"},
	}
	answers := model.Answers{
		subjects.AnswerKey("A"): "3",
		subjects.AnswerKey("B"): "0",
		subjects.AnswerKey("C"): "n/a",
		subjects.AnswerKey("D"): "-2",
	}
	got := ReviewFailures(level, answers, model.SubjectSelection{})
	want := []model.SubjectFailure{{SubjectName: "A", SubjectSource: model.SourceCurriculum, FailedCount: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("review failures mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize(t *testing.T) {
	rows := []model.MovementRow{
		{Range: "a", Enrollment: 100, TransferredIn: 2, TransferredOut: 1},
		{Range: "b", Enrollment: 104, TransferredIn: 3},
		{Range: "c", TransferredOut: 4},
	}
	got := Summarize(rows)
	want := Summary{Enrollment: 104, TransferredIn: 5, TransferredOut: 5}
	if got != want {
		t.Errorf("Summarize = %+v, want %+v", got, want)
	}
	if (Summarize(nil) != Summary{}) {
		t.Error("expected zero summary for no rows")
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"absent", nil, 0},
		{"empty", "", 0},
		{"na upper", "N/A", 0},
		{"na lower", "n/a", 0},
		{"garbage", "three", 0},
		{"numeric string", " 12 ", 12},
		{"float", float64(4), 4},
		{"fraction", "2.5", 2.5},
		{"bool", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := model.ParseCount(tt.in); got != tt.want {
				t.Errorf("ParseCount(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
