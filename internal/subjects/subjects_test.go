package subjects

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/mea/internal/model"
)

func libraryLevel() model.LevelConfig {
	return model.LevelConfig{
		ID:              "shs",
		SubjectStrategy: model.StrategyLibrary,
		Subjects:        []string{"Oral Communication", "General Mathematics", "Physical Science"},
	}
}

func curriculumLevel() model.LevelConfig {
	return model.LevelConfig{
		ID:              "elementary",
		SubjectStrategy: model.StrategyCurriculum,
		Subjects:        []string{"Filipino", "English", "MAPEH", "EPP"},
		SplitSubject:    "MAPEH",
		SplitComponents: []string{"Music", "Arts", "Physical Education", "Health"},
	}
}

func names(records []model.SubjectRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}

func TestAddCustom(t *testing.T) {
	e := New(libraryLevel(), model.SubjectSelection{})

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"plain", "Robotics", true},
		{"trimmed duplicate", "  Robotics  ", false},
		{"blank", "   ", false},
		{"empty", "", false},
		{"case differs", "robotics", true},
		{"markup stripped", "<b>Drafting</b>", true},
		{"ampersand kept", "Arts & Crafts", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.AddCustom(tt.input); got != tt.want {
				t.Errorf("AddCustom(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	want := []string{"Robotics", "robotics", "Drafting", "Arts & Crafts"}
	if diff := cmp.Diff(want, e.Selection().Custom); diff != "" {
		t.Errorf("custom list mismatch (-want +got):\n%s", diff)
	}
}

func TestAddCustomRejectsLibrarySelection(t *testing.T) {
	e := New(libraryLevel(), model.SubjectSelection{})
	e.ToggleLibrary("Oral Communication")
	if e.AddCustom("Oral Communication") {
		t.Error("expected AddCustom to ignore a name already selected from the library")
	}
	if len(e.Selection().Custom) != 0 {
		t.Errorf("expected empty custom list, got %v", e.Selection().Custom)
	}
}

func TestRemoveCustom(t *testing.T) {
	e := New(libraryLevel(), model.SubjectSelection{})
	e.AddCustom("Robotics")
	answers := model.Answers{AnswerKey("Robotics"): "4", "schoolName": "X"}

	eff := e.RemoveCustom("Robotics")
	eff.Apply(answers)

	if _, ok := answers[AnswerKey("Robotics")]; ok {
		t.Error("expected failure count to be removed")
	}
	if answers["schoolName"] != "X" {
		t.Error("unrelated answer was touched")
	}
	if len(e.Selection().Custom) != 0 {
		t.Errorf("expected empty custom list, got %v", e.Selection().Custom)
	}

	if !e.RemoveCustom("Unknown").Empty() {
		t.Error("removing an unknown subject should be a no-op")
	}
}

func TestToggleLibrary(t *testing.T) {
	e := New(libraryLevel(), model.SubjectSelection{})
	answers := model.Answers{AnswerKey("General Mathematics"): "2"}

	eff := e.ToggleLibrary("General Mathematics")
	if !eff.Empty() {
		t.Errorf("selecting should not touch answers, got %+v", eff)
	}
	eff.Apply(answers)
	if answers[AnswerKey("General Mathematics")] != "2" {
		t.Error("existing answer was changed on select")
	}

	eff = e.ToggleLibrary("General Mathematics")
	eff.Apply(answers)
	if _, ok := answers[AnswerKey("General Mathematics")]; ok {
		t.Error("expected answer removed on deselect")
	}
	if len(e.Selection().Library) != 0 {
		t.Errorf("expected empty library selection, got %v", e.Selection().Library)
	}

	if !e.ToggleLibrary("Not In Library").Empty() || len(e.Selection().Library) != 0 {
		t.Error("names outside the library should be ignored")
	}
}

func TestToggleLibraryPromotesCustomEntry(t *testing.T) {
	e := New(libraryLevel(), model.SubjectSelection{})
	e.AddCustom("Physical Science")
	answers := model.Answers{AnswerKey("Physical Science"): "3"}

	e.ToggleLibrary("Physical Science").Apply(answers)

	sel := e.Selection()
	if slices.Contains(sel.Custom, "Physical Science") {
		t.Error("name still present in custom list")
	}
	if !slices.Contains(sel.Library, "Physical Science") {
		t.Error("name missing from library selection")
	}
	if answers[AnswerKey("Physical Science")] != "3" {
		t.Error("answer should be kept when moving to the library")
	}
}

func TestDedupInvariantUnderRandomOperations(t *testing.T) {
	level := libraryLevel()
	pool := append(slices.Clone(level.Subjects), "Robotics", "Drafting")
	r := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 50; run++ {
		e := New(level, model.SubjectSelection{})
		for step := 0; step < 40; step++ {
			name := pool[r.IntN(len(pool))]
			if r.IntN(2) == 0 {
				e.AddCustom(name)
			} else {
				e.ToggleLibrary(name)
			}
			sel := e.Selection()
			for _, c := range sel.Custom {
				if slices.Contains(sel.Library, c) {
					t.Fatalf("run %d step %d: %q in both lists", run, step, c)
				}
			}
		}
	}
}

func TestQuickMode(t *testing.T) {
	level := libraryLevel()
	e := New(level, model.SubjectSelection{Custom: []string{"General Mathematics", "Robotics"}})
	answers := model.Answers{
		AnswerKey("Oral Communication"):  "5",
		AnswerKey("General Mathematics"): "",
		AnswerKey("Robotics"):            "1",
	}

	e.SetQuickMode(true, answers).Apply(answers)

	sel := e.Selection()
	if diff := cmp.Diff(level.Subjects, sel.Library); diff != "" {
		t.Errorf("library selection mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Robotics"}, sel.Custom); diff != "" {
		t.Errorf("custom list mismatch (-want +got):\n%s", diff)
	}
	if answers[AnswerKey("Oral Communication")] != "5" {
		t.Error("quick mode overwrote a non-empty answer")
	}
	if answers[AnswerKey("General Mathematics")] != "0" {
		t.Errorf("expected empty answer seeded with 0, got %v", answers[AnswerKey("General Mathematics")])
	}
	if answers[AnswerKey("Physical Science")] != "0" {
		t.Errorf("expected absent answer seeded with 0, got %v", answers[AnswerKey("Physical Science")])
	}

	before := answers.Clone()
	eff := e.SetQuickMode(false, answers)
	eff.Apply(answers)
	if !eff.Empty() {
		t.Errorf("disabling quick mode should not change answers, got %+v", eff)
	}
	if diff := cmp.Diff(before, answers); diff != "" {
		t.Errorf("answers changed on disable (-before +after):\n%s", diff)
	}
	if e.Selection().QuickMode {
		t.Error("quick mode flag still set")
	}
}

func TestActiveCurriculumSplit(t *testing.T) {
	e := New(curriculumLevel(), model.SubjectSelection{})
	if !e.CanSplit() {
		t.Fatal("expected level to be splittable")
	}

	want := []string{"Filipino", "English", "MAPEH", "EPP"}
	if diff := cmp.Diff(want, names(e.Active())); diff != "" {
		t.Errorf("active mismatch (-want +got):\n%s", diff)
	}

	e.SetSplit(true)
	want = []string{"Filipino", "English", "Music", "Arts", "Physical Education", "Health", "EPP"}
	if diff := cmp.Diff(want, names(e.Active())); diff != "" {
		t.Errorf("split active mismatch (-want +got):\n%s", diff)
	}
	for _, r := range e.Active() {
		if r.Source != model.SourceCurriculum {
			t.Errorf("expected curriculum source for %q, got %q", r.Name, r.Source)
		}
	}

	e.SetSplit(false)
	if !e.IsActive("MAPEH") || e.IsActive("Music") {
		t.Error("collapse did not restore the grouped subject")
	}
}

func TestActiveLibraryOrder(t *testing.T) {
	e := New(libraryLevel(), model.SubjectSelection{})
	e.AddCustom("Robotics")
	e.ToggleLibrary("Physical Science")
	e.ToggleLibrary("Oral Communication")

	want := []model.SubjectRecord{
		{Name: "Physical Science", Source: model.SourceLibrary},
		{Name: "Oral Communication", Source: model.SourceLibrary},
		{Name: "Robotics", Source: model.SourceCustom},
	}
	if diff := cmp.Diff(want, e.Active()); diff != "" {
		t.Errorf("active mismatch (-want +got):\n%s", diff)
	}
}

func TestNewNormalizesRestoredSelection(t *testing.T) {
	e := New(libraryLevel(), model.SubjectSelection{
		Library: []string{"Oral Communication", "Oral Communication"},
		Custom:  []string{"Oral Communication", "Robotics", "Robotics", ""},
	})
	sel := e.Selection()
	if diff := cmp.Diff([]string{"Oral Communication"}, sel.Library); diff != "" {
		t.Errorf("library mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Robotics"}, sel.Custom); diff != "" {
		t.Errorf("custom mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchLibrary(t *testing.T) {
	got := SearchLibrary(libraryLevel(), "  MATH ")
	if diff := cmp.Diff([]string{"General Mathematics"}, got); diff != "" {
		t.Errorf("search mismatch (-want +got):\n%s", diff)
	}
	if got := SearchLibrary(libraryLevel(), ""); len(got) != 3 {
		t.Errorf("expected empty term to match all, got %d", len(got))
	}
}
