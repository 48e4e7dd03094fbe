package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/mea/internal/catalog"
	"github.com/pavelanni/mea/internal/model"
)

func newTestResolver(t *testing.T) (*Resolver, *catalog.Catalog) {
	t.Helper()
	c := catalog.Default()
	return NewResolver(c), c
}

func mustLevel(t *testing.T, c *catalog.Catalog, id string) model.LevelConfig {
	t.Helper()
	l, err := c.Level(id)
	if err != nil {
		t.Fatalf("Level(%q): %v", id, err)
	}
	return l
}

func sectionIDs(sections []model.FormSection) []string {
	ids := make([]string, len(sections))
	for i, s := range sections {
		ids[i] = s.ID
	}
	return ids
}

func TestResolveIdempotent(t *testing.T) {
	r, c := newTestResolver(t)
	for _, level := range c.Levels {
		for _, period := range c.PeriodIDs() {
			t.Run(level.ID+"/"+period, func(t *testing.T) {
				first := r.Resolve(level, period, DefaultToggles())
				second := r.Resolve(level, period, DefaultToggles())
				if diff := cmp.Diff(first, second); diff != "" {
					t.Errorf("Resolve not idempotent (-first +second):\n%s", diff)
				}
			})
		}
	}
}

func TestResolveOrdering(t *testing.T) {
	r, c := newTestResolver(t)

	tests := []struct {
		level string
		want  []string
	}{
		{"elementary", []string{"profile", "movement", "failures_by_subject", "review_submission"}},
		{"shs", []string{"profile", "movement", "failures_by_subject", "review_submission"}},
		{"kindergarten", []string{"profile", "kinder_movement", "failures_by_subject", "kinder_inclusive", "kinder_eccd", "review_submission"}},
		{"als", []string{"profile", "als_movement", "review_submission"}},
		{"sped", []string{"profile", "sped_profile", "sped_class", "sped_support", "review_submission"}},
		{"school_head", []string{"profile", "head_enrollment", "head_personnel", "head_facilities", "head_gad_learner", "head_gad_personnel", "head_orgs", "review_submission"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got := sectionIDs(r.Resolve(mustLevel(t, c, tt.level), "Q1", DefaultToggles()))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("section order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveFailuresToggle(t *testing.T) {
	r, c := newTestResolver(t)
	got := sectionIDs(r.Resolve(mustLevel(t, c, "elementary"), "Q1", Toggles{}))
	want := []string{"profile", "movement", "review_submission"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("section order mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveMovementExpansion(t *testing.T) {
	r, c := newTestResolver(t)
	sections := r.Resolve(mustLevel(t, c, "elementary"), "Q2", DefaultToggles())
	movement := sections[1]

	if movement.Kind != model.SectionDerived {
		t.Errorf("expected derived movement section, got %q", movement.Kind)
	}
	ranges := c.Ranges("Q2")
	if len(movement.Fields) != len(ranges)*4 {
		t.Fatalf("expected %d fields, got %d", len(ranges)*4, len(movement.Fields))
	}

	first := movement.Fields[0]
	if first.ID != "enroll_total_"+ranges[0] {
		t.Errorf("expected id %q, got %q", "enroll_total_"+ranges[0], first.ID)
	}
	if first.PeriodRange != ranges[0] {
		t.Errorf("expected range tag %q, got %q", ranges[0], first.PeriodRange)
	}
	if first.Template != "enroll_total" {
		t.Errorf("expected template enroll_total, got %q", first.Template)
	}
	if first.Measure != model.MeasureEnrollment {
		t.Errorf("expected enrollment measure, got %q", first.Measure)
	}

	groups := Groups(movement)
	if len(groups) != len(ranges) {
		t.Fatalf("expected %d groups, got %d", len(ranges), len(groups))
	}
	for i, g := range groups {
		if g.Range != ranges[i] {
			t.Errorf("group %d: expected range %q, got %q", i, ranges[i], g.Range)
		}
		if len(g.Fields) != 4 {
			t.Errorf("group %d: expected 4 fields, got %d", i, len(g.Fields))
		}
	}
}

func TestResolveReturnsIndependentCopies(t *testing.T) {
	r, c := newTestResolver(t)
	level := mustLevel(t, c, "als")
	a := r.Resolve(level, "Q1", DefaultToggles())
	b := r.Resolve(level, "Q1", DefaultToggles())
	b[1].Fields[0].Label = "mutated"
	if a[1].Fields[0].Label == "mutated" {
		t.Error("resolved sections share field storage")
	}
}

func TestResolveSchoolOptionsByTier(t *testing.T) {
	r, c := newTestResolver(t)

	tests := []struct {
		level string
		want  []string
	}{
		{"elementary", c.Schools[model.TierElementary]},
		{"shs", c.Schools[model.TierSecondary]},
		{"school_head", append(append([]string{}, c.Schools[model.TierElementary]...), c.Schools[model.TierSecondary]...)},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			profile := r.Resolve(mustLevel(t, c, tt.level), "Q1", DefaultToggles())[0]
			f, ok := profile.Field(FieldSchoolName)
			if !ok {
				t.Fatal("schoolName field missing")
			}
			if diff := cmp.Diff(tt.want, f.Options); diff != "" {
				t.Errorf("school options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveUnknownPeriod(t *testing.T) {
	r, c := newTestResolver(t)
	sections := r.Resolve(mustLevel(t, c, "elementary"), "Q9", DefaultToggles())
	if len(sections[1].Fields) != 0 {
		t.Errorf("expected no movement fields for unknown period, got %d", len(sections[1].Fields))
	}
}

func TestHasRangeSuffix(t *testing.T) {
	ranges := []string{"June 16–30, 2025", "July 1–31, 2025"}
	tests := []struct {
		key  string
		want bool
	}{
		{"enroll_total_June 16–30, 2025", true},
		{"move_in_July 1–31, 2025", true},
		{"enroll_total_August 1–22, 2025", false},
		{"schoolName", false},
		{"June 16–30, 2025", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := HasRangeSuffix(tt.key, ranges); got != tt.want {
				t.Errorf("HasRangeSuffix(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
