// Package schema turns a level configuration and a reporting period into the
// ordered list of wizard steps.
package schema

import (
	"strings"

	"github.com/pavelanni/mea/internal/catalog"
	"github.com/pavelanni/mea/internal/model"
)

// Fixed section and field identifiers.
const (
	ProfileSectionID  = "profile"
	FailuresSectionID = "failures_by_subject"
	ReviewSectionID   = "review_submission"

	FieldSchoolName = "schoolName"
	FieldDistrict   = "district"
	FieldSchoolYear = "sy"
	FieldPeriod     = "quarter"
	FieldRespondent = "respondentName"
)

// Toggles are feature switches that alter the resolved steps.
type Toggles struct {
	// SubjectFailures enables the failures-by-subject step for levels that
	// support it.
	SubjectFailures bool
}

// DefaultToggles enables every optional step.
func DefaultToggles() Toggles {
	return Toggles{SubjectFailures: true}
}

// Resolver expands level configurations against a catalog.
type Resolver struct {
	catalog *catalog.Catalog
}

// NewResolver creates a Resolver for the given catalog.
func NewResolver(c *catalog.Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Resolve returns the ordered steps for level in period. It has no side
// effects and identical inputs give identical output.
func (r *Resolver) Resolve(level model.LevelConfig, period string, t Toggles) []model.FormSection {
	ranges := r.catalog.Ranges(period)

	sections := []model.FormSection{r.profile(level)}

	var rest []model.FormSection
	for _, s := range level.Sections {
		if s.Movement {
			sections = append(sections, expandMovement(s, ranges))
			continue
		}
		rest = append(rest, s.Clone())
	}

	if t.SubjectFailures && level.ReportsFailures() {
		sections = append(sections, model.FormSection{
			ID:          FailuresSectionID,
			Title:       "Learners Who Failed (By Subject)",
			Description: level.FailuresNote,
			Fields:      []model.FieldDescriptor{},
			Kind:        model.SectionDerived,
		})
	}

	sections = append(sections, rest...)
	sections = append(sections, model.FormSection{
		ID:          ReviewSectionID,
		Title:       "Review & Submit",
		Description: "Please review your data before finalizing the report.",
		Fields:      []model.FieldDescriptor{},
		Kind:        model.SectionDerived,
	})
	return sections
}

func (r *Resolver) profile(level model.LevelConfig) model.FormSection {
	p := r.catalog.Profile.Clone()
	p.ID = ProfileSectionID
	for i, f := range p.Fields {
		if f.ID == FieldSchoolName {
			p.Fields[i].Options = r.catalog.SchoolsFor(level.SchoolTier)
		}
	}
	return p
}

func expandMovement(s model.FormSection, ranges []string) model.FormSection {
	out := s
	out.Kind = model.SectionDerived
	out.Fields = make([]model.FieldDescriptor, 0, len(ranges)*len(s.Fields))
	for _, rg := range ranges {
		for _, tmpl := range s.Fields {
			f := tmpl
			if tmpl.Options != nil {
				f.Options = append([]string(nil), tmpl.Options...)
			}
			f.ID = RangeKey(tmpl.ID, rg)
			f.Template = tmpl.ID
			f.PeriodRange = rg
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// RangeKey is the answer key of a movement template for one range.
func RangeKey(templateID, rg string) string {
	return templateID + "_" + rg
}

// HasRangeSuffix reports whether key belongs to any of ranges.
func HasRangeSuffix(key string, ranges []string) bool {
	for _, rg := range ranges {
		if strings.HasSuffix(key, "_"+rg) {
			return true
		}
	}
	return false
}

// Group is the fields of one period range inside a movement section.
type Group struct {
	Range  string
	Fields []model.FieldDescriptor
}

// Groups splits a section's fields by period range in first-seen order.
// Sections without derived fields yield nil.
func Groups(s model.FormSection) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, f := range s.Fields {
		if f.PeriodRange == "" {
			continue
		}
		i, ok := index[f.PeriodRange]
		if !ok {
			i = len(groups)
			index[f.PeriodRange] = i
			groups = append(groups, Group{Range: f.PeriodRange})
		}
		groups[i].Fields = append(groups[i].Fields, f)
	}
	return groups
}

// IndexOf returns the position of the section with id, or -1.
func IndexOf(sections []model.FormSection, id string) int {
	for i, s := range sections {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// FieldByID finds a field across sections.
func FieldByID(sections []model.FormSection, id string) (model.FieldDescriptor, bool) {
	for _, s := range sections {
		if f, ok := s.Field(id); ok {
			return f, true
		}
	}
	return model.FieldDescriptor{}, false
}
