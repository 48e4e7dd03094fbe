package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldType is the input kind of a form field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldSelect   FieldType = "select"
	FieldReadOnly FieldType = "read_only"
	// FieldHeader marks a visual separator inside a section; it carries no answer.
	FieldHeader FieldType = "header"
)

// Measure tags a movement template with the column it feeds in the export
// movement table.
type Measure string

const (
	MeasureEnrollment  Measure = "enrollment"
	MeasureTransferIn  Measure = "transfer_in"
	MeasureTransferOut Measure = "transfer_out"
	MeasureNLPA        Measure = "nlpa"
)

// FieldDescriptor describes a single question.
type FieldDescriptor struct {
	ID          string    `json:"id" yaml:"id"`
	Label       string    `json:"label" yaml:"label"`
	Type        FieldType `json:"type" yaml:"type"`
	Options     []string  `json:"options,omitempty" yaml:"options,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Placeholder string    `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Measure     Measure   `json:"measure,omitempty" yaml:"measure,omitempty"`
	// PeriodRange is set on fields derived from a movement template.
	PeriodRange string `json:"periodRange,omitempty" yaml:"-"`
	// Template is the movement template id a derived field was expanded from.
	Template string `json:"template,omitempty" yaml:"-"`
}

// HasAnswer reports whether the field can hold a value.
func (f FieldDescriptor) HasAnswer() bool {
	return f.Type != FieldHeader
}

// Editable reports whether respondents may change the field's value.
func (f FieldDescriptor) Editable() bool {
	return f.Type != FieldHeader && f.Type != FieldReadOnly
}

// SectionKind distinguishes author-defined sections from ones built at resolve time.
type SectionKind string

const (
	SectionStatic  SectionKind = "static"
	SectionDerived SectionKind = "derived"
)

// FormSection is one wizard step.
type FormSection struct {
	ID          string            `json:"id" yaml:"id"`
	Title       string            `json:"title" yaml:"title"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []FieldDescriptor `json:"fields" yaml:"fields"`
	Kind        SectionKind       `json:"kind" yaml:"-"`
	// Movement marks a template section expanded per period range.
	Movement bool `json:"movement,omitempty" yaml:"movement,omitempty"`
}

// Field returns the field with the given id.
func (s FormSection) Field(id string) (FieldDescriptor, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// Clone returns a deep copy of the section.
func (s FormSection) Clone() FormSection {
	out := s
	out.Fields = make([]FieldDescriptor, len(s.Fields))
	for i, f := range s.Fields {
		if f.Options != nil {
			f.Options = append([]string(nil), f.Options...)
		}
		out.Fields[i] = f
	}
	return out
}

// SchoolTier selects which school list a level's profile offers.
type SchoolTier string

const (
	TierElementary SchoolTier = "elementary"
	TierSecondary  SchoolTier = "secondary"
	TierAll        SchoolTier = "all"
)

// SubjectStrategy is how a level sources the subjects it reports failures for.
type SubjectStrategy string

const (
	StrategyNone       SubjectStrategy = "none"
	StrategyCurriculum SubjectStrategy = "curriculum"
	StrategyLibrary    SubjectStrategy = "library"
)

// LevelConfig is the immutable form definition for one respondent level.
type LevelConfig struct {
	ID              string          `json:"id" yaml:"id"`
	Label           string          `json:"label" yaml:"label"`
	SchoolTier      SchoolTier      `json:"schoolTier" yaml:"schoolTier"`
	SubjectStrategy SubjectStrategy `json:"subjectStrategy" yaml:"subjectStrategy"`
	FailuresNote    string          `json:"failuresNote,omitempty" yaml:"failuresNote,omitempty"`
	// Subjects is the curriculum list, or the library for the library strategy.
	Subjects []string `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	// SplitSubject expands into SplitComponents when the split toggle is on.
	SplitSubject    string        `json:"splitSubject,omitempty" yaml:"splitSubject,omitempty"`
	SplitComponents []string      `json:"splitComponents,omitempty" yaml:"splitComponents,omitempty"`
	Sections        []FormSection `json:"sections" yaml:"sections"`
}

// ReportsFailures reports whether the level has a failures-by-subject step.
func (l LevelConfig) ReportsFailures() bool {
	return l.SubjectStrategy == StrategyCurriculum || l.SubjectStrategy == StrategyLibrary
}

// Answers maps field identifiers to scalar values (string or float64).
type Answers map[string]any

// Clone returns a shallow copy; values are scalars.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Empty reports whether key is absent or holds an empty string.
func (a Answers) Empty(key string) bool {
	v, ok := a[key]
	if !ok || v == nil {
		return true
	}
	s, isStr := v.(string)
	return isStr && s == ""
}

// String returns the value formatted for display.
func (a Answers) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// NormalizeValue converts v to the scalar forms stored in Answers.
func NormalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return nil, fmt.Errorf("unsupported answer type %T", v)
	}
}

// ErrNonFinite rejects NaN and infinite numbers, which JSON cannot encode.
var ErrNonFinite = errors.New("number must be finite")

func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrNonFinite
	}
	return f, nil
}

// ParseCount coerces an answer to a count. Absent, empty, non-numeric values
// and the token "N/A" (any case) are zero.
func ParseCount(v any) float64 {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "N/A") {
			return 0
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return n
	default:
		return 0
	}
}
