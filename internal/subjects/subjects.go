// Package subjects tracks which subjects a respondent reports failures for.
//
// A level sources its subjects either from a fixed curriculum list (optionally
// splitting one grouped subject into its components) or from a checklist
// library plus free-text custom entries. Operations never touch the answer
// map directly; they return an Effect the caller applies so cleanup of
// orphaned failure counts happens in one place.
package subjects

import (
	"html"
	"slices"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/pavelanni/mea/internal/model"
)

// AnswerPrefix prefixes every failure-count answer key.
const AnswerPrefix = "fail_subject_"

// AnswerKey is the answer key holding the failure count for a subject.
func AnswerKey(name string) string {
	return AnswerPrefix + name
}

// Effect lists the answer changes an operation requires.
type Effect struct {
	// Delete holds answer keys to remove.
	Delete []string
	// Seed holds answer values to set.
	Seed map[string]any
}

// Empty reports whether the effect changes nothing.
func (e Effect) Empty() bool {
	return len(e.Delete) == 0 && len(e.Seed) == 0
}

// Apply performs the effect on answers.
func (e Effect) Apply(answers model.Answers) {
	for _, k := range e.Delete {
		delete(answers, k)
	}
	for k, v := range e.Seed {
		answers[k] = v
	}
}

// Engine holds the subject selection of one draft.
type Engine struct {
	level model.LevelConfig
	sel   model.SubjectSelection
}

// New creates an engine for level starting from a saved selection.
func New(level model.LevelConfig, sel model.SubjectSelection) *Engine {
	e := &Engine{level: level, sel: sel.Clone()}
	e.normalize()
	return e
}

// normalize restores the dedup invariant on restored state.
func (e *Engine) normalize() {
	var lib []string
	for _, name := range e.sel.Library {
		if !slices.Contains(lib, name) {
			lib = append(lib, name)
		}
	}
	var custom []string
	for _, name := range e.sel.Custom {
		if name == "" || slices.Contains(lib, name) || slices.Contains(custom, name) {
			continue
		}
		custom = append(custom, name)
	}
	e.sel.Library = lib
	e.sel.Custom = custom
}

// Strategy returns the level's subject strategy.
func (e *Engine) Strategy() model.SubjectStrategy {
	return e.level.SubjectStrategy
}

// Selection returns a copy of the current selection state.
func (e *Engine) Selection() model.SubjectSelection {
	return e.sel.Clone()
}

// Active returns the subjects currently reported on.
func (e *Engine) Active() []model.SubjectRecord {
	return Active(e.level, e.sel)
}

// IsActive reports whether name is in the active list.
func (e *Engine) IsActive(name string) bool {
	for _, r := range e.Active() {
		if r.Name == name {
			return true
		}
	}
	return false
}

// AddCustom appends a free-text subject. Blank names and names already
// selected from either source are ignored.
func (e *Engine) AddCustom(name string) bool {
	if e.level.SubjectStrategy != model.StrategyLibrary {
		return false
	}
	name = CleanName(name)
	if name == "" {
		return false
	}
	if slices.Contains(e.sel.Custom, name) || slices.Contains(e.sel.Library, name) {
		return false
	}
	e.sel.Custom = append(e.sel.Custom, name)
	return true
}

// RemoveCustom drops a custom subject and its failure count.
func (e *Engine) RemoveCustom(name string) Effect {
	i := slices.Index(e.sel.Custom, name)
	if i < 0 {
		return Effect{}
	}
	e.sel.Custom = slices.Delete(e.sel.Custom, i, i+1)
	return Effect{Delete: []string{AnswerKey(name)}}
}

// ToggleLibrary selects or deselects a library subject. Deselecting removes
// its failure count. Selecting a name that is currently a custom entry moves
// it to the library and keeps its count. Names outside the library are
// ignored.
func (e *Engine) ToggleLibrary(name string) Effect {
	if i := slices.Index(e.sel.Library, name); i >= 0 {
		e.sel.Library = slices.Delete(e.sel.Library, i, i+1)
		return Effect{Delete: []string{AnswerKey(name)}}
	}
	if e.level.SubjectStrategy != model.StrategyLibrary || !slices.Contains(e.level.Subjects, name) {
		return Effect{}
	}
	if i := slices.Index(e.sel.Custom, name); i >= 0 {
		e.sel.Custom = slices.Delete(e.sel.Custom, i, i+1)
	}
	e.sel.Library = append(e.sel.Library, name)
	return Effect{}
}

// SetQuickMode switches bulk selection of the core list. Enabling replaces
// the library selection with the whole core list and seeds a zero count for
// every core subject whose answer is absent or empty. Disabling only clears
// the flag.
func (e *Engine) SetQuickMode(enabled bool, answers model.Answers) Effect {
	if e.level.SubjectStrategy != model.StrategyLibrary {
		return Effect{}
	}
	e.sel.QuickMode = enabled
	if !enabled {
		return Effect{}
	}
	e.sel.Library = slices.Clone(e.level.Subjects)
	e.sel.Custom = slices.DeleteFunc(e.sel.Custom, func(name string) bool {
		return slices.Contains(e.sel.Library, name)
	})
	seed := make(map[string]any)
	for _, name := range e.sel.Library {
		key := AnswerKey(name)
		if answers.Empty(key) {
			seed[key] = "0"
		}
	}
	if len(seed) == 0 {
		return Effect{}
	}
	return Effect{Seed: seed}
}

// SetSplit toggles the component breakdown of the split subject. Answers are
// kept on both sides so collapsing again restores the grouped count.
func (e *Engine) SetSplit(enabled bool) {
	if !e.CanSplit() {
		return
	}
	e.sel.Split = enabled
}

// CanSplit reports whether the level has a splittable subject.
func (e *Engine) CanSplit() bool {
	return e.level.SubjectStrategy == model.StrategyCurriculum && e.level.SplitSubject != ""
}

// Active computes the active subject list for a level and selection.
func Active(level model.LevelConfig, sel model.SubjectSelection) []model.SubjectRecord {
	switch level.SubjectStrategy {
	case model.StrategyCurriculum:
		out := make([]model.SubjectRecord, 0, len(level.Subjects)+len(level.SplitComponents))
		for _, name := range level.Subjects {
			if sel.Split && name == level.SplitSubject && len(level.SplitComponents) > 0 {
				for _, c := range level.SplitComponents {
					out = append(out, model.SubjectRecord{Name: c, Source: model.SourceCurriculum})
				}
				continue
			}
			out = append(out, model.SubjectRecord{Name: name, Source: model.SourceCurriculum})
		}
		return out
	case model.StrategyLibrary:
		out := make([]model.SubjectRecord, 0, len(sel.Library)+len(sel.Custom))
		for _, name := range sel.Library {
			out = append(out, model.SubjectRecord{Name: name, Source: model.SourceLibrary})
		}
		for _, name := range sel.Custom {
			out = append(out, model.SubjectRecord{Name: name, Source: model.SourceCustom})
		}
		return out
	default:
		return nil
	}
}

// SearchLibrary filters the level's library by a case-insensitive substring.
func SearchLibrary(level model.LevelConfig, term string) []string {
	term = strings.ToLower(strings.TrimSpace(term))
	var out []string
	for _, name := range level.Subjects {
		if strings.Contains(strings.ToLower(name), term) {
			out = append(out, name)
		}
	}
	return out
}

var (
	namePolicyOnce sync.Once
	namePolicy     *bluemonday.Policy
)

// CleanName trims a free-text subject name and strips any markup. Entities
// produced by sanitising are decoded again so "Arts & Crafts" survives.
func CleanName(raw string) string {
	namePolicyOnce.Do(func() {
		namePolicy = bluemonday.StrictPolicy()
	})
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(trimmed)))
}
