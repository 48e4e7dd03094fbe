package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	appI18n "github.com/pavelanni/mea/internal/i18n"
	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/schema"
	"github.com/pavelanni/mea/internal/subjects"
	"github.com/pavelanni/mea/internal/wizard"
)

// Runner walks a respondent through a form controller step by step.
type Runner struct {
	driver PromptDriver
}

// NewRunner creates a Runner. A nil driver prompts on the terminal.
func NewRunner(driver PromptDriver) *Runner {
	if driver == nil {
		driver = NewSurveyDriver()
	}
	return &Runner{driver: driver}
}

// Confirm asks the respondent to approve a destructive change. It is meant
// to be passed as the controller's confirmation callback.
func (r *Runner) Confirm(ctx context.Context, c wizard.Confirmation) bool {
	msg := appI18n.T(ctx, c.MessageID)
	if msg == c.MessageID && c.Text != "" {
		msg = c.Text
	}
	ok, err := r.driver.Confirm(ctx, ConfirmConfig{Message: msg})
	return err == nil && ok
}

// ErrBackendUnavailable is returned when the respondent stops retrying an
// unreachable backend.
var ErrBackendUnavailable = errors.New("backend unavailable")

// WaitForBackend runs check until it succeeds, offering a manual retry after
// every failure.
func (r *Runner) WaitForBackend(ctx context.Context, check func(context.Context) error) error {
	for {
		err := check(ctx)
		if err == nil {
			return nil
		}
		if err := r.driver.Info(ctx, appI18n.T(ctx, "BackendUnavailable")); err != nil {
			return err
		}
		options := []string{appI18n.T(ctx, "Retry"), appI18n.T(ctx, "Quit")}
		idx, serr := r.driver.Select(ctx, SelectConfig{Message: appI18n.T(ctx, "ChooseAction"), Options: options})
		if serr != nil {
			return serr
		}
		if idx != 0 {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
}

type action int

const (
	actionNext action = iota
	actionPrevious
	actionQuit
)

// Run prompts until the report is submitted or the respondent quits. Every
// answer is saved as a draft as it is entered, so quitting loses nothing.
func (r *Runner) Run(ctx context.Context, c *wizard.Controller) error {
	for {
		if _, ok := c.Submitted(); ok {
			return r.summary(ctx, c)
		}

		sec := c.Current()
		header := appI18n.Td(ctx, "StepOf", map[string]any{"Step": c.Step() + 1, "Total": len(c.Sections())})
		if err := r.driver.Info(ctx, fmt.Sprintf("\n%s: %s", header, sec.Title)); err != nil {
			return err
		}
		if sec.Description != "" {
			if err := r.driver.Info(ctx, sec.Description); err != nil {
				return err
			}
		}

		if err := r.fillStep(ctx, c, sec); err != nil {
			return err
		}

		act, err := r.chooseAction(ctx, c)
		if err != nil {
			return err
		}
		switch act {
		case actionPrevious:
			c.Previous()
		case actionQuit:
			return r.driver.Info(ctx, appI18n.T(ctx, "DraftSaved"))
		case actionNext:
			if err := c.Next(ctx); err != nil {
				msg := appI18n.Error(ctx, err)
				if !errors.Is(err, wizard.ErrValidation) {
					msg = appI18n.Td(ctx, "SubmitFailed", map[string]any{"Error": err.Error()})
				}
				if err := r.driver.Info(ctx, msg); err != nil {
					return err
				}
			}
		}
	}
}

func (r *Runner) chooseAction(ctx context.Context, c *wizard.Controller) (action, error) {
	next := appI18n.T(ctx, "Next")
	if c.IsLast() {
		next = appI18n.T(ctx, "Submit")
	}
	options := []string{next}
	actions := []action{actionNext}
	if !c.IsFirst() {
		options = append(options, appI18n.T(ctx, "Previous"))
		actions = append(actions, actionPrevious)
	}
	options = append(options, appI18n.T(ctx, "SaveAndQuit"))
	actions = append(actions, actionQuit)

	idx, err := r.driver.Select(ctx, SelectConfig{Message: appI18n.T(ctx, "ChooseAction"), Options: options})
	if err != nil {
		return actionQuit, err
	}
	if idx < 0 || idx >= len(actions) {
		return actionQuit, nil
	}
	return actions[idx], nil
}

func (r *Runner) fillStep(ctx context.Context, c *wizard.Controller, sec model.FormSection) error {
	switch sec.ID {
	case schema.ReviewSectionID:
		return r.showReview(ctx, c)
	case schema.FailuresSectionID:
		return r.fillFailures(ctx, c)
	}

	groups := c.Groups()
	if len(groups) == 0 {
		return r.fillFields(ctx, c, sec.Fields)
	}
	for _, g := range groups {
		ok, err := r.driver.Confirm(ctx, ConfirmConfig{
			Message: appI18n.Td(ctx, "FillRange", map[string]any{"Range": g.Range}),
			Default: g.Expanded,
		})
		if err != nil {
			return err
		}
		if ok != g.Expanded {
			c.ToggleGroup(g.Range)
		}
		if !ok {
			continue
		}
		if err := r.fillFields(ctx, c, g.Fields); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) fillFields(ctx context.Context, c *wizard.Controller, fields []model.FieldDescriptor) error {
	for _, f := range fields {
		if err := r.fillField(ctx, c, f); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) fillField(ctx context.Context, c *wizard.Controller, f model.FieldDescriptor) error {
	switch {
	case f.Type == model.FieldHeader:
		return r.driver.Info(ctx, "-- "+f.Label+" --")
	case f.Type == model.FieldReadOnly:
		return r.driver.Info(ctx, fmt.Sprintf("%s: %s", f.Label, c.Answer(f.ID)))
	case f.Type == model.FieldSelect && len(f.Options) > 0:
		idx, err := r.driver.Select(ctx, SelectConfig{
			Message:      f.Label,
			Options:      f.Options,
			DefaultIndex: slices.Index(f.Options, c.Answer(f.ID)),
			PageSize:     10,
		})
		if err != nil {
			return err
		}
		if idx < 0 {
			return nil
		}
		return r.set(ctx, c, f.ID, f.Options[idx])
	}

	cfg := InputConfig{Message: f.Label, Default: c.Answer(f.ID), Help: f.Placeholder}
	if f.Type == model.FieldNumber {
		cfg.Validator = countValidator(ctx)
	}
	v, err := r.driver.Input(ctx, cfg)
	if err != nil {
		return err
	}
	if f.Type == model.FieldNumber {
		return r.set(ctx, c, f.ID, countValue(v))
	}
	return r.set(ctx, c, f.ID, strings.TrimSpace(v))
}

// set records an answer. Rejections the respondent can act on are shown
// rather than aborting the run.
func (r *Runner) set(ctx context.Context, c *wizard.Controller, id string, v any) error {
	err := c.Set(ctx, id, v)
	if err == nil {
		return nil
	}
	if errors.Is(err, wizard.ErrValidation) || errors.Is(err, wizard.ErrPeriodChangeDeclined) {
		return r.driver.Info(ctx, appI18n.Error(ctx, err))
	}
	return err
}

// countValidator accepts blanks, N/A and non-negative whole numbers.
func countValidator(ctx context.Context) func(string) error {
	return func(s string) error {
		if _, ok := parseCount(s); ok {
			return nil
		}
		return errors.New(appI18n.T(ctx, "InvalidCount"))
	}
}

// parseCount reports whether s is an acceptable count entry. Blanks and N/A
// are accepted with a nil value.
func parseCount(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return nil, true
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, false
	}
	return float64(n), true
}

// countValue keeps numbers numeric and passes N/A and blanks through as text.
func countValue(s string) any {
	if n, ok := parseCount(s); ok && n != nil {
		return n
	}
	return strings.TrimSpace(s)
}

func (r *Runner) fillFailures(ctx context.Context, c *wizard.Controller) error {
	switch {
	case c.Strategy() == model.StrategyLibrary:
		if err := r.pickSubjects(ctx, c); err != nil {
			return err
		}
	case c.CanSplit():
		level := c.Level()
		ok, err := r.driver.Confirm(ctx, ConfirmConfig{
			Message: appI18n.Td(ctx, "SplitSubject", map[string]any{"Subject": level.SplitSubject}),
			Default: c.Selection().Split,
		})
		if err != nil {
			return err
		}
		if err := c.SetSplit(ctx, ok); err != nil {
			return err
		}
	}

	for _, s := range c.ActiveSubjects() {
		key := subjects.AnswerKey(s.Name)
		v, err := r.driver.Input(ctx, InputConfig{
			Message:   appI18n.Td(ctx, "FailedCount", map[string]any{"Subject": s.Name}),
			Default:   c.Answer(key),
			Validator: countValidator(ctx),
		})
		if err != nil {
			return err
		}
		if err := r.set(ctx, c, key, countValue(v)); err != nil {
			return err
		}
	}
	return nil
}

// pickSubjects runs the library menu until the respondent is done.
func (r *Runner) pickSubjects(ctx context.Context, c *wizard.Controller) error {
	for {
		sel := c.Selection()
		if err := r.driver.Info(ctx, appI18n.Tp(ctx, "SubjectsSelected", len(c.ActiveSubjects()))); err != nil {
			return err
		}
		options := []string{
			appI18n.T(ctx, "Done"),
			appI18n.T(ctx, "QuickMode"),
			appI18n.T(ctx, "SearchLibrary"),
			appI18n.T(ctx, "AddCustomSubject"),
		}
		if len(sel.Custom) > 0 {
			options = append(options, appI18n.T(ctx, "RemoveCustomSubject"))
		}
		idx, err := r.driver.Select(ctx, SelectConfig{Message: appI18n.T(ctx, "PickSubjects"), Options: options})
		if err != nil {
			return err
		}

		switch idx {
		case 1:
			ok, err := r.driver.Confirm(ctx, ConfirmConfig{Message: options[1], Default: sel.QuickMode})
			if err != nil {
				return err
			}
			if err := c.SetQuickMode(ctx, ok); err != nil {
				return err
			}
		case 2:
			if err := r.searchLibrary(ctx, c); err != nil {
				return err
			}
		case 3:
			name, err := r.driver.Input(ctx, InputConfig{Message: options[3]})
			if err != nil {
				return err
			}
			if _, err := c.AddCustomSubject(ctx, name); err != nil {
				return err
			}
		case 4:
			i, err := r.driver.Select(ctx, SelectConfig{Message: options[4], Options: sel.Custom})
			if err != nil {
				return err
			}
			if i >= 0 && i < len(sel.Custom) {
				if err := c.RemoveCustomSubject(ctx, sel.Custom[i]); err != nil {
					return err
				}
			}
		default:
			return nil
		}
	}
}

func (r *Runner) searchLibrary(ctx context.Context, c *wizard.Controller) error {
	term, err := r.driver.Input(ctx, InputConfig{Message: appI18n.T(ctx, "SearchTerm")})
	if err != nil {
		return err
	}
	matches := c.SearchLibrary(term)
	if len(matches) == 0 {
		return nil
	}
	selected := c.Selection().Library
	var defaults []int
	for i, m := range matches {
		if slices.Contains(selected, m) {
			defaults = append(defaults, i)
		}
	}
	picked, err := r.driver.MultiSelect(ctx, SelectConfig{
		Message:  appI18n.T(ctx, "PickSubjects"),
		Options:  matches,
		Defaults: defaults,
		PageSize: 10,
	})
	if err != nil {
		return err
	}
	for i, m := range matches {
		if slices.Contains(picked, i) != slices.Contains(defaults, i) {
			if err := c.ToggleLibrarySubject(ctx, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) showReview(ctx context.Context, c *wizard.Controller) error {
	for _, sec := range c.Review() {
		if err := r.driver.Info(ctx, fmt.Sprintf("[%d] %s", sec.Index+1, sec.Title)); err != nil {
			return err
		}
		for _, e := range sec.Entries {
			label := e.Label
			if e.Range != "" {
				label = e.Range + " / " + label
			}
			if err := r.driver.Info(ctx, fmt.Sprintf("  %s: %s", label, e.Value)); err != nil {
				return err
			}
		}
		for _, f := range sec.Failures {
			if err := r.driver.Info(ctx, fmt.Sprintf("  %s: %s", f.SubjectName, strconv.FormatFloat(f.FailedCount, 'f', -1, 64))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) summary(ctx context.Context, c *wizard.Controller) error {
	s := c.Summary()
	lines := []string{
		appI18n.T(ctx, "Submitted"),
		appI18n.Td(ctx, "SummaryEnrollment", map[string]any{"Count": s.Enrollment}),
		appI18n.Td(ctx, "SummaryTransfers", map[string]any{"In": s.TransferredIn, "Out": s.TransferredOut}),
	}
	for _, l := range lines {
		if err := r.driver.Info(ctx, l); err != nil {
			return err
		}
	}
	return nil
}
