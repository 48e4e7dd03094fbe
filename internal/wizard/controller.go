// Package wizard drives one respondent through a level's form: step
// navigation, answer editing, subject selection, draft persistence and the
// final submission.
//
// A Controller is not safe for concurrent use; hosts serialize access.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/mea/internal/catalog"
	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/schema"
	"github.com/pavelanni/mea/internal/subjects"
	"github.com/pavelanni/mea/internal/submission"
)

// DraftKeyPrefix prefixes every draft key.
const DraftKeyPrefix = "mea_draft"

// DraftKey scopes a draft to one respondent and level.
func DraftKey(respondent, level string) string {
	return DraftKeyPrefix + ":" + respondent + ":" + level
}

// Config wires a Controller to its level and ports.
type Config struct {
	Catalog *catalog.Catalog
	Level   model.LevelConfig
	// Respondent scopes the draft key, usually the signed-in username.
	Respondent  string
	Toggles     schema.Toggles
	Drafts      DraftStore
	Submissions SubmissionStore
	Identity    Identity
	Confirm     ConfirmFunc
	Logger      *slog.Logger
	Metrics     Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller is the state machine of one form session.
type Controller struct {
	cfg      Config
	log      *slog.Logger
	metrics  Metrics
	resolver *schema.Resolver

	sections  []model.FormSection
	step      int
	answers   model.Answers
	subjects  *subjects.Engine
	expanded  map[string]bool
	submitted *model.SubmissionRecord
}

// New creates a controller and restores the respondent's draft if one
// exists. A draft that cannot be decoded is discarded.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("wizard: catalog is required")
	}
	if cfg.Level.ID == "" {
		return nil, errors.New("wizard: level is required")
	}
	if cfg.Confirm == nil {
		return nil, errors.New("wizard: confirmation callback is required")
	}
	if cfg.Submissions == nil {
		return nil, errors.New("wizard: submission store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Controller{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		resolver: schema.NewResolver(cfg.Catalog),
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("level", cfg.Level.ID, "respondent", cfg.Respondent)
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}

	snap, err := c.loadDraft(ctx)
	if err != nil {
		return nil, err
	}
	c.answers = snap.Answers
	if c.answers == nil {
		c.answers = model.Answers{}
	}
	c.subjects = subjects.New(cfg.Level, snap.Selection)
	c.applyDefaults()
	c.pruneStaleRanges()
	c.refresh()
	return c, nil
}

func (c *Controller) loadDraft(ctx context.Context) (model.DraftSnapshot, error) {
	if c.cfg.Drafts == nil {
		return model.DraftSnapshot{}, nil
	}
	key := c.draftKey()
	blob, err := c.cfg.Drafts.LoadDraft(ctx, key)
	if errors.Is(err, ErrDraftNotFound) {
		return model.DraftSnapshot{}, nil
	}
	if err != nil {
		return model.DraftSnapshot{}, fmt.Errorf("load draft: %w", err)
	}
	snap, err := decodeDraft(blob)
	if err == nil && snap.Level != "" && snap.Level != c.cfg.Level.ID {
		err = fmt.Errorf("draft belongs to level %q", snap.Level)
	}
	if err != nil {
		c.log.Warn("discarding unreadable draft", "key", key, "error", err)
		c.metrics.DraftDiscarded()
		if derr := c.cfg.Drafts.DeleteDraft(ctx, key); derr != nil {
			c.log.Error("failed to delete draft", "key", key, "error", derr)
		}
		return model.DraftSnapshot{}, nil
	}
	c.log.Debug("restored draft", "key", key, "answers", len(snap.Answers))
	return snap, nil
}

func decodeDraft(blob []byte) (model.DraftSnapshot, error) {
	var snap model.DraftSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return model.DraftSnapshot{}, err
	}
	for k, v := range snap.Answers {
		switch v.(type) {
		case string, float64:
		default:
			return model.DraftSnapshot{}, fmt.Errorf("answer %q has unsupported type %T", k, v)
		}
	}
	return snap, nil
}

// applyDefaults fills district, period and school year when absent.
func (c *Controller) applyDefaults() {
	defaults := map[string]string{
		schema.FieldDistrict:   c.cfg.Catalog.District,
		schema.FieldPeriod:     c.cfg.Catalog.DefaultPeriod,
		schema.FieldSchoolYear: c.cfg.Catalog.DefaultSchoolYear(),
	}
	for k, v := range defaults {
		if c.answers.Empty(k) && v != "" {
			c.answers[k] = v
		}
	}
	if len(c.cfg.Catalog.Ranges(c.Period())) == 0 {
		c.answers[schema.FieldPeriod] = c.cfg.Catalog.DefaultPeriod
	}
}

// pruneStaleRanges drops movement answers whose range is not part of the
// current period.
func (c *Controller) pruneStaleRanges() {
	current := c.cfg.Catalog.Ranges(c.Period())
	var stale []string
	for _, p := range c.cfg.Catalog.PeriodIDs() {
		for _, rg := range c.cfg.Catalog.Ranges(p) {
			if !slices.Contains(current, rg) {
				stale = append(stale, rg)
			}
		}
	}
	c.deleteRangeKeys(stale)
}

func (c *Controller) deleteRangeKeys(ranges []string) int {
	if len(ranges) == 0 {
		return 0
	}
	n := 0
	for k := range c.answers {
		if schema.HasRangeSuffix(k, ranges) {
			delete(c.answers, k)
			n++
		}
	}
	return n
}

// refresh re-resolves the steps and expands every range group.
func (c *Controller) refresh() {
	c.sections = c.resolver.Resolve(c.cfg.Level, c.Period(), c.cfg.Toggles)
	c.expanded = make(map[string]bool)
	for _, rg := range c.cfg.Catalog.Ranges(c.Period()) {
		c.expanded[rg] = true
	}
	if c.step >= len(c.sections) {
		c.step = len(c.sections) - 1
	}
}

func (c *Controller) draftKey() string {
	return DraftKey(c.cfg.Respondent, c.cfg.Level.ID)
}

// save writes the draft through to the store. Failures are logged; editing
// continues regardless.
func (c *Controller) save(ctx context.Context) {
	if c.cfg.Drafts == nil || c.submitted != nil {
		return
	}
	blob, err := json.Marshal(model.DraftSnapshot{
		Level:     c.cfg.Level.ID,
		Answers:   c.answers,
		Selection: c.subjects.Selection(),
		SavedAt:   c.cfg.Now().UTC(),
	})
	if err == nil {
		err = c.cfg.Drafts.SaveDraft(ctx, c.draftKey(), blob)
	}
	c.metrics.DraftSaved(err)
	if err != nil {
		c.log.Error("failed to save draft", "error", err)
	}
}

// Level returns the level configuration.
func (c *Controller) Level() model.LevelConfig { return c.cfg.Level }

// Period returns the selected reporting period.
func (c *Controller) Period() string {
	return c.answers.String(schema.FieldPeriod)
}

// Ranges returns the ranges of the selected period.
func (c *Controller) Ranges() []string {
	return c.cfg.Catalog.Ranges(c.Period())
}

// Sections returns a copy of the resolved steps.
func (c *Controller) Sections() []model.FormSection {
	out := make([]model.FormSection, len(c.sections))
	for i, s := range c.sections {
		out[i] = s.Clone()
	}
	return out
}

// Step returns the current step index.
func (c *Controller) Step() int { return c.step }

// Current returns the current step.
func (c *Controller) Current() model.FormSection {
	return c.sections[c.step].Clone()
}

// IsFirst reports whether the current step is the first.
func (c *Controller) IsFirst() bool { return c.step == 0 }

// IsLast reports whether the current step is the final one.
func (c *Controller) IsLast() bool { return c.step == len(c.sections)-1 }

// Answers returns a copy of the answer map.
func (c *Controller) Answers() model.Answers { return c.answers.Clone() }

// Answer returns a single answer formatted for display.
func (c *Controller) Answer(id string) string { return c.answers.String(id) }

// Submitted returns the stored record once the report was submitted.
func (c *Controller) Submitted() (model.SubmissionRecord, bool) {
	if c.submitted == nil {
		return model.SubmissionRecord{}, false
	}
	return *c.submitted, true
}

// Set records an answer. Changing the period asks for confirmation and
// clears every movement answer of the previous period.
func (c *Controller) Set(ctx context.Context, id string, value any) error {
	if c.submitted != nil {
		return ErrSubmitted
	}
	v, err := model.NormalizeValue(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, id, err)
	}

	if id == schema.FieldPeriod {
		return c.changePeriod(ctx, model.Answers{id: v}.String(id))
	}

	if name, ok := strings.CutPrefix(id, subjects.AnswerPrefix); ok {
		if !c.subjects.IsActive(name) {
			return fmt.Errorf("%w: %s", ErrUnknownField, id)
		}
	} else {
		f, ok := schema.FieldByID(c.sections, id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, id)
		}
		if !f.Editable() {
			return fmt.Errorf("%w: %s", ErrReadOnlyField, id)
		}
	}

	c.answers[id] = v
	c.save(ctx)
	return nil
}

func (c *Controller) changePeriod(ctx context.Context, next string) error {
	prev := c.Period()
	if next == prev {
		return nil
	}
	if len(c.cfg.Catalog.Ranges(next)) == 0 {
		return fmt.Errorf("%w: unknown period %q", ErrValidation, next)
	}
	ok := c.cfg.Confirm(ctx, Confirmation{
		MessageID: MsgConfirmPeriodChange,
		Text:      "Changing the quarter will reset Monthly Learners' Movement data. Continue?",
		From:      prev,
		To:        next,
	})
	if !ok {
		return ErrPeriodChangeDeclined
	}
	removed := c.deleteRangeKeys(c.cfg.Catalog.Ranges(prev))
	c.answers[schema.FieldPeriod] = next
	c.refresh()
	c.log.Info("period changed", "from", prev, "to", next, "cleared", removed)
	c.save(ctx)
	return nil
}

// Next validates the current step and advances. On the final step it
// submits the report instead.
func (c *Controller) Next(ctx context.Context) error {
	if c.submitted != nil {
		return ErrSubmitted
	}
	if err := c.validateStep(); err != nil {
		return err
	}
	if !c.IsLast() {
		c.step++
		return nil
	}
	return c.submit(ctx)
}

func (c *Controller) validateStep() error {
	sec := c.sections[c.step]
	if c.step == 0 {
		var missing []string
		for _, f := range sec.Fields {
			if f.Required && c.answers.Empty(f.ID) {
				missing = append(missing, f.Label)
			}
		}
		if len(missing) > 0 {
			return &ValidationError{MessageID: MsgMissingRequired, Fields: missing}
		}
	}
	if sec.ID == schema.FailuresSectionID &&
		c.subjects.Strategy() == model.StrategyLibrary &&
		len(c.subjects.Active()) == 0 {
		return &ValidationError{MessageID: MsgNoSubjects}
	}
	return nil
}

// Previous moves back one step; it is a no-op on the first step.
func (c *Controller) Previous() {
	if c.submitted != nil || c.step == 0 {
		return
	}
	c.step--
}

// JumpTo moves to step i without validation.
func (c *Controller) JumpTo(i int) error {
	if c.submitted != nil {
		return ErrSubmitted
	}
	if i < 0 || i >= len(c.sections) {
		return fmt.Errorf("%w: %d", ErrStepOutOfRange, i)
	}
	c.step = i
	return nil
}

func (c *Controller) submit(ctx context.Context) error {
	var user *model.User
	if c.cfg.Identity != nil {
		u, err := c.cfg.Identity.CurrentUser(ctx)
		if err != nil {
			c.metrics.Submitted(c.cfg.Level.ID, err)
			return fmt.Errorf("identify respondent: %w", err)
		}
		user = u
	}
	rec, err := submission.Assemble(submission.Input{
		Level:      c.cfg.Level,
		Respondent: user,
		Answers:    c.answers,
		Selection:  c.subjects.Selection(),
		Ranges:     c.Ranges(),
		Now:        c.cfg.Now(),
	})
	if err != nil {
		c.metrics.Submitted(c.cfg.Level.ID, err)
		return err
	}
	if err := c.cfg.Submissions.InsertSubmission(ctx, rec); err != nil {
		c.metrics.Submitted(c.cfg.Level.ID, err)
		c.log.Error("submission failed", "error", err)
		return fmt.Errorf("submit report: %w", err)
	}
	c.metrics.Submitted(c.cfg.Level.ID, nil)
	c.submitted = &rec
	c.log.Info("report submitted", "id", rec.ID, "period", rec.Period)

	if c.cfg.Drafts != nil {
		if err := c.cfg.Drafts.DeleteDraft(ctx, c.draftKey()); err != nil {
			c.log.Error("failed to delete draft", "error", err)
		}
	}
	return nil
}

// Summary returns the headline movement figures of the current answers.
func (c *Controller) Summary() submission.Summary {
	return submission.Summarize(submission.Movement(c.cfg.Level, c.answers, c.Ranges()))
}
