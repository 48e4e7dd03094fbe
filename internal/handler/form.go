package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/mea/internal/i18n"
	"github.com/pavelanni/mea/internal/metrics"
	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/submission"
	"github.com/pavelanni/mea/internal/wizard"
)

// formSession serializes requests against one respondent's controller.
type formSession struct {
	mu   sync.Mutex
	ctrl *wizard.Controller

	lastUsed time.Time // guarded by Handler.mu
}

type confirmCtxKey struct{}

func withConfirm(ctx context.Context, ok bool) context.Context {
	return context.WithValue(ctx, confirmCtxKey{}, ok)
}

// confirmFromRequest approves a destructive change only when the client
// resent the request with "confirm": true.
func confirmFromRequest(ctx context.Context, c wizard.Confirmation) bool {
	ok, _ := ctx.Value(confirmCtxKey{}).(bool)
	if !ok {
		slog.Debug("confirmation required", "message", c.MessageID, "from", c.From, "to", c.To)
	}
	return ok
}

func currentUser(ctx context.Context) (*model.User, error) {
	return model.UserFromContext(ctx), nil
}

// session returns the respondent's controller for the level in the URL,
// creating it and restoring the draft on first use. The controller is built
// outside h.mu so draft I/O for one respondent does not stall the others.
func (h *Handler) session(r *http.Request) (*formSession, error) {
	user := model.UserFromContext(r.Context())
	levelID := chi.URLParam(r, "level")
	key := wizard.DraftKey(user.Username, levelID)

	if fs := h.lookupSession(key); fs != nil {
		return fs, nil
	}

	level, err := h.catalog.Level(levelID)
	if err != nil {
		return nil, err
	}
	toggles, err := h.store.Toggles(r.Context())
	if err != nil {
		return nil, err
	}
	ctrl, err := wizard.New(r.Context(), wizard.Config{
		Catalog:     h.catalog,
		Level:       level,
		Respondent:  user.Username,
		Toggles:     toggles,
		Drafts:      h.drafts,
		Submissions: h.store,
		Identity:    wizard.IdentityFunc(currentUser),
		Confirm:     confirmFromRequest,
		Metrics:     metrics.Wizard{},
	})
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	if fs, ok := h.forms[key]; ok {
		fs.lastUsed = now
		return fs, nil
	}
	h.evictIdleLocked(now)
	fs := &formSession{ctrl: ctrl, lastUsed: now}
	h.forms[key] = fs
	return fs, nil
}

func (h *Handler) lookupSession(key string) *formSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	fs, ok := h.forms[key]
	if !ok {
		return nil
	}
	fs.lastUsed = time.Now()
	return fs
}

// evictIdleLocked forgets sessions unused for longer than the idle limit.
// Their answers live on in the draft store.
func (h *Handler) evictIdleLocked(now time.Time) {
	for key, fs := range h.forms {
		if now.Sub(fs.lastUsed) > h.config.SessionIdle {
			delete(h.forms, key)
		}
	}
}

func (h *Handler) dropSession(r *http.Request) {
	user := model.UserFromContext(r.Context())
	h.mu.Lock()
	delete(h.forms, wizard.DraftKey(user.Username, chi.URLParam(r, "level")))
	h.mu.Unlock()
}

// dropUserSessions forgets every open form of username.
func (h *Handler) dropUserSessions(username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.catalog.Levels {
		delete(h.forms, wizard.DraftKey(username, l.ID))
	}
}

// openSessions reports how many forms are held in memory.
func (h *Handler) openSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.forms)
}

type groupState struct {
	Range    string   `json:"range"`
	Fields   []string `json:"fields"`
	Expanded bool     `json:"expanded"`
}

type formState struct {
	Level      string                 `json:"level"`
	Label      string                 `json:"label"`
	Period     string                 `json:"period"`
	Ranges     []string               `json:"ranges"`
	Step       int                    `json:"step"`
	Total      int                    `json:"total"`
	StepLabel  string                 `json:"step_label"`
	IsFirst    bool                   `json:"is_first"`
	IsLast     bool                   `json:"is_last"`
	Sections   []sectionHeader        `json:"sections"`
	Current    model.FormSection      `json:"current"`
	Groups     []groupState           `json:"groups,omitempty"`
	Answers    model.Answers          `json:"answers"`
	Strategy   model.SubjectStrategy  `json:"strategy"`
	Subjects   []model.SubjectRecord  `json:"subjects"`
	Selection  model.SubjectSelection `json:"selection"`
	CanSplit   bool                   `json:"can_split"`
	Submitted  bool                   `json:"submitted"`
	Submission string                 `json:"submission_id,omitempty"`
	Summary    *submission.Summary    `json:"summary,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

type sectionHeader struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (h *Handler) state(ctx context.Context, c *wizard.Controller) formState {
	sections := c.Sections()
	headers := make([]sectionHeader, len(sections))
	for i, s := range sections {
		headers[i] = sectionHeader{ID: s.ID, Title: s.Title}
	}
	st := formState{
		Level:     c.Level().ID,
		Label:     c.Level().Label,
		Period:    c.Period(),
		Ranges:    c.Ranges(),
		Step:      c.Step(),
		Total:     len(sections),
		StepLabel: appI18n.Td(ctx, "StepOf", map[string]any{"Step": c.Step() + 1, "Total": len(sections)}),
		IsFirst:   c.IsFirst(),
		IsLast:    c.IsLast(),
		Sections:  headers,
		Current:   c.Current(),
		Answers:   c.Answers(),
		Strategy:  c.Strategy(),
		Subjects:  c.ActiveSubjects(),
		Selection: c.Selection(),
		CanSplit:  c.CanSplit(),
	}
	for _, g := range c.Groups() {
		ids := make([]string, len(g.Fields))
		for i, f := range g.Fields {
			ids[i] = f.ID
		}
		st.Groups = append(st.Groups, groupState{Range: g.Range, Fields: ids, Expanded: g.Expanded})
	}
	if rec, ok := c.Submitted(); ok {
		sum := c.Summary()
		st.Submitted = true
		st.Submission = rec.ID
		st.Summary = &sum
		st.Message = appI18n.T(ctx, "Submitted")
	}
	return st
}

// withSession locks the form session for the duration of fn and replies with
// the resulting form state, or the mapped error.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, c *wizard.Controller) error) {
	fs, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fn != nil {
		if err := fn(r.Context(), fs.ctrl); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.state(r.Context(), fs.ctrl))
}

func (h *Handler) handleFormState(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, nil)
}

type answerRequest struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Confirm bool   `json:"confirm"`
}

func (h *Handler) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	r = r.WithContext(withConfirm(r.Context(), req.Confirm))
	h.withSession(w, r, func(ctx context.Context, c *wizard.Controller) error {
		return c.Set(ctx, req.Field, req.Value)
	})
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(ctx context.Context, c *wizard.Controller) error {
		return c.Next(ctx)
	})
}

func (h *Handler) handlePrevious(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(ctx context.Context, c *wizard.Controller) error {
		c.Previous()
		return nil
	})
}

func (h *Handler) handleJump(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step int `json:"step"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withSession(w, r, func(ctx context.Context, c *wizard.Controller) error {
		return c.JumpTo(req.Step)
	})
}

func (h *Handler) handleToggleGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Range string `json:"range"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withSession(w, r, func(ctx context.Context, c *wizard.Controller) error {
		c.ToggleGroup(req.Range)
		return nil
	})
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	fs, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	writeJSON(w, http.StatusOK, fs.ctrl.Review())
}

func (h *Handler) handleLibrarySearch(w http.ResponseWriter, r *http.Request) {
	fs, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	matches := fs.ctrl.SearchLibrary(r.URL.Query().Get("q"))
	if matches == nil {
		matches = []string{}
	}
	writeJSON(w, http.StatusOK, matches)
}

type subjectRequest struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (h *Handler) subjectOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, c *wizard.Controller, req subjectRequest) error) {
	var req subjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.withSession(w, r, func(ctx context.Context, c *wizard.Controller) error {
		return op(ctx, c, req)
	})
}

func (h *Handler) handleAddCustom(w http.ResponseWriter, r *http.Request) {
	h.subjectOp(w, r, func(ctx context.Context, c *wizard.Controller, req subjectRequest) error {
		_, err := c.AddCustomSubject(ctx, req.Name)
		return err
	})
}

func (h *Handler) handleRemoveCustom(w http.ResponseWriter, r *http.Request) {
	h.subjectOp(w, r, func(ctx context.Context, c *wizard.Controller, req subjectRequest) error {
		return c.RemoveCustomSubject(ctx, req.Name)
	})
}

func (h *Handler) handleToggleLibrary(w http.ResponseWriter, r *http.Request) {
	h.subjectOp(w, r, func(ctx context.Context, c *wizard.Controller, req subjectRequest) error {
		return c.ToggleLibrarySubject(ctx, req.Name)
	})
}

func (h *Handler) handleQuickMode(w http.ResponseWriter, r *http.Request) {
	h.subjectOp(w, r, func(ctx context.Context, c *wizard.Controller, req subjectRequest) error {
		return c.SetQuickMode(ctx, req.Enabled)
	})
}

func (h *Handler) handleSplit(w http.ResponseWriter, r *http.Request) {
	h.subjectOp(w, r, func(ctx context.Context, c *wizard.Controller, req subjectRequest) error {
		return c.SetSplit(ctx, req.Enabled)
	})
}

// handleRestart forgets the in-memory session so the next request starts a
// fresh form from the stored draft, if any.
func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	h.dropSession(r)
	h.withSession(w, r, nil)
}

func (h *Handler) handleLevels(w http.ResponseWriter, r *http.Request) {
	type levelView struct {
		ID       string                `json:"id"`
		Label    string                `json:"label"`
		Strategy model.SubjectStrategy `json:"strategy"`
	}
	out := make([]levelView, len(h.catalog.Levels))
	for i, l := range h.catalog.Levels {
		out[i] = levelView{ID: l.ID, Label: l.Label, Strategy: l.SubjectStrategy}
	}
	writeJSON(w, http.StatusOK, out)
}
