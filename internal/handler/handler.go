package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mea/internal/catalog"
	appI18n "github.com/pavelanni/mea/internal/i18n"
	"github.com/pavelanni/mea/internal/metrics"
	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/store"
	"github.com/pavelanni/mea/internal/submission"
	"github.com/pavelanni/mea/internal/wizard"
)

// Config holds HTTP host settings.
type Config struct {
	BasePath      string
	SecureCookies bool
	// SessionIdle is how long an unused form stays in memory. Zero means
	// DefaultSessionIdle.
	SessionIdle   time.Duration
}

// DefaultSessionIdle is the idle limit for in-memory forms.
const DefaultSessionIdle = 2 * time.Hour

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	drafts  wizard.DraftStore
	catalog *catalog.Catalog
	config  Config
	pingers []Pinger

	mu    sync.Mutex
	forms map[string]*formSession
}

// New creates a new Handler. When drafts is nil the store keeps drafts too.
// Every backend that implements Pinger is checked by /healthz and before
// form routes are served.
func New(s *store.Store, drafts wizard.DraftStore, c *catalog.Catalog, cfg Config) *Handler {
	if drafts == nil {
		drafts = s
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = DefaultSessionIdle
	}
	h := &Handler{
		store:   s,
		drafts:  drafts,
		catalog: c,
		config:  cfg,
		pingers: []Pinger{s},
		forms:   make(map[string]*formSession),
	}
	if p, ok := drafts.(Pinger); ok && drafts != wizard.DraftStore(s) {
		h.pingers = append(h.pingers, p)
	}
	return h
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/me", h.handleMe)
			r.Get("/levels", h.handleLevels)

			r.Route("/forms/{level}", func(r chi.Router) {
				r.Use(h.requireBackend)
				r.Get("/", h.handleFormState)
				r.Post("/answers", h.handleSetAnswer)
				r.Post("/next", h.handleNext)
				r.Post("/previous", h.handlePrevious)
				r.Post("/jump", h.handleJump)
				r.Post("/groups", h.handleToggleGroup)
				r.Get("/review", h.handleReview)
				r.Get("/library", h.handleLibrarySearch)
				r.Post("/subjects/custom", h.handleAddCustom)
				r.Post("/subjects/custom/remove", h.handleRemoveCustom)
				r.Post("/subjects/library", h.handleToggleLibrary)
				r.Post("/subjects/quick", h.handleQuickMode)
				r.Post("/subjects/split", h.handleSplit)
				r.Post("/restart", h.handleRestart)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleDistrict, model.UserRoleAdmin))
				r.Get("/reports", h.handleReports)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/active", h.handleSetUserActive)
				r.Get("/toggles", h.handleGetToggles)
				r.Put("/toggles", h.handleSetToggles)
			})
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) ping(ctx context.Context) error {
	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r.Context()); err != nil {
		slog.Warn("backend unreachable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireBackend refuses form routes while a backend is unreachable.
func (h *Handler) requireBackend(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.ping(r.Context()); err != nil {
			slog.Warn("backend unreachable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: appI18n.T(r.Context(), "BackendUnavailable")})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error   string   `json:"error"`
	Fields  []string `json:"fields,omitempty"`
	Confirm string   `json:"confirm,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wizard.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wizard.ErrPeriodChangeDeclined), errors.Is(err, wizard.ErrSubmitted):
		return http.StatusConflict
	case errors.Is(err, submission.ErrAuthMissing):
		return http.StatusUnauthorized
	case errors.Is(err, wizard.ErrUnknownField), errors.Is(err, wizard.ErrReadOnlyField),
		errors.Is(err, wizard.ErrStepOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrUnknownLevel):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: appI18n.Error(r.Context(), err)}
	var verr *wizard.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	if errors.Is(err, wizard.ErrPeriodChangeDeclined) {
		body.Confirm = appI18n.T(r.Context(), wizard.MsgConfirmPeriodChange)
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		if strings.HasSuffix(r.URL.Path, "/next") {
			body.Error = appI18n.Td(r.Context(), "SubmitFailed", map[string]any{"Error": err.Error()})
		}
	}
	writeJSON(w, status, body)
}
