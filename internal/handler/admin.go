package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/schema"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	out := make([]userView, len(users))
	for i, u := range users {
		out[i] = viewUser(u)
	}
	writeJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Password    string         `json:"password"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "username and password required"})
		return
	}
	switch req.Role {
	case "":
		req.Role = model.UserRoleRespondent
	case model.UserRoleRespondent, model.UserRoleDistrict, model.UserRoleAdmin:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown role " + string(req.Role)})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	u := model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	id, err := h.store.CreateUser(r.Context(), u)
	if err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: "failed to create user: " + err.Error()})
		return
	}
	u.ID = id
	writeJSON(w, http.StatusCreated, viewUser(u))
}

func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid user ID"})
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.store.SetUserActive(r.Context(), id, req.Active); err != nil {
		slog.Error("failed to set user active", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type togglesView struct {
	SubjectFailures bool `json:"subject_failures"`
}

func (h *Handler) handleGetToggles(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Toggles(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, togglesView{SubjectFailures: t.SubjectFailures})
}

// handleSetToggles stores the switches. Open forms keep the steps they were
// resolved with; new sessions pick up the change.
func (h *Handler) handleSetToggles(w http.ResponseWriter, r *http.Request) {
	var req togglesView
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.store.SetToggles(r.Context(), schema.Toggles{SubjectFailures: req.SubjectFailures}); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	slog.Info("feature toggles updated", "subject_failures", req.SubjectFailures)
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	school := r.URL.Query().Get("school")
	period := r.URL.Query().Get("period")
	if school == "" || period == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "school and period are required"})
		return
	}
	exp, err := h.store.ExportReports(r.Context(), school, period)
	if err != nil {
		slog.Error("failed to export reports", "school", school, "period", period, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	h.catalog.LabelReports(&exp)
	writeJSON(w, http.StatusOK, exp)
}
