package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleRespondent is school staff filling in reports.
	UserRoleRespondent UserRole = "respondent"
	// UserRoleDistrict is district staff reading reports.
	UserRoleDistrict UserRole = "district"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

// SubjectSource tags where a reported subject came from.
type SubjectSource string

const (
	SourceCurriculum SubjectSource = "curriculum"
	SourceLibrary    SubjectSource = "library"
	SourceCustom     SubjectSource = "custom"
)

// SubjectRecord is one subject in the active reporting list.
type SubjectRecord struct {
	Name   string        `json:"name"`
	Source SubjectSource `json:"source"`
}

// SubjectSelection is the auxiliary subject state saved with drafts and
// submissions.
type SubjectSelection struct {
	Custom    []string `json:"customSubjects"`
	Library   []string `json:"librarySelection"`
	Split     bool     `json:"split"`
	QuickMode bool     `json:"quickMode"`
}

// Clone returns a deep copy.
func (s SubjectSelection) Clone() SubjectSelection {
	out := s
	out.Custom = append([]string(nil), s.Custom...)
	out.Library = append([]string(nil), s.Library...)
	return out
}

// DraftSnapshot is the serialized in-progress state of one form.
type DraftSnapshot struct {
	Level     string           `json:"level"`
	Answers   Answers          `json:"answers"`
	Selection SubjectSelection `json:"selection"`
	SavedAt   time.Time        `json:"savedAt"`
}

// SubjectFailure is one row of the failures-by-subject array.
type SubjectFailure struct {
	SubjectName   string        `json:"subjectName"`
	SubjectSource SubjectSource `json:"subjectSource"`
	FailedCount   float64       `json:"failedCount"`
}

// MovementRow is one range of the learners' movement table.
type MovementRow struct {
	Range          string  `json:"range"`
	Enrollment     float64 `json:"enrollment"`
	TransferredIn  float64 `json:"transferred_in"`
	TransferredOut float64 `json:"transferred_out"`
}

// SubmissionContent is the normalized payload stored with a submission.
type SubmissionContent struct {
	Answers           Answers          `json:"answers"`
	FailuresBySubject []SubjectFailure `json:"failuresBySubject"`
	Movement          []MovementRow    `json:"monthlyLearnersMovement"`
	Meta              SubjectSelection `json:"_meta"`
}

// SubmissionRecord is the finalized report handed to persistence.
type SubmissionRecord struct {
	ID           string            `json:"id"`
	RespondentID int64             `json:"respondent_id"`
	Level        string            `json:"level"`
	SchoolYear   string            `json:"school_year"`
	Period       string            `json:"period"`
	SchoolName   string            `json:"school_name"`
	District     string            `json:"district"`
	Content      SubmissionContent `json:"content"`
	CreatedAt    time.Time         `json:"created_at"`
}
