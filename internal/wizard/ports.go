package wizard

import (
	"context"
	"errors"
	"strings"

	"github.com/pavelanni/mea/internal/model"
)

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrPeriodChangeDeclined means the respondent kept the previous period.
	ErrPeriodChangeDeclined = errors.New("period change declined")
	// ErrSubmitted is returned for edits after the report was submitted.
	ErrSubmitted = errors.New("report already submitted")
	// ErrDraftNotFound is returned by DraftStore.LoadDraft for missing keys.
	ErrDraftNotFound = errors.New("draft not found")
	// ErrUnknownField is returned when setting a key that is not on the form.
	ErrUnknownField = errors.New("unknown field")
	// ErrReadOnlyField is returned when setting a header or read-only field.
	ErrReadOnlyField = errors.New("field is read-only")
	// ErrStepOutOfRange is returned by JumpTo for invalid positions.
	ErrStepOutOfRange = errors.New("step out of range")
)

// Message ids for user-facing texts; hosts translate them.
const (
	MsgMissingRequired     = "MissingRequired"
	MsgNoSubjects          = "NoSubjects"
	MsgConfirmPeriodChange = "ConfirmPeriodChange"
)

// ValidationError blocks navigation and names what is missing.
type ValidationError struct {
	MessageID string
	// Fields holds labels of missing required fields.
	Fields []string
}

func (e *ValidationError) Error() string {
	switch e.MessageID {
	case MsgMissingRequired:
		return "Please fill in: " + strings.Join(e.Fields, ", ")
	case MsgNoSubjects:
		return "No subjects selected. Please add at least one subject you teach."
	default:
		return e.MessageID
	}
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DraftStore persists in-progress drafts by key.
type DraftStore interface {
	SaveDraft(ctx context.Context, key string, blob []byte) error
	// LoadDraft returns ErrDraftNotFound when no draft exists.
	LoadDraft(ctx context.Context, key string) ([]byte, error)
	DeleteDraft(ctx context.Context, key string) error
}

// SubmissionStore persists finalized reports.
type SubmissionStore interface {
	InsertSubmission(ctx context.Context, rec model.SubmissionRecord) error
}

// Identity resolves the respondent at submission time. A nil user with a nil
// error means nobody is signed in.
type Identity interface {
	CurrentUser(ctx context.Context) (*model.User, error)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(ctx context.Context) (*model.User, error)

// CurrentUser calls f.
func (f IdentityFunc) CurrentUser(ctx context.Context) (*model.User, error) { return f(ctx) }

// Confirmation describes a destructive change awaiting approval.
type Confirmation struct {
	MessageID string
	Text      string
	From      string
	To        string
}

// ConfirmFunc asks the respondent to approve a destructive change.
type ConfirmFunc func(ctx context.Context, c Confirmation) bool

// AlwaysConfirm approves every change.
func AlwaysConfirm(context.Context, Confirmation) bool { return true }

// Metrics receives engine events. All methods must be safe to call with a
// nil error.
type Metrics interface {
	DraftSaved(err error)
	DraftDiscarded()
	Submitted(level string, err error)
}

type nopMetrics struct{}

func (nopMetrics) DraftSaved(error) {}
func (nopMetrics) DraftDiscarded() {}
func (nopMetrics) Submitted(string, error) {}
