package i18n

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavelanni/mea/internal/submission"
	"github.com/pavelanni/mea/internal/wizard"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "Next")
	if got != "Next" {
		t.Errorf("T(Next) = %q, want 'Next'", got)
	}

	got = T(ctx, "Submitted")
	if got != "Report submitted successfully." {
		t.Errorf("T(Submitted) = %q, want 'Report submitted successfully.'", got)
	}
}

func TestTranslateFilipino(t *testing.T) {
	ctx := initLang(t, "fil")

	got := T(ctx, "Next")
	if got != "Susunod" {
		t.Errorf("T(Next) = %q, want 'Susunod'", got)
	}

	got = T(ctx, "PeriodChangeDeclined")
	if got != "Hindi pinalitan ang quarter." {
		t.Errorf("T(PeriodChangeDeclined) = %q, want 'Hindi pinalitan ang quarter.'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "SubjectsSelected", 1)
	if got1 != "1 subject selected" {
		t.Errorf("Tp(SubjectsSelected, 1) = %q, want '1 subject selected'", got1)
	}

	got5 := Tp(ctx, "SubjectsSelected", 5)
	if got5 != "5 subjects selected" {
		t.Errorf("Tp(SubjectsSelected, 5) = %q, want '5 subjects selected'", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "StepOf", map[string]any{"Step": 2, "Total": 4})
	if got != "Step 2 of 4" {
		t.Errorf("Td(StepOf) = %q, want 'Step 2 of 4'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	read := func(name string) map[string]any {
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		var m map[string]any
		if err := jsonUnmarshal(data, &m); err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		return m
	}
	en, fil := read("en.json"), read("fil.json")
	for k := range en {
		if _, ok := fil[k]; !ok {
			t.Errorf("fil.json missing %q", k)
		}
	}
	for k := range fil {
		if _, ok := en[k]; !ok {
			t.Errorf("en.json missing %q", k)
		}
	}
}

func TestError(t *testing.T) {
	ctx := initLang(t, "en")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"missing fields",
			&wizard.ValidationError{MessageID: wizard.MsgMissingRequired, Fields: []string{"School Name", "School ID"}},
			"Please fill in: School Name, School ID",
		},
		{
			"no subjects",
			fmt.Errorf("step: %w", &wizard.ValidationError{MessageID: wizard.MsgNoSubjects}),
			"No subjects selected. Please add at least one subject you teach.",
		},
		{"declined", wizard.ErrPeriodChangeDeclined, "The quarter was not changed."},
		{"auth", submission.ErrAuthMissing, "You must be signed in to submit a report."},
		{"other", errors.New("disk full"), "disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Error(ctx, tt.err); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	tests := []struct {
		accept string
		want   string
	}{
		{"", "en"},
		{"fil-PH,fil;q=0.9,en;q=0.8", "fil"},
		{"ru", "en"},
		{"en-US", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			if got := Match(tt.accept); got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.accept, got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(T(r.Context(), "Next")))
	}))

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"default", func(r *http.Request) {}, "Next"},
		{"header", func(r *http.Request) { r.Header.Set("Accept-Language", "fil") }, "Susunod"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: LangCookie, Value: "fil"}) }, "Susunod"},
		{"query wins", func(r *http.Request) {
			r.URL.RawQuery = "lang=en"
			r.Header.Set("Accept-Language", "fil")
		}, "Next"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			tt.setup(r)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}
