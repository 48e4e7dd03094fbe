package i18n

import "net/http"

// LangCookie remembers an explicit language choice.
const LangCookie = "mea_lang"

// Middleware injects a localizer into every request context. The language is
// taken from the lang query parameter, then the LangCookie cookie, then
// Accept-Language; fallback is the default language.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var prefs []string
		if q := r.URL.Query().Get("lang"); q != "" {
			prefs = append(prefs, q)
		}
		if c, err := r.Cookie(LangCookie); err == nil && c.Value != "" {
			prefs = append(prefs, c.Value)
		}
		prefs = append(prefs, Match(r.Header.Get("Accept-Language")))
		ctx := WithLocalizer(r.Context(), NewLocalizer(prefs...))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
