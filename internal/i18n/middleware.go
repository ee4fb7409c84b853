package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware extracts the Accept-Language header and injects a printer into the context
func Middleware(next http.Handler) http.Handler {
	return MiddlewareWithDefault(DefaultLang)(next)
}

// MiddlewareWithDefault is Middleware with a configured fallback language
// for requests that send no Accept-Language header.
func MiddlewareWithDefault(fallback language.Tag) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := fallback
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				tag = MatchLanguage(accept)
			}
			ctx := WithPrinter(r.Context(), NewPrinter(tag))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
