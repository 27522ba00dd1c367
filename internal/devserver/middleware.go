package devserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// middleware wraps a handler.
type middleware func(http.Handler) http.Handler

// recoverPanics answers a panicking handler with a JSON 500. The panic itself
// is reported by the request logger further out.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeJSONError(r.Context(), w, "server_error", "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one ECS-shaped line per request. Credentials and bodies
// stay out of the log: only Content-Type goes in and Location comes back.
func requestLogger(logger *slog.Logger) middleware {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema:             httplog.SchemaECS.Concise(true),
		LogRequestHeaders:  []string{"Content-Type"},
		LogResponseHeaders: []string{"Location"},
		RecoverPanics:      false,
	})
}

// chain wraps h so that mws[0] sees the request first.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
