package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/observability"
)

// Recovery converts handler panics into a 500 response. The stack goes
// to the log, never to the client.
func Recovery(logger observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						observability.String("path", r.URL.Path),
						observability.String("method", r.Method),
						observability.Any("error", rec),
						observability.String("stack", string(debug.Stack())),
					)

					auth.WriteJSONError(w, http.StatusInternalServerError,
						"internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
