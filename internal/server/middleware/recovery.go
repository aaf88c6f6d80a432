package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	pkglog "SurgeGate/pkg/log"
)

// Recovery converts handler panics into a generic 500 envelope. It is the
// outermost filter so nothing below it can take the connection down with
// an unhandled panic.
func Recovery(logger *pkglog.LogHelper) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorw("handler panic recovered",
						"path", r.URL.Path,
						"panic", fmt.Sprint(rec),
						"stack", string(debug.Stack()))
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal_error","message":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
