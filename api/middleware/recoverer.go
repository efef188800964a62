package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/angelmondragon/library-catalog/api/responses"
	pkgerrors "github.com/angelmondragon/library-catalog/pkg/errors"
	"github.com/angelmondragon/library-catalog/pkg/logger"
)

// Recoverer turns a handler panic into a 500 error envelope. http.ErrAbortHandler
// is re-raised so net/http can abort the connection quietly.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				cause := fmt.Errorf("handler panic: %v", rec)
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"method": r.Method,
						"path":   r.URL.Path,
						"stack":  string(debug.Stack()),
					})
					logg.Error(ctx, "request.panic", cause)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, cause, "internal error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
