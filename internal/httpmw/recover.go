package httpmw

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/greenleafcpa/greenleaf-web/internal/log"
	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// Recover turns a handler panic into a 500 and an error log with the panic's stack.
// API routes get the same JSON envelope the form handlers use, pages get a plain 500.
// onPanic, when set, is called once per recovered panic (metrics).
// http.ErrAbortHandler is re-raised so net/http can abort the connection as intended.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				if errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				logger.With(
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				).Error(r.Context(), xerrors.WithStack(err), "httpserver panic recovered")

				if onPanic != nil {
					onPanic()
				}

				if strings.HasPrefix(r.URL.Path, "/api/") {
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"success":false,"error":"internal server error"}`))
					return
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
