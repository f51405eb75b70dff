package httpmw

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/modpack-server/internal/log"
	"github.com/keithlinneman/modpack-server/internal/xerrors"
)

// Recover turns a handler panic into a 500 and an error log with stack.
// onPanic, if set, runs after logging (e.g. to bump a counter).
// http.ErrAbortHandler is re-panicked so net/http can abort the response.
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
				if e, ok := rec.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(rec)
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.WithStack(e)
				} else {
					err = xerrors.Newf("panic: %v", rec)
				}

				ctx := r.Context()
				L := log.FromContext(ctx)
				if L == log.Nop() {
					L = logger
				}
				L.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"panic.type", fmt.Sprintf("%T", rec),
				).Error(ctx, err, "httpserver panic recovered")

				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
