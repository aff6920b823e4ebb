package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/felixge/httpsnoop"
	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/logging"
	"github.com/fakhrymubarak/api-template/internal/problem"
)

// Recover turns a panic into a 500 problem. The stack goes to the log only.
// If the handler already started the response nothing more is written.
func Recover(problems *problem.Writer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			written := false
			tracked := httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						written = true
						next(code)
					}
				},
				Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
					return func(b []byte) (int, error) {
						written = true
						return next(b)
					}
				},
			})

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.FromContext(r.Context()).Error("Unhandled panic while processing request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("stack", debug.Stack()),
				)
				if !written {
					problems.Write(w, r, problem.New(http.StatusInternalServerError))
				}
			}()

			next.ServeHTTP(tracked, r)
		})
	}
}
