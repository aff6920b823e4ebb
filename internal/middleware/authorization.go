package middleware

import (
	"net/http"

	"github.com/fakhrymubarak/api-template/internal/problem"
)

// Policy decides whether a request may proceed.
type Policy func(r *http.Request) bool

// Authorize rejects a request with 403 when any policy denies it. With no
// policies every request passes.
func Authorize(problems *problem.Writer, policies ...Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(policies) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, allow := range policies {
				if !allow(r) {
					problems.Write(w, r, problem.New(http.StatusForbidden))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
