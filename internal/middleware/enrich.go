package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/logging"
)

// CorrelationIDHeader carries the request correlation id in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

// Enrich assigns the correlation id and stores a request logger derived from
// base in the request context. It must run inside the tracing middleware so
// the span is visible.
func Enrich(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(CorrelationIDHeader)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			w.Header().Set(CorrelationIDHeader, correlationID)

			info := logging.RequestInfo{
				ClientIP:      remoteIP(r),
				CorrelationID: correlationID,
			}
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				info.TraceID = sc.TraceID().String()
				info.SpanID = sc.SpanID().String()
			}

			ctx := logging.WithRequestInfo(r.Context(), info)
			ctx = logging.WithContext(ctx, logging.ForRequest(base, info))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
