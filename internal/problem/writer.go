package problem

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/logging"
)

// Customizer adjusts a problem before it is written.
type Customizer func(r *http.Request, d *Details)

// MirrorValidationErrors copies the "errors" extension to "validationErrors".
func MirrorValidationErrors(_ *http.Request, d *Details) {
	if errs, ok := d.Extensions[ErrorsKey]; ok {
		d.With(ValidationErrorsKey, errs)
	}
}

// AddTraceID stamps the active trace id, or the correlation id when the
// request is not traced.
func AddTraceID(r *http.Request, d *Details) {
	if _, ok := d.Extensions[TraceIDKey]; ok {
		return
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		d.With(TraceIDKey, sc.TraceID().String())
		return
	}
	if info, ok := logging.RequestInfoFrom(r.Context()); ok && info.CorrelationID != "" {
		d.With(TraceIDKey, info.CorrelationID)
	}
}

// Writer renders problems through a fixed chain of customizers.
type Writer struct {
	customizers []Customizer
}

// NewWriter returns a Writer applying customizers in order.
func NewWriter(customizers ...Customizer) *Writer {
	return &Writer{customizers: customizers}
}

// Write customizes d and sends it with d.Status.
func (pw *Writer) Write(w http.ResponseWriter, r *http.Request, d *Details) {
	if d.Instance == "" {
		d.Instance = r.URL.Path
	}
	for _, c := range pw.customizers {
		c(r, d)
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(d.Status)
	if err := json.NewEncoder(w).Encode(d); err != nil {
		logging.FromContext(r.Context()).Warn("could not encode problem details", zap.Error(err))
	}
}

// WriteError maps err with FromError, logs server faults and writes the result.
func (pw *Writer) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	d := FromError(err)
	if d.Status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("Unhandled error while processing request",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
	}
	pw.Write(w, r, d)
}

// Status returns a handler that answers every request with the default
// problem for status.
func (pw *Writer) Status(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pw.Write(w, r, New(status))
	})
}

// HandlerFunc is an endpoint that reports failures by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts h so returned errors become problem responses.
func (pw *Writer) Handle(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			pw.WriteError(w, r, err)
		}
	})
}
