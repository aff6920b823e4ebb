// Package problem renders RFC 7807 problem details responses.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ContentType is the media type of every problem response.
const ContentType = "application/problem+json"

const (
	// ErrorsKey holds validation failures.
	ErrorsKey = "errors"
	// ValidationErrorsKey mirrors ErrorsKey for older clients.
	ValidationErrorsKey = "validationErrors"
	// TraceIDKey correlates the response with logs and traces.
	TraceIDKey = "traceId"
)

// InternalErrorTitle is shown for any unexpected fault.
const InternalErrorTitle = "An error occurred while processing your request."

const validationTitle = "One or more validation errors occurred."

var typeURIs = map[int]string{
	http.StatusBadRequest:          "https://tools.ietf.org/html/rfc9110#section-15.5.1",
	http.StatusUnauthorized:        "https://tools.ietf.org/html/rfc9110#section-15.5.2",
	http.StatusForbidden:           "https://tools.ietf.org/html/rfc9110#section-15.5.4",
	http.StatusNotFound:            "https://tools.ietf.org/html/rfc9110#section-15.5.5",
	http.StatusMethodNotAllowed:    "https://tools.ietf.org/html/rfc9110#section-15.5.6",
	http.StatusTooManyRequests:     "https://tools.ietf.org/html/rfc6585#section-4",
	http.StatusInternalServerError: "https://tools.ietf.org/html/rfc9110#section-15.6.1",
	http.StatusServiceUnavailable:  "https://tools.ietf.org/html/rfc9110#section-15.6.4",
}

// Details is a problem details body. Extensions are serialized as top-level
// members next to the standard ones.
type Details struct {
	Type       string                 `json:"type,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Status     int                    `json:"status,omitempty"`
	Detail     string                 `json:"detail,omitempty"`
	Instance   string                 `json:"instance,omitempty"`
	Extensions map[string]interface{} `json:"-"`
}

// New returns the default problem for status.
func New(status int) *Details {
	title := http.StatusText(status)
	if status == http.StatusInternalServerError {
		title = InternalErrorTitle
	}
	return &Details{
		Type:   typeURIs[status],
		Title:  title,
		Status: status,
	}
}

// With sets an extension member and returns d.
func (d *Details) With(key string, value interface{}) *Details {
	if d.Extensions == nil {
		d.Extensions = make(map[string]interface{})
	}
	d.Extensions[key] = value
	return d
}

func (d Details) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Extensions)+5)
	for k, v := range d.Extensions {
		out[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("type", d.Type)
	set("title", d.Title)
	set("detail", d.Detail)
	set("instance", d.Instance)
	if d.Status != 0 {
		out["status"] = d.Status
	}
	return json.Marshal(out)
}

func (d *Details) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Details{}
	for k, v := range raw {
		var err error
		switch k {
		case "type":
			err = json.Unmarshal(v, &d.Type)
		case "title":
			err = json.Unmarshal(v, &d.Title)
		case "status":
			err = json.Unmarshal(v, &d.Status)
		case "detail":
			err = json.Unmarshal(v, &d.Detail)
		case "instance":
			err = json.Unmarshal(v, &d.Instance)
		default:
			var ext interface{}
			err = json.Unmarshal(v, &ext)
			d.With(k, ext)
		}
		if err != nil {
			return fmt.Errorf("decoding %q: %w", k, err)
		}
	}
	return nil
}

// ValidationError reports invalid client input, keyed by field.
type ValidationError struct {
	Errors map[string][]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	return "validation failed: " + strings.Join(fields, ", ")
}

// StatusError carries an explicit HTTP status for a handler failure.
type StatusError struct {
	Status int
	Detail string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, http.StatusText(e.Status), e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
}

func (e *StatusError) Unwrap() error { return e.Err }

// FromError maps err to a problem. Unknown errors become a generic 500 whose
// body never includes the error text.
func FromError(err error) *Details {
	var ve *ValidationError
	if errors.As(err, &ve) {
		d := New(http.StatusBadRequest)
		d.Title = validationTitle
		return d.With(ErrorsKey, ve.Errors)
	}
	var se *StatusError
	if errors.As(err, &se) {
		d := New(se.Status)
		d.Detail = se.Detail
		return d
	}
	return New(http.StatusInternalServerError)
}
