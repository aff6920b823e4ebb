package openapi

import (
	"html/template"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/logging"
)

// Documentation routes.
const (
	DocumentPath        = "/openapi/" + Version + ".json"
	SwaggerDocumentPath = "/swagger/" + Version + "/swagger.json"
	SwaggerUIPath       = "/swagger"
	SwaggerIndexPath    = "/swagger/index.html"
	ScalarPath          = "/scalar"
	ScalarVersionPath   = "/scalar/" + Version
)

var swaggerPage = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Title}} - Swagger UI</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({ url: {{.DocumentURL}}, dom_id: "#swagger-ui" });
  </script>
</body>
</html>
`))

var scalarPage = template.Must(template.New("scalar").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{.Title}} - Scalar</title>
</head>
<body>
  <script id="api-reference" data-url="{{.DocumentURL}}"></script>
  <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>
`))

type page struct {
	Title       string
	DocumentURL string
}

// Docs serves a document and its reference pages.
type Docs struct {
	doc    *openapi3.T
	body   []byte
	logger *zap.Logger
}

// NewDocs renders doc once; the JSON is immutable afterwards.
func NewDocs(doc *openapi3.T, logger *zap.Logger) (*Docs, error) {
	body, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return &Docs{doc: doc, body: body, logger: logger}, nil
}

// Document returns the served document.
func (d *Docs) Document() *openapi3.T {
	return d.doc
}

// JSON returns the rendered document.
func (d *Docs) JSON() []byte {
	return d.body
}

// Register mounts every documentation route on r.
func (d *Docs) Register(r *mux.Router) {
	r.Handle(DocumentPath, http.HandlerFunc(d.serveDocument)).Methods(http.MethodGet)
	r.Handle(SwaggerDocumentPath, http.HandlerFunc(d.serveDocument)).Methods(http.MethodGet)
	r.Handle(SwaggerUIPath, d.page(swaggerPage, SwaggerDocumentPath)).Methods(http.MethodGet)
	r.Handle(SwaggerIndexPath, d.page(swaggerPage, SwaggerDocumentPath)).Methods(http.MethodGet)
	r.Handle(ScalarPath, d.page(scalarPage, DocumentPath)).Methods(http.MethodGet)
	r.Handle(ScalarVersionPath, d.page(scalarPage, DocumentPath)).Methods(http.MethodGet)
}

func (d *Docs) serveDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if _, err := w.Write(d.body); err != nil {
		logging.FromContext(r.Context()).Debug("writing openapi document", zap.Error(err))
	}
}

func (d *Docs) page(tmpl *template.Template, documentURL string) http.Handler {
	data := page{Title: d.doc.Info.Title, DocumentURL: documentURL}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			d.logger.Warn("rendering documentation page", zap.String("page", tmpl.Name()), zap.Error(err))
		}
	})
}
