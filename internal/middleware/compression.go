package middleware

import (
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/fakhrymubarak/api-template/internal/config"
)

// Compression gzips responses whose content type is in cfg.MimeTypes.
// TLS requests pass through untouched unless cfg.EnableForHTTPS is set.
func Compression(cfg config.CompressionConfig) (func(http.Handler) http.Handler, error) {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(0),
		gzhttp.ContentTypes(cfg.MimeTypes),
		gzhttp.CompressionLevel(cfg.Level),
	)
	if err != nil {
		return nil, fmt.Errorf("configuring compression: %w", err)
	}

	return func(next http.Handler) http.Handler {
		compressed := wrap(next)
		if cfg.EnableForHTTPS {
			return compressed
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}, nil
}
