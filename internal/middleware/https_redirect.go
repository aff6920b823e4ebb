package middleware

import (
	"net"
	"net/http"
	"strconv"
)

// HTTPSRedirect answers plaintext requests with a 307 to the same URL on the
// HTTPS port. A port of 443 is left implicit.
func HTTPSRedirect(httpsPort int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSecure(r) {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, httpsURL(r, httpsPort), http.StatusTemporaryRedirect)
		})
	}
}

// isSecure trusts forwarded protocol headers only through ProxyHeaders.
func isSecure(r *http.Request) bool {
	return r.TLS != nil || forwardedHTTPS(r.Context())
}

func httpsURL(r *http.Request, port int) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if port != 443 {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return "https://" + host + r.URL.RequestURI()
}
