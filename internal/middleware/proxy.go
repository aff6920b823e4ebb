package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gorilla/handlers"
)

// TrustedProxies is the set of peers allowed to set X-Forwarded-* headers.
// A nil or empty set trusts nobody.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses a list of IP addresses and CIDR ranges.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	tp := &TrustedProxies{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			prefix, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("parsing trusted proxy %q: %w", e, err)
			}
			tp.prefixes = append(tp.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("parsing trusted proxy %q: %w", e, err)
		}
		addr = addr.Unmap()
		tp.prefixes = append(tp.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return tp, nil
}

// Trusts reports whether the connection peer of r is a trusted proxy.
func (tp *TrustedProxies) Trusts(r *http.Request) bool {
	if tp == nil || len(tp.prefixes) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tp.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

type forwardedHTTPSKey struct{}

// forwardedHTTPS reports whether a trusted proxy said the client used HTTPS.
func forwardedHTTPS(ctx context.Context) bool {
	v, _ := ctx.Value(forwardedHTTPSKey{}).(bool)
	return v
}

// ProxyHeaders applies X-Forwarded-For, X-Real-IP, X-Forwarded-Host and
// X-Forwarded-Proto for requests from trusted proxies. Other requests keep
// their connection address and scheme.
func ProxyHeaders(trusted *TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		forwarded := handlers.ProxyHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.URL.Scheme, "https") {
				r = r.WithContext(context.WithValue(r.Context(), forwardedHTTPSKey{}, true))
			}
			next.ServeHTTP(w, r)
		}))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if trusted.Trusts(r) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
