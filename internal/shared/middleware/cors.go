package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/cors"
)

// CORS allows browser calls from the dashboard origins. With no origins
// configured every origin is accepted without credentials, which suits local
// development.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         3600,
	}
	if len(allowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowCredentials = true
		opts.AllowOriginFunc = func(_ *http.Request, origin string) bool {
			return isOriginAllowed(origin, allowedOrigins)
		}
	}
	return cors.Handler(opts)
}

// isOriginAllowed matches the origin's host against the configured hosts.
// Entries may be bare hosts or full origins.
func isOriginAllowed(origin string, allowed []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if au, err := url.Parse(a); err == nil && au.Host != "" {
			a = au.Hostname()
		} else {
			a = hostOnly(a)
		}
		if a == host {
			return true
		}
	}
	return false
}
