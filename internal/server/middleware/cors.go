package middleware

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rs/cors"
)

// NewCORS answers cross-origin requests from the configured browser origins.
// Entries are host[:port] patterns, matched the same way the websocket
// upgrader matches OriginPatterns, so "*" allows every origin.
func NewCORS(allowedOrigins []string) Middleware {
	patterns := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		patterns = append(patterns, strings.ToLower(o))
	}
	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			return originAllowed(patterns, origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler
}

func originAllowed(patterns []string, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, p := range patterns {
		if ok, err := path.Match(p, host); err == nil && ok {
			return true
		}
	}
	return false
}
