package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// defaultDashboardOrigin is the local analytics dashboard.
const defaultDashboardOrigin = "http://localhost:3000"

// CORS builds the cors.Options for the dashboard origins. Credentials are only
// allowed for explicit origins, never together with "*".
func CORS(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{defaultDashboardOrigin}
	}

	return cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           600,
	}
}
