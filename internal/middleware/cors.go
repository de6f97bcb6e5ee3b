package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSMiddleware returns CORS configuration for the dashboard
func CORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,

		// Allow common HTTP methods
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},

		// Allow common headers
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-CSRF-Token",
			"X-Requested-With",
			"X-Hub-Signature-256",
		},

		// Expose headers to the client
		ExposedHeaders: []string{
			"Link",
			"X-Request-Id",
		},

		// Credentials cannot be combined with a wildcard origin
		AllowCredentials: !allowsAny(allowedOrigins),

		// Cache preflight requests for 5 minutes
		MaxAge: 300,
	})
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
