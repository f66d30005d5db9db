package handlers

import (
	"net/http"
	"os"
	"strings"
)

// CORSMiddleware adds CORS headers for the ops surface (snapshot, health,
// metrics) so operator dashboards can call it from a browser. Allowed
// origins come from CORS_ALLOWED_ORIGINS (comma-separated, default "*").
// The webhook route has no browser clients and ignores these headers.
func CORSMiddleware(next http.Handler) http.Handler {
	origins := strings.Split(getEnvDefault("CORS_ALLOWED_ORIGINS", "*"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	wildcard := len(origins) == 1 && origins[0] == "*"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowOrigin := ""
		if wildcard {
			allowOrigin = "*"
		} else {
			for _, o := range origins {
				if o == origin {
					allowOrigin = origin
					break
				}
			}
		}

		if allowOrigin == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func getEnvDefault(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
