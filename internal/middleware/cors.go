package middleware

import "net/http"

// CORS returns a middleware that only allows same-origin requests: it
// validates that the Origin header matches the request Host, and replies
// 204 No Content to OPTIONS preflight requests.
func CORS() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			// Only allow same-origin requests — reflect the Host as allowed origin
			origin := r.Header.Get("Origin")
			if origin != "" {
				// Validate that the origin matches the request host
				// This prevents cross-origin requests from arbitrary domains
				requestHost := r.Host
				if requestHost != "" && (origin == "http://"+requestHost || origin == "https://"+requestHost) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.Header().Set("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next(w, r)
		}
	}
}
