// Package router provides centralized API route registration. All HTTP
// routes are registered here, grouped by business domain, with
// appropriate middleware applied to each group.
package router

import (
	"net/http"
	"time"

	"imagesearch/internal/handler"
	"imagesearch/internal/middleware"
)

// Register registers every route of the external interface (§6) plus the
// SPEC_FULL §D additions to http.DefaultServeMux. It creates middleware
// instances internally and returns a cleanup function that should be
// called on shutdown to stop the rate limiters' background goroutines.
func Register(app *handler.App) func() {
	// Every route gets security headers, CORS, a request id, and request
	// logging; mutating admin routes additionally get a tighter rate limit.
	secureAPI := middleware.Chain(
		middleware.SecurityHeaders(),
		middleware.CORS(),
		middleware.RequestID(),
		middleware.RequestLog(),
	)

	// Admin rate limiter: 30 index control calls per minute per IP.
	adminRL := middleware.NewRateLimiter(30, 1*time.Minute)
	// Search rate limiter: 120 searches per minute per IP.
	searchRL := middleware.NewRateLimiter(120, 1*time.Minute)

	secure := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(h)
	}
	secureAdmin := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(adminRL.Limit()(h))
	}
	secureSearch := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(searchRL.Limit()(h))
	}

	// ── Search ──
	http.HandleFunc("/search", secureSearch(handler.HandleSearch(app)))

	// ── Indexing control ──
	http.HandleFunc("/index/start", secureAdmin(handler.HandleIndexStart(app)))
	http.HandleFunc("/index/stop", secureAdmin(handler.HandleIndexStop(app)))
	http.HandleFunc("/index/status", secure(handler.HandleIndexStatus(app)))
	http.HandleFunc("/index/errors", secure(handler.HandleIndexErrors(app)))

	// ── Stats & health ──
	http.HandleFunc("/stats", secure(handler.HandleStats(app)))
	http.HandleFunc("/health", secure(handler.HandleHealth(app)))

	return func() {
		adminRL.Stop()
		searchRL.Stop()
	}
}
