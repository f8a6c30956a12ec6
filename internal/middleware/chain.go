package middleware

import "net/http"

// Middleware wraps an http.HandlerFunc and returns a new http.HandlerFunc.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Chain composes middlewares in onion order: Chain(m1, m2, ..., mn) executes
// m1 -> m2 -> ... -> mn -> handler -> mn -> ... -> m2 -> m1. The first
// argument is outermost, the last is innermost (closest to the handler).
//
// With no middlewares, Chain returns a pass-through that just calls handler.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.HandlerFunc) http.HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
