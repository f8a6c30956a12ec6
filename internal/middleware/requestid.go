package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
)

// RequestID returns a middleware that generates an 8-byte random hex
// string (16 hex characters) per request and sets it as the X-Request-Id
// response header.
func RequestID() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			reqID := make([]byte, 8)
			if _, err := rand.Read(reqID); err != nil {
				log.Printf("[RequestID] crypto/rand failed: %v", err)
			}
			w.Header().Set("X-Request-Id", hex.EncodeToString(reqID))
			next(w, r)
		}
	}
}
