package middleware

import "net/http"

// NoStore marks responses as private and uncacheable. Wishlist payloads depend
// on the caller, so shared caches must never keep them.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "private, no-store")
		w.Header().Add("Vary", "Authorization")
		next.ServeHTTP(w, r)
	})
}
