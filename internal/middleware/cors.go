package middleware

import (
	"net/http"
	"slices"
)

// CORS 允许配置的来源跨域访问，"*" 表示任意来源。
func CORS(origins []string) func(http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (anyOrigin || slices.Contains(origins, origin)) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowOrigin reports whether a websocket handshake from origin is acceptable.
func AllowOrigin(origins []string) func(r *http.Request) bool {
	anyOrigin := slices.Contains(origins, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || anyOrigin || slices.Contains(origins, origin)
	}
}
