package middleware

import (
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
}

// RequestLogger logs one line per request through zap. Credentials are never logged.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("remote", r.RemoteAddr),
					zap.String("request_id", chimw.GetReqID(r.Context())),
					zap.Strings("headers", safeHeaderNames(r.Header)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func safeHeaderNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for k := range h {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			continue
		}
		names = append(names, k)
	}
	return names
}
