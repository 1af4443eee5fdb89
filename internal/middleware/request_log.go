package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eduplatform/chatcore/internal/logger"
)

// RequestLog логирует запросы к отладочному роутеру: method, path, статус ответа и время.
// Query не пишем: в нём может оказаться токен.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap, ok := w.(*responseWriter)
		if !ok {
			wrap = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		next.ServeHTTP(wrap, r)
		if wrap.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d (%s)", r.Method, r.URL.Path, wrap.status, time.Since(start))
			return
		}
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" -> "+strconv.Itoa(wrap.status), start)
	})
}
