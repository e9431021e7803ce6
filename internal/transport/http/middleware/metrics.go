package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// RequestRecorder - приёмник HTTP-метрик. Реализуется metrics.Metrics.
type RequestRecorder interface {
	HTTPRequest(route, method string, code int, elapsed time.Duration)
}

// Metrics учитывает запрос по шаблону маршрута chi (а не по сырому пути,
// чтобы id не раздували кардинальность).
func Metrics(rec RequestRecorder) Middleware {
	return func(next http.Handler) http.Handler {
		if rec == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			var route string
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}

			rec.HTTPRequest(route, r.Method, sw.code(), time.Since(start))
		})
	}
}
