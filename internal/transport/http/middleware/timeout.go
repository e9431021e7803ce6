package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/comments-moderation/internal/transport/http/errors"
	logctx "github.com/pribylovaa/comments-moderation/pkg/log"
)

// Timeout навешивает общий дедлайн обработки (timeouts.service), если его ещё нет.
// Значение <=0 делает мидлвар no-op.
//
// Если дедлайн истёк, а обработчик так ничего и не записал (например, ждал
// хранилище или загрузку превью и вышел по ctx), клиент получает 504/timeout
// в общем JSON-формате ошибок вместо пустого 200.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.Context().Deadline(); ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			if sw.status == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logctx.From(r.Context()).Warn("request deadline exceeded", "timeout", d.String())
				apierrors.WriteError(sw, r, apierrors.ErrTimeout)
			}
		})
	}
}
