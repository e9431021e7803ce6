// Package middleware - net/http мидлвары REST-слоя: request id, логирование, метрики,
// таймаут, восстановление после паники и идентификация по bearer-токену.
package middleware

import (
	"context"
	"net/http"

	"github.com/pribylovaa/comments-moderation/internal/models"
)

// Middleware - стандартный net/http мидлвар.
type Middleware func(http.Handler) http.Handler

// Chain применяет мидлвары к обработчику в порядке их перечисления.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxIdentity
)

// RequestIDFrom возвращает id запроса, положенный RequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

// IdentityFrom возвращает identity, положенную Auth. Нулевое значение - анонимный запрос.
func IdentityFrom(ctx context.Context) models.Identity {
	id, _ := ctx.Value(ctxIdentity).(models.Identity)
	return id
}

// WithIdentity кладёт identity в контекст.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

// statusWriter оборачивает ResponseWriter, чтобы перехватить статус и размер.
type statusWriter struct {
	http.ResponseWriter
	status int
	count  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	count, err := w.ResponseWriter.Write(p)
	w.count += count
	return count, err
}

// code - итоговый статус; обработчик, ничего не записавший, отвечает 200.
func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w}
}
