package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/service"
	apierrors "github.com/pribylovaa/comments-moderation/internal/transport/http/errors"
	logctx "github.com/pribylovaa/comments-moderation/pkg/log"
)

// TokenVerifier - проверка bearer-токена. Реализуется auth.Verifier.
type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// Auth извлекает Bearer-токен из Authorization и кладёт identity в контекст.
//   - заголовка нет: запрос анонимный (гость);
//   - заголовок есть, но это не Bearer, токен невалиден или проверка не настроена: 401.
func Auth(v TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			if v == nil {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			const prefix = "Bearer "
			if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			token := strings.TrimSpace(header[len(prefix):])
			if token == "" {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			id, err := v.Verify(token)
			if err != nil {
				logctx.From(r.Context()).Warn("bearer token rejected", "err", err)
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := WithIdentity(r.Context(), id)
			ctx = logctx.With(ctx, "user_id", id.UserID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireModerator пропускает только аутентифицированных модераторов.
func RequireModerator() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())

			switch {
			case !id.Authenticated():
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
			case !id.Moderator:
				apierrors.WriteError(w, r, service.ErrForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// ClientIP - адрес клиента из RemoteAddr (после chi RealIP там уже адрес из X-Forwarded-For).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
