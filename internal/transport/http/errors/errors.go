// errors стандартизирует ответы об ошибках REST-слоя.
// На вход принимает ошибку сервисного слоя (или транспорта), на выход даёт:
//   - корректный HTTP-статус;
//   - стабильный машиночитаемый code и краткое безопасное message без утечки деталей.
//
// Источник истинности по ошибкам: sentinel-ошибки internal/service и internal/auth.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/comments-moderation/internal/auth"
	"github.com/pribylovaa/comments-moderation/internal/service"
)

var (
	// ErrUnauthenticated - нужен (валидный) bearer-токен.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrBadRequest - тело или параметры запроса не разобрались.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout - обработка не уложилась в общий дедлайн запроса.
	ErrTimeout = errors.New("request timeout")
)

// APIError - единый формат для фронта.
// Code - короткий стабильный код для машиночитаемой обработки на FE.
// Message - безопасное человекочитаемое описание.
// RequestID - прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse - корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type mapping struct {
	err    error
	status int
	code   string
	msg    string
}

// table - порядок важен только для читаемости: sentinel-ошибки не вкладываются друг в друга.
var table = []mapping{
	{ErrBadRequest, http.StatusBadRequest, "bad_request", "malformed request"},
	{ErrTimeout, http.StatusGatewayTimeout, "timeout", "request timed out"},
	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "unauthenticated"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthenticated", "invalid token"},
	{auth.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "token expired"},
	{service.ErrValidation, http.StatusBadRequest, "validation_failed", "validation failed"},
	{service.ErrInvalidParent, http.StatusUnprocessableEntity, "invalid_parent", "invalid parent"},
	{service.ErrMaxDepthExceeded, http.StatusUnprocessableEntity, "max_depth_exceeded", "max depth exceeded"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden", "forbidden"},
	{service.ErrAlreadyApproved, http.StatusConflict, "already_approved", "already approved"},
	{service.ErrAlreadySpam, http.StatusConflict, "already_spam", "already marked as spam"},
	{service.ErrNotFound, http.StatusNotFound, "not_found", "comment not found"},
	{service.ErrPostNotFound, http.StatusNotFound, "post_not_found", "post not found"},
	{service.ErrCommentDeleted, http.StatusConflict, "comment_deleted", "comment deleted"},
	{service.ErrConflict, http.StatusConflict, "conflict", "concurrent modification"},
}

// ToHTTP конвертирует ошибку в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil - программная ошибка вызова: 500/internal, чтобы не послать "200 OK" с телом ошибки;
//   - известная sentinel-ошибка (в том числе обёрнутая) - статус из таблицы;
//   - прочее, включая service.ErrInternal - 500/internal без деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	if err != nil {
		for _, m := range table {
			if errors.Is(err, m.err) {
				return m.status, ErrorResponse{Error: APIError{Code: m.code, Message: m.msg}}
			}
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error: APIError{
			Code:    "internal",
			Message: "internal error",
		},
	}
}

// WriteError - хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
