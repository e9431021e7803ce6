// Package handlers - REST-обработчики сервиса модерации поверх service.Service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/service"
	apierrors "github.com/pribylovaa/comments-moderation/internal/transport/http/errors"
)

// maxBodyBytes - предел тела запроса; текст комментария ограничен сильнее на уровне сервиса.
const maxBodyBytes = 256 << 10

// Comments - операции сервиса, нужные обработчикам. Реализуется *service.Service.
type Comments interface {
	CreateComment(ctx context.Context, in service.CreateCommentInput) (*models.Comment, error)
	CommentByID(ctx context.Context, id int64, viewer models.Identity) (*models.Comment, error)
	UpdateComment(ctx context.Context, in service.UpdateCommentInput) (*models.Comment, error)
	DeleteComment(ctx context.Context, id int64, r service.Requester) error
	Approve(ctx context.Context, id int64, moderatorID uuid.UUID) (*models.Comment, error)
	MarkSpam(ctx context.Context, id int64, moderatorID uuid.UUID) (*models.Comment, error)
	ListTree(ctx context.Context, postID uuid.UUID, viewer models.Identity) ([]*models.Node, error)
}

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	Comments Comments
}

func New(c Comments) *Handlers {
	return &Handlers{Comments: c}
}

// writeJSON - единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict - строгий JSON-декодер: запрещаем неизвестные поля и хвост после объекта.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(value); err != nil {
		return err
	}

	if dec.More() {
		return errors.New("trailing data after JSON object")
	}

	return nil
}

// decodeOptional - как decodeStrict, но пустое тело допустимо.
func decodeOptional(w http.ResponseWriter, r *http.Request, value any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	err := decodeStrict(w, r, value)
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}

// commentID разбирает {id} из пути.
func commentID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierrors.ErrBadRequest
	}

	return id, nil
}

// postID разбирает {post_id} из пути.
func postID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "post_id"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apierrors.ErrBadRequest
	}

	return id, nil
}
