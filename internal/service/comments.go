package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/content"
	"github.com/pribylovaa/comments-moderation/internal/hierarchy"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/spam"
	"github.com/pribylovaa/comments-moderation/internal/storage"
	"github.com/pribylovaa/comments-moderation/pkg/log"
	"github.com/pribylovaa/comments-moderation/pkg/redact"
)

// Входные структуры сервисного слоя.

// CreateCommentInput - создание корневого комментария или ответа.
// Правила:
//   - аутентифицированный Identity делает автора зарегистрированным пользователем;
//   - иначе обязательны GuestName, GuestEmail и GuestPassword;
//   - Content обрезается по краям и не должен быть пустым или длиннее limits.max_content_len.
type CreateCommentInput struct {
	PostID   uuid.UUID
	ParentID *int64
	Content  string
	Identity models.Identity

	GuestName     string
	GuestEmail    string
	GuestPassword string

	Meta models.RequestMeta
}

// Requester - кто выполняет удаление или правку.
type Requester struct {
	Identity models.Identity
	// GuestPassword - пароль гостя, указанный при создании комментария.
	GuestPassword string
}

// UpdateCommentInput - правка текста автором.
// Version - версия, которую видел клиент; 0 - взять текущую.
type UpdateCommentInput struct {
	ID        int64
	Content   string
	Version   int64
	Requester Requester
	Meta      models.RequestMeta
}

// CreateComment - создание комментария.
//
// Порядок: валидация -> пост существует -> размещение в дереве -> рендер и извлечение ссылок ->
// превью первой ссылки -> счётчики повторов -> спам-оценка -> начальный статус -> запись.
//
// Поведение/ошибки:
//   - ErrValidation - пустой/длинный текст, неполные гостевые поля;
//   - ErrPostNotFound - пост не зарегистрирован;
//   - ErrInvalidParent - родитель отсутствует, из другого поста, удалён или спам
//     (в том числе если это случилось между проверкой и записью);
//   - ErrMaxDepthExceeded - превышена глубина;
//   - ErrInternal - прочие ошибки хранилища.
//
// Эвристики ошибок не возвращают: сбой превью или счётчиков повторов только ослабляет оценку.
func (s *Service) CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error) {
	const op = "service/comments/CreateComment"

	lg := log.From(ctx).With(
		"op", op,
		"post_id", in.PostID.String(),
		"ip", redact.IP(in.Meta.IPAddress),
	)

	if in.PostID == uuid.Nil {
		lg.Warn("invalid argument: empty post_id")
		return nil, fmt.Errorf("%s: %w", op, ErrValidation)
	}

	raw, ok := s.normalizeContent(in.Content)
	if !ok {
		lg.Warn("invalid argument: content is empty or too long")
		return nil, fmt.Errorf("%s: %w", op, ErrValidation)
	}

	author, ok, err := s.resolveAuthor(in.Identity, in.GuestName, in.GuestEmail, in.GuestPassword)
	if err != nil {
		lg.Error("hash guest password failed", "err", err, "password", redact.Password())
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}
	if !ok {
		lg.Warn("invalid argument: author fields", "guest_email", redact.Email(in.GuestEmail))
		return nil, fmt.Errorf("%s: %w", op, ErrValidation)
	}

	exists, err := s.storage.PostExists(ctx, in.PostID)
	if err != nil {
		lg.Error("storage error on PostExists", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}
	if !exists {
		lg.Warn("post not found")
		return nil, fmt.Errorf("%s: %w", op, ErrPostNotFound)
	}

	placement, _, err := s.hierarchy.Resolve(ctx, in.PostID, in.ParentID)
	if err != nil {
		switch {
		case errors.Is(err, hierarchy.ErrInvalidParent):
			lg.Warn("invalid parent")
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidParent)
		case errors.Is(err, hierarchy.ErrMaxDepthExceeded):
			lg.Warn("max depth exceeded")
			return nil, fmt.Errorf("%s: %w", op, ErrMaxDepthExceeded)
		default:
			lg.Error("storage error on parent lookup", "err", err)
			return nil, fmt.Errorf("%s: %w", op, ErrInternal)
		}
	}

	now := s.now().UTC()
	rendered := s.sanitizer.Render(ctx, raw)
	links := content.ExtractLinks(raw)
	lp := s.fetchPreview(ctx, links)

	var guest *models.Guest
	if g, ok := author.Guest(); ok {
		guest = &g
	}

	assessment := s.spam.Assess(spam.Input{
		Text:    content.VisibleText(rendered),
		Links:   links,
		Preview: lp,
		Guest:   guest,
		Context: s.repeatContext(ctx, raw, guest, in.Meta.IPAddress, 0, now),
	})
	status := s.spam.Recommend(assessment.Score, !author.IsGuest())

	comm := models.Comment{
		PostID:          in.PostID,
		Author:          author,
		ParentID:        placement.ParentID,
		Depth:           placement.Depth,
		Path:            placement.Path,
		RawContent:      raw,
		RenderedContent: rendered,
		DetectedLinks:   links,
		LinkPreview:     lp,
		Status:          status,
		Spam:            assessment,
		IPAddress:       in.Meta.IPAddress,
		UserAgent:       in.Meta.UserAgent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	result, err := s.storage.CreateComment(ctx, comm)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrParentNotFound):
			lg.Warn("parent changed before insert")
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidParent)
		case errors.Is(err, storage.ErrPostNotFound):
			lg.Warn("post not found on insert")
			return nil, fmt.Errorf("%s: %w", op, ErrPostNotFound)
		default:
			lg.Error("storage error on CreateComment", "err", err)
			return nil, fmt.Errorf("%s: %w", op, ErrInternal)
		}
	}

	s.metrics.CommentCreated(string(result.Status), result.Spam.Score)
	lg.Info("comment created",
		"id", result.ID,
		"status", string(result.Status),
		"score", result.Spam.Score,
		"guest", result.Author.IsGuest(),
	)

	return result, nil
}

// CommentByID - комментарий по id с учётом видимости.
// Скрытые от viewer комментарии (спам, чужой pending) неотличимы от отсутствующих.
// Удалённый комментарий отдаётся как плейсхолдер.
func (s *Service) CommentByID(ctx context.Context, id int64, viewer models.Identity) (*models.Comment, error) {
	const op = "service/comments/CommentByID"

	lg := log.From(ctx).With("op", op, "id", id)

	c, err := s.load(ctx, lg, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if c.IsDeleted() {
		return placeholder(*c), nil
	}

	if !canView(c, viewer) {
		lg.Warn("comment hidden from viewer")
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return c, nil
}

// UpdateComment - правка текста автором.
//
// Текст всегда заново рендерится и ссылки извлекаются заново. Пока модератор не принимал
// решения по комментарию, превью, спам-оценка и статус пересчитываются как при создании,
// но комментарий в статусе spam остаётся спамом при любой новой оценке.
// После решения модератора статус и оценка сохраняются, превью остаётся только если
// первая ссылка не изменилась.
//
// Поведение/ошибки:
//   - ErrValidation - пустой/длинный текст;
//   - ErrNotFound - нет комментария;
//   - ErrCommentDeleted - комментарий удалён;
//   - ErrForbidden - правит не автор;
//   - ErrConflict - версия устарела;
//   - ErrInternal - прочие ошибки хранилища.
func (s *Service) UpdateComment(ctx context.Context, in UpdateCommentInput) (*models.Comment, error) {
	const op = "service/comments/UpdateComment"

	lg := log.From(ctx).With("op", op, "id", in.ID)

	raw, ok := s.normalizeContent(in.Content)
	if !ok {
		lg.Warn("invalid argument: content is empty or too long")
		return nil, fmt.Errorf("%s: %w", op, ErrValidation)
	}

	c, err := s.load(ctx, lg, in.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if c.IsDeleted() {
		lg.Warn("comment deleted")
		return nil, fmt.Errorf("%s: %w", op, ErrCommentDeleted)
	}

	if !mayManage(c, in.Requester, false) {
		lg.Warn("forbidden: not the author")
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	version := c.Version
	if in.Version > 0 {
		version = in.Version
	}

	now := s.now().UTC()
	rendered := s.sanitizer.Render(ctx, raw)
	links := content.ExtractLinks(raw)

	upd := storage.ContentUpdate{
		ID:              c.ID,
		Version:         version,
		RawContent:      raw,
		RenderedContent: rendered,
		DetectedLinks:   links,
		UpdatedAt:       now,
	}

	if c.ModeratorDecided() {
		if len(links) > 0 && len(c.DetectedLinks) > 0 && links[0] == c.DetectedLinks[0] {
			upd.LinkPreview = c.LinkPreview
		}
	} else {
		upd.LinkPreview = s.fetchPreview(ctx, links)

		var guest *models.Guest
		if g, ok := c.Author.Guest(); ok {
			guest = &g
		}

		assessment := s.spam.Assess(spam.Input{
			Text:    content.VisibleText(rendered),
			Links:   links,
			Preview: upd.LinkPreview,
			Guest:   guest,
			Context: s.repeatContext(ctx, raw, guest, in.Meta.IPAddress, c.ID, now),
		})
		status := s.spam.Recommend(assessment.Score, !c.Author.IsGuest())
		// Из спама выводит только модератор.
		if c.Status == models.StatusSpam {
			status = models.StatusSpam
		}

		upd.Spam = &assessment
		upd.Status = &status
	}

	result, err := s.storage.UpdateContent(ctx, upd)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			lg.Warn("comment not found")
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		case errors.Is(err, storage.ErrConflict):
			lg.Warn("stale version", "version", version)
			return nil, fmt.Errorf("%s: %w", op, ErrConflict)
		default:
			lg.Error("storage error on UpdateContent", "err", err)
			return nil, fmt.Errorf("%s: %w", op, ErrInternal)
		}
	}

	lg.Info("comment updated", "status", string(result.Status), "score", result.Spam.Score)

	return result, nil
}

// DeleteComment - удаление модератором, автором-пользователем или гостем с паролем.
// Комментарий с ответами удаляется мягко (плейсхолдер), лист - физически.
//
// Поведение/ошибки:
//   - ErrNotFound - нет комментария;
//   - ErrCommentDeleted - уже удалён;
//   - ErrForbidden - нет прав;
//   - ErrInternal - прочие ошибки хранилища.
func (s *Service) DeleteComment(ctx context.Context, id int64, r Requester) error {
	const op = "service/comments/DeleteComment"

	lg := log.From(ctx).With("op", op, "id", id)

	c, err := s.load(ctx, lg, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if c.IsDeleted() {
		lg.Warn("comment already deleted")
		return fmt.Errorf("%s: %w", op, ErrCommentDeleted)
	}

	if !mayManage(c, r, true) {
		lg.Warn("forbidden: delete")
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	res, err := s.storage.DeleteComment(ctx, id, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			lg.Warn("comment not found")
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		default:
			lg.Error("storage error on DeleteComment", "err", err)
			return fmt.Errorf("%s: %w", op, ErrInternal)
		}
	}

	s.metrics.ModerationAction("delete")
	lg.Info("comment deleted", "soft", res.Soft, "purged", len(res.Purged), "by_moderator", r.Identity.Moderator)

	return nil
}

// load читает комментарий и переводит ошибки хранилища в сервисные.
func (s *Service) load(ctx context.Context, lg *slog.Logger, id int64) (*models.Comment, error) {
	if id <= 0 {
		lg.Warn("invalid argument: id")
		return nil, ErrValidation
	}

	c, err := s.storage.CommentByID(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			lg.Warn("comment not found")
			return nil, ErrNotFound
		default:
			lg.Error("storage error on CommentByID", "err", err)
			return nil, ErrInternal
		}
	}

	return c, nil
}

// fetchPreview загружает превью только для первой ссылки и только в пределах таймаута.
func (s *Service) fetchPreview(ctx context.Context, links []string) *models.LinkPreview {
	if s.previews == nil || len(links) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Preview.Timeout)
	defer cancel()

	return s.previews.FetchPreview(ctx, links[0])
}

// repeatContext читает счётчики повторов. Ошибка хранилища даёт нули.
func (s *Service) repeatContext(ctx context.Context, raw string, guest *models.Guest, ip string, excludeID int64, now time.Time) spam.RepeatContext {
	q := storage.RepeatQuery{
		IPAddress:      ip,
		RawContent:     raw,
		RecentSince:    now.Add(-s.cfg.Spam.RepeatWindow),
		DuplicateSince: now.Add(-s.cfg.Spam.DuplicateWindow),
		ExcludeID:      excludeID,
	}
	if guest != nil {
		q.GuestEmail = guest.Email
	}

	counts, err := s.storage.CountRepeats(ctx, q)
	if err != nil {
		log.From(ctx).Warn("repeat counters unavailable, scoring without them", "err", err)
		return spam.RepeatContext{}
	}

	return spam.RepeatContext{
		RecentByIP:    counts.ByIP,
		RecentByEmail: counts.ByEmail,
		Duplicates:    counts.Duplicates,
	}
}

// placeholder - представление мягко удалённого комментария.
func placeholder(c models.Comment) *models.Comment {
	c.RawContent = models.DeletedPlaceholder
	c.RenderedContent = models.DeletedPlaceholder
	c.DetectedLinks = []string{}
	c.LinkPreview = nil
	return &c
}
