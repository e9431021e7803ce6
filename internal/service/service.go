// service содержит бизнес-логику модерации комментариев: создание, правку,
// модераторские действия, удаление и выдачу дерева.
package service

import (
	"errors"
	"time"

	"github.com/pribylovaa/comments-moderation/internal/config"
	"github.com/pribylovaa/comments-moderation/internal/content"
	"github.com/pribylovaa/comments-moderation/internal/hierarchy"
	"github.com/pribylovaa/comments-moderation/internal/metrics"
	"github.com/pribylovaa/comments-moderation/internal/preview"
	"github.com/pribylovaa/comments-moderation/internal/spam"
	"github.com/pribylovaa/comments-moderation/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrValidation - неверные входные данные.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidParent - родитель не найден, из другого поста, удалён или спам.
	ErrInvalidParent = errors.New("invalid parent")
	// ErrMaxDepthExceeded - ответ глубже допустимого.
	ErrMaxDepthExceeded = errors.New("max depth exceeded")
	// ErrForbidden - у запрашивающего нет прав на действие.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyApproved - комментарий уже одобрен.
	ErrAlreadyApproved = errors.New("already approved")
	// ErrAlreadySpam - комментарий уже помечен как спам.
	ErrAlreadySpam = errors.New("already spam")
	// ErrNotFound - комментарий отсутствует (или скрыт от запрашивающего).
	ErrNotFound = errors.New("not found")
	// ErrPostNotFound - пост не зарегистрирован.
	ErrPostNotFound = errors.New("post not found")
	// ErrCommentDeleted - комментарий удалён, действие невозможно.
	ErrCommentDeleted = errors.New("comment deleted")
	// ErrConflict - запись изменилась конкурентно.
	ErrConflict = errors.New("conflict")
	// ErrInternal - внутренняя ошибка (хранилище, контекст и т.д.).
	ErrInternal = errors.New("internal")
)

// Service - контроллер жизненного цикла комментария.
type Service struct {
	storage   storage.Storage
	hierarchy *hierarchy.Manager
	sanitizer *content.Sanitizer
	previews  preview.Source
	spam      *spam.Engine
	metrics   *metrics.Metrics
	cfg       config.Config

	now        func() time.Time
	bcryptCost int
}

// Option настраивает необязательные зависимости Service.
type Option func(*Service)

// WithPreviews подключает загрузчик превью. Без него комментарии создаются без превью.
func WithPreviews(src preview.Source) Option {
	return func(s *Service) { s.previews = src }
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New создает Service. Спам-движок и менеджер дерева строятся из конфигурации.
func New(st storage.Storage, sanitizer *content.Sanitizer, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		storage:    st,
		hierarchy:  hierarchy.New(st, cfg.Limits.MaxDepth),
		sanitizer:  sanitizer,
		spam:       spam.New(cfg.Spam),
		cfg:        cfg,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}
