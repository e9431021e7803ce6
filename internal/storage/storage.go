// Package storage описывает контракт хранилища комментариев и его ошибки.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
)

var (
	// ErrNotFound - сущность отсутствует в хранилище.
	ErrNotFound = errors.New("not found")
	// ErrParentNotFound - родитель исчез или перестал подходить к моменту вставки.
	ErrParentNotFound = errors.New("parent not found")
	// ErrPostNotFound - пост, к которому пишется комментарий, не существует.
	ErrPostNotFound = errors.New("post not found")
	// ErrConflict - условие записи не выполнено (статус или версия изменились).
	ErrConflict = errors.New("conflict")
)

// StatusUpdate - смена статуса модератором.
type StatusUpdate struct {
	From        models.Status
	To          models.Status
	ModeratorID uuid.UUID
	At          time.Time
}

// ContentUpdate - правка содержимого. Version - ожидаемая текущая версия.
type ContentUpdate struct {
	ID              int64
	Version         int64
	RawContent      string
	RenderedContent string
	DetectedLinks   []string
	LinkPreview     *models.LinkPreview
	// Spam и Status nil - оставить как есть.
	Spam      *models.SpamAssessment
	Status    *models.Status
	UpdatedAt time.Time
}

// DeleteResult - что произошло при удалении.
type DeleteResult struct {
	// Soft - у комментария были ответы, узел сохранён с плейсхолдером.
	Soft bool
	// Purged - id мягко удалённых предков, удалённых физически, когда у них не осталось ответов.
	Purged []int64
}

// RepeatQuery - параметры подсчёта повторов для спам-оценки.
type RepeatQuery struct {
	IPAddress  string
	GuestEmail string
	RawContent string
	// RecentSince - начало окна для счётчиков по IP и e-mail.
	RecentSince time.Time
	// DuplicateSince - начало окна для поиска совпадающего содержимого.
	DuplicateSince time.Time
	// ExcludeID - не учитывать этот комментарий (при повторной оценке правки).
	ExcludeID int64
}

// RepeatCounts - результаты подсчёта. Пустые IP и e-mail дают нули.
type RepeatCounts struct {
	ByIP       int
	ByEmail    int
	Duplicates int
}

// Storage - операции над комментариями.
type Storage interface {
	// PostExists сообщает, зарегистрирован ли пост.
	PostExists(ctx context.Context, postID uuid.UUID) (bool, error)

	// CreateComment вставляет комментарий. ID, Version, CreatedAt, UpdatedAt назначает хранилище.
	// Если задан ParentID, в той же транзакции родитель перечитывается с блокировкой и
	// должен по-прежнему существовать в том же посте, не быть удалённым или спамом и
	// иметь Depth/Path, из которых получено размещение. Иначе ErrParentNotFound.
	// Отсутствие поста - ErrPostNotFound.
	CreateComment(ctx context.Context, c models.Comment) (*models.Comment, error)

	// CommentByID возвращает комментарий. ErrNotFound, если его нет.
	CommentByID(ctx context.Context, id int64) (*models.Comment, error)

	// UpdateStatus атомарно меняет статус при условии status = upd.From.
	// При upd.To = approved выставляет approved_at/approved_by.
	// ErrNotFound - нет записи; ErrConflict - статус уже другой.
	UpdateStatus(ctx context.Context, id int64, upd StatusUpdate) (*models.Comment, error)

	// UpdateContent применяет правку при совпадении версии и увеличивает версию.
	// Удалённые комментарии не правятся. ErrNotFound / ErrConflict.
	UpdateContent(ctx context.Context, upd ContentUpdate) (*models.Comment, error)

	// DeleteComment удаляет комментарий в одной транзакции: при наличии ответов - мягко
	// (плейсхолдер, статус deleted), иначе физически; затем физически удаляет мягко удалённых
	// предков, у которых не осталось ответов. ErrNotFound - нет записи.
	DeleteComment(ctx context.Context, id int64, at time.Time) (DeleteResult, error)

	// ListByPost возвращает все комментарии поста, упорядоченные по (depth, created_at, id).
	ListByPost(ctx context.Context, postID uuid.UUID) ([]models.Comment, error)

	// CountRepeats считает недавние комментарии с того же IP и e-mail гостя и совпадающее содержимое.
	// Чтение может быть неточным при конкурентной записи.
	CountRepeats(ctx context.Context, q RepeatQuery) (RepeatCounts, error)

	// Close закрывает соединения хранилища.
	Close()
}

// ContentHash - ключ поиска совпадающего содержимого (байт-в-байт).
func ContentHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
