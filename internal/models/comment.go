// Package models содержит доменные сущности сервиса модерации комментариев.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status - состояние комментария в процессе модерации.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusSpam     Status = "spam"
	StatusDeleted  Status = "deleted"
)

// Valid сообщает, является ли значение одним из известных статусов.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusSpam, StatusDeleted:
		return true
	default:
		return false
	}
}

// DeletedPlaceholder - содержимое мягко удалённого комментария, у которого остались ответы.
const DeletedPlaceholder = "[deleted]"

// Comment - узел дерева ответов в рамках одного поста.
// Важно:
//   - ID назначает хранилище;
//   - PostID неизменяем после создания;
//   - Depth/Path вычисляются при записи (корень: 0 и ""), чтение дерева не требует рекурсии;
//   - RenderedContent всегда результат content.Sanitizer, вручную не редактируется;
//   - ModeratedBy/ModeratedAt выставляются только явным действием модератора;
//   - Version растёт на каждой записи (оптимистичная блокировка правок).
type Comment struct {
	ID       int64
	PostID   uuid.UUID
	Author   Author
	ParentID *int64
	Depth    int32
	Path     string

	RawContent      string
	RenderedContent string
	DetectedLinks   []string
	LinkPreview     *LinkPreview

	Status      Status
	Spam        SpamAssessment
	ApprovedAt  *time.Time
	ApprovedBy  *uuid.UUID
	ModeratedBy *uuid.UUID
	ModeratedAt *time.Time
	Version     int64

	IPAddress string
	UserAgent string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDeleted - комментарий мягко удалён (узел сохранён ради целостности ветки).
func (c *Comment) IsDeleted() bool {
	return c.Status == StatusDeleted
}

// ModeratorDecided - статус выставлен модератором, а не эвристикой при создании.
func (c *Comment) ModeratorDecided() bool {
	return c.ModeratedBy != nil
}

// Placement - результат размещения комментария в дереве.
type Placement struct {
	ParentID *int64
	Depth    int32
	Path     string
}

// LinkPreview - метаданные превью первой ссылки (og:title/og:description/og:image).
// Все строки уже экранированы.
type LinkPreview struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Empty сообщает, что ни одного поля извлечь не удалось.
func (p *LinkPreview) Empty() bool {
	return p == nil || (p.Title == "" && p.Description == "" && p.Image == "")
}

// SpamAssessment - итог эвристической оценки.
type SpamAssessment struct {
	Score     int           `json:"score"`
	Reasons   []string      `json:"reasons"`
	Breakdown SpamBreakdown `json:"breakdown"`
}

// SpamBreakdown - вклад каждой эвристики (каждый уже ограничен своим капом).
type SpamBreakdown struct {
	Keyword    int `json:"keyword"`
	Pattern    int `json:"pattern"`
	LinkRisk   int `json:"link_risk"`
	Length     int `json:"length"`
	Repeat     int `json:"repeat"`
	GuestEmail int `json:"guest_email"`
}

// Node - комментарий с вложенными ответами для выдачи дерева.
type Node struct {
	Comment Comment
	Replies []*Node
}
