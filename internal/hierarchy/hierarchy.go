// Package hierarchy размещает комментарий в дереве ответов поста.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/storage"
)

var (
	// ErrInvalidParent - родитель не найден, из другого поста, удалён или помечен как спам.
	ErrInvalidParent = errors.New("invalid parent")
	// ErrMaxDepthExceeded - ответ оказался бы глубже допустимого.
	ErrMaxDepthExceeded = errors.New("max depth exceeded")
)

// ParentLookup - чтение родителя. Реализуется storage.Storage.
type ParentLookup interface {
	CommentByID(ctx context.Context, id int64) (*models.Comment, error)
}

// Manager проверяет родителя и вычисляет глубину и путь нового узла.
type Manager struct {
	lookup   ParentLookup
	maxDepth int32
}

// New создаёт Manager. maxDepth - глубина самого глубокого допустимого ответа (корень = 0).
func New(lookup ParentLookup, maxDepth int32) *Manager {
	return &Manager{lookup: lookup, maxDepth: maxDepth}
}

// MaxDepth - текущий предел глубины.
func (m *Manager) MaxDepth() int32 { return m.maxDepth }

// Resolve загружает родителя (если указан) и размещает узел. Возвращает и родителя,
// чтобы вызывающий мог проверить его ещё раз при записи.
func (m *Manager) Resolve(ctx context.Context, postID uuid.UUID, parentID *int64) (models.Placement, *models.Comment, error) {
	if parentID == nil {
		p, err := Place(postID, nil, m.maxDepth)
		return p, nil, err
	}

	if *parentID <= 0 {
		return models.Placement{}, nil, ErrInvalidParent
	}

	parent, err := m.lookup.CommentByID(ctx, *parentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Placement{}, nil, ErrInvalidParent
		}
		return models.Placement{}, nil, fmt.Errorf("hierarchy: load parent %d: %w", *parentID, err)
	}

	p, err := Place(postID, parent, m.maxDepth)
	if err != nil {
		return models.Placement{}, nil, err
	}

	return p, parent, nil
}

// Place - чистая функция размещения.
//   - без родителя: глубина 0, пустой путь;
//   - родитель из другого поста, удалённый или спам: ErrInvalidParent;
//   - глубина родителя + 1 больше maxDepth: ErrMaxDepthExceeded;
//   - путь = путь родителя + "/" + id родителя.
func Place(postID uuid.UUID, parent *models.Comment, maxDepth int32) (models.Placement, error) {
	if parent == nil {
		return models.Placement{Depth: 0, Path: ""}, nil
	}

	if parent.PostID != postID {
		return models.Placement{}, ErrInvalidParent
	}

	switch parent.Status {
	case models.StatusDeleted, models.StatusSpam:
		return models.Placement{}, ErrInvalidParent
	}

	depth := parent.Depth + 1
	if depth > maxDepth {
		return models.Placement{}, ErrMaxDepthExceeded
	}

	id := parent.ID
	return models.Placement{
		ParentID: &id,
		Depth:    depth,
		Path:     ChildPath(parent.Path, parent.ID),
	}, nil
}

// ChildPath - путь прямого потомка узла с данным путём и id.
func ChildPath(parentPath string, parentID int64) string {
	return parentPath + "/" + strconv.FormatInt(parentID, 10)
}

// Ancestors разбирает путь в список id предков от корня к родителю.
func Ancestors(path string) ([]int64, error) {
	if path == "" {
		return nil, nil
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]int64, 0, len(parts))

	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("hierarchy: malformed path %q", path)
		}
		out = append(out, id)
	}

	return out, nil
}
