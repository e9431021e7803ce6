package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/pkg/log"
)

// ListTree - дерево комментариев поста глазами viewer.
//
// Видимость:
//   - approved видят все;
//   - pending видит только его автор-пользователь;
//   - модератор видит всё, включая спам;
//   - удалённый узел показывается плейсхолдером, только если под ним есть видимые ответы;
//   - ответы скрытого узла скрываются вместе с ним.
//
// Ответы упорядочены по времени создания. Несуществующий пост даёт ErrPostNotFound.
func (s *Service) ListTree(ctx context.Context, postID uuid.UUID, viewer models.Identity) ([]*models.Node, error) {
	const op = "service/tree/ListTree"

	lg := log.From(ctx).With("op", op, "post_id", postID.String())

	if postID == uuid.Nil {
		lg.Warn("invalid argument: empty post_id")
		return nil, fmt.Errorf("%s: %w", op, ErrValidation)
	}

	exists, err := s.storage.PostExists(ctx, postID)
	if err != nil {
		lg.Error("storage error on PostExists", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}
	if !exists {
		lg.Warn("post not found")
		return nil, fmt.Errorf("%s: %w", op, ErrPostNotFound)
	}

	list, err := s.storage.ListByPost(ctx, postID)
	if err != nil {
		lg.Error("storage error on ListByPost", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return buildTree(list, viewer), nil
}

// buildTree собирает дерево из списка, упорядоченного по (depth, created_at, id):
// родитель всегда встречается раньше ответов.
func buildTree(list []models.Comment, viewer models.Identity) []*models.Node {
	nodes := make(map[int64]*models.Node, len(list))
	roots := make([]*models.Node, 0)

	for i := range list {
		n := &models.Node{Comment: list[i], Replies: []*models.Node{}}
		nodes[n.Comment.ID] = n

		if n.Comment.ParentID == nil {
			roots = append(roots, n)
			continue
		}

		if parent, ok := nodes[*n.Comment.ParentID]; ok {
			parent.Replies = append(parent.Replies, n)
		}
	}

	return prune(roots, viewer)
}

func prune(nodes []*models.Node, viewer models.Identity) []*models.Node {
	out := make([]*models.Node, 0, len(nodes))

	for _, n := range nodes {
		if n.Comment.IsDeleted() {
			n.Replies = prune(n.Replies, viewer)
			if len(n.Replies) > 0 {
				n.Comment = *placeholder(n.Comment)
				out = append(out, n)
			}
			continue
		}

		if !canView(&n.Comment, viewer) {
			continue
		}

		n.Replies = prune(n.Replies, viewer)
		out = append(out, n)
	}

	return out
}
