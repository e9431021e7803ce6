package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/storage"
	"github.com/pribylovaa/comments-moderation/pkg/log"
)

// Approve - одобрение модератором (pending -> approved, spam -> approved).
//
// Поведение/ошибки:
//   - ErrForbidden - пустой moderatorID;
//   - ErrNotFound - нет комментария;
//   - ErrAlreadyApproved - уже одобрен (в том числе конкурентным вызовом);
//   - ErrCommentDeleted - комментарий удалён;
//   - ErrInternal - прочие ошибки хранилища.
func (s *Service) Approve(ctx context.Context, id int64, moderatorID uuid.UUID) (*models.Comment, error) {
	const op = "service/moderation/Approve"

	c, err := s.transition(ctx, op, id, moderatorID, models.StatusApproved, ErrAlreadyApproved)
	if err != nil {
		return nil, err
	}

	s.metrics.ModerationAction("approve")
	return c, nil
}

// MarkSpam - пометка спамом модератором (pending -> spam, approved -> spam).
//
// Поведение/ошибки: как у Approve, вместо ErrAlreadyApproved - ErrAlreadySpam.
func (s *Service) MarkSpam(ctx context.Context, id int64, moderatorID uuid.UUID) (*models.Comment, error) {
	const op = "service/moderation/MarkSpam"

	c, err := s.transition(ctx, op, id, moderatorID, models.StatusSpam, ErrAlreadySpam)
	if err != nil {
		return nil, err
	}

	s.metrics.ModerationAction("spam")
	return c, nil
}

// transition выполняет compare-and-set статуса. Проигравший в гонке перечитывает
// запись и сообщает ту же ошибку, что получил бы, придя вторым.
func (s *Service) transition(ctx context.Context, op string, id int64, moderatorID uuid.UUID, to models.Status, already error) (*models.Comment, error) {
	lg := log.From(ctx).With("op", op, "id", id, "moderator_id", moderatorID.String())

	if moderatorID == uuid.Nil {
		lg.Warn("forbidden: empty moderator id")
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	c, err := s.load(ctx, lg, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := guardTransition(c.Status, to, already); err != nil {
		lg.Warn("transition rejected", "status", string(c.Status), "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result, err := s.storage.UpdateStatus(ctx, id, storage.StatusUpdate{
		From:        c.Status,
		To:          to,
		ModeratorID: moderatorID,
		At:          s.now().UTC(),
	})
	if err == nil {
		lg.Info("status changed", "from", string(c.Status), "to", string(to))
		return result, nil
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		lg.Warn("comment vanished")
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrConflict):
		cur, rerr := s.load(ctx, lg, id)
		if rerr != nil {
			return nil, fmt.Errorf("%s: %w", op, rerr)
		}

		if gerr := guardTransition(cur.Status, to, already); gerr != nil {
			lg.Warn("lost status race", "status", string(cur.Status))
			return nil, fmt.Errorf("%s: %w", op, gerr)
		}

		lg.Warn("status changed concurrently", "status", string(cur.Status))
		return nil, fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		lg.Error("storage error on UpdateStatus", "err", err)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}
}

// guardTransition - допустимость перехода из текущего статуса.
func guardTransition(from, to models.Status, already error) error {
	switch {
	case from == models.StatusDeleted:
		return ErrCommentDeleted
	case from == to:
		return already
	default:
		return nil
	}
}
