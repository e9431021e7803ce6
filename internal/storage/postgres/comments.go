package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/storage"
)

const commentColumns = `
	id, post_id, parent_id, depth, path,
	author_kind, author_user_id, author_name, guest_email, guest_password_hash,
	raw_content, rendered_content, detected_links, link_preview,
	status, spam_score, spam_reasons, spam_breakdown,
	approved_at, approved_by, moderated_at, moderated_by, version,
	ip_address, user_agent, created_at, updated_at`

const (
	kindUser  = "user"
	kindGuest = "guest"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// PostExists сообщает, зарегистрирован ли пост.
func (s *Storage) PostExists(ctx context.Context, postID uuid.UUID) (bool, error) {
	const op = "storage/postgres/PostExists"

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, postID).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

// CreateComment вставляет комментарий, повторно проверяя родителя под блокировкой FOR SHARE.
func (s *Storage) CreateComment(ctx context.Context, c models.Comment) (*models.Comment, error) {
	const op = "storage/postgres/CreateComment"

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if c.ParentID != nil {
		if err := lockParent(ctx, tx, c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	kind, userID, name, email, hash := authorColumns(c.Author)

	preview, err := previewArg(c.LinkPreview)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	breakdown, err := json.Marshal(c.Spam.Breakdown)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `
		INSERT INTO comments (
			post_id, parent_id, depth, path,
			author_kind, author_user_id, author_name, guest_email, guest_password_hash,
			raw_content, rendered_content, detected_links, link_preview, content_hash,
			status, spam_score, spam_reasons, spam_breakdown,
			approved_at, approved_by,
			ip_address, user_agent, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20,
			$21, $22, $23, $23
		)
		RETURNING ` + commentColumns

	row := tx.QueryRow(ctx, query,
		c.PostID, c.ParentID, c.Depth, c.Path,
		kind, userID, name, email, hash,
		c.RawContent, c.RenderedContent, nonNil(c.DetectedLinks), preview, storage.ContentHash(c.RawContent),
		string(c.Status), c.Spam.Score, nonNil(c.Spam.Reasons), breakdown,
		c.ApprovedAt, uuidArg(c.ApprovedBy),
		c.IPAddress, c.UserAgent, createdAt(c.CreatedAt),
	)

	out, err := scanComment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			if pgErr.ConstraintName == "comments_parent_id_fkey" {
				return nil, fmt.Errorf("%s: %w", op, storage.ErrParentNotFound)
			}
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPostNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// lockParent берёт FOR SHARE на родителя и сверяет размещение.
func lockParent(ctx context.Context, tx pgx.Tx, c models.Comment) error {
	var (
		postID uuid.UUID
		depth  int32
		path   string
		status string
	)

	err := tx.QueryRow(ctx, `
		SELECT post_id, depth, path, status
		FROM comments
		WHERE id = $1
		FOR SHARE`, *c.ParentID,
	).Scan(&postID, &depth, &path, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrParentNotFound
		}
		return err
	}

	switch {
	case postID != c.PostID,
		depth+1 != c.Depth,
		path+"/"+strconv.FormatInt(*c.ParentID, 10) != c.Path,
		status == string(models.StatusDeleted),
		status == string(models.StatusSpam):
		return storage.ErrParentNotFound
	}

	return nil
}

// CommentByID возвращает комментарий по id.
func (s *Storage) CommentByID(ctx context.Context, id int64) (*models.Comment, error) {
	const op = "storage/postgres/CommentByID"

	c, err := scanComment(s.db.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return c, nil
}

// UpdateStatus - compare-and-set статуса.
func (s *Storage) UpdateStatus(ctx context.Context, id int64, upd storage.StatusUpdate) (*models.Comment, error) {
	const op = "storage/postgres/UpdateStatus"

	query := `
		UPDATE comments SET
			status       = $3,
			moderated_by = $4,
			moderated_at = $5,
			approved_at  = CASE WHEN $3 = 'approved' THEN $5 ELSE NULL END,
			approved_by  = CASE WHEN $3 = 'approved' THEN $4 ELSE NULL END,
			version      = version + 1,
			updated_at   = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + commentColumns

	c, err := scanComment(s.db.QueryRow(ctx, query, id, string(upd.From), string(upd.To), upd.ModeratorID, upd.At.UTC()))
	if err == nil {
		return c, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, s.missingOrConflict(ctx, id))
}

// UpdateContent применяет правку с проверкой версии.
func (s *Storage) UpdateContent(ctx context.Context, upd storage.ContentUpdate) (*models.Comment, error) {
	const op = "storage/postgres/UpdateContent"

	preview, err := previewArg(upd.LinkPreview)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		score     any
		reasons   any
		breakdown any
		status    any
	)

	if upd.Spam != nil {
		b, err := json.Marshal(upd.Spam.Breakdown)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		score, reasons, breakdown = upd.Spam.Score, nonNil(upd.Spam.Reasons), b
	}

	if upd.Status != nil {
		status = string(*upd.Status)
	}

	query := `
		UPDATE comments SET
			raw_content      = $3,
			rendered_content = $4,
			detected_links   = $5,
			link_preview     = $6,
			content_hash     = $7,
			spam_score       = COALESCE($8::int, spam_score),
			spam_reasons     = COALESCE($9::text[], spam_reasons),
			spam_breakdown   = COALESCE($10::jsonb, spam_breakdown),
			status           = COALESCE($11::text, status),
			version          = version + 1,
			updated_at       = $12
		WHERE id = $1 AND version = $2 AND status <> 'deleted'
		RETURNING ` + commentColumns

	c, err := scanComment(s.db.QueryRow(ctx, query,
		upd.ID, upd.Version,
		upd.RawContent, upd.RenderedContent, nonNil(upd.DetectedLinks), preview, storage.ContentHash(upd.RawContent),
		score, reasons, breakdown, status,
		upd.UpdatedAt.UTC(),
	))
	if err == nil {
		return c, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, s.missingOrConflict(ctx, upd.ID))
}

// DeleteComment - мягкое или физическое удаление с очисткой осиротевших мягко удалённых предков.
func (s *Storage) DeleteComment(ctx context.Context, id int64, at time.Time) (storage.DeleteResult, error) {
	const op = "storage/postgres/DeleteComment"

	var res storage.DeleteResult

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	parentID, _, err := lockForDelete(ctx, tx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return res, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return res, fmt.Errorf("%s: %w", op, err)
	}

	children, err := hasChildren(ctx, tx, id)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	if children {
		_, err := tx.Exec(ctx, `
			UPDATE comments SET
				status           = 'deleted',
				raw_content      = $2,
				rendered_content = $2,
				detected_links   = '{}',
				link_preview     = NULL,
				version          = version + 1,
				updated_at       = $3
			WHERE id = $1`, id, models.DeletedPlaceholder, at.UTC())
		if err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}

		res.Soft = true
	} else {
		if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id); err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}

		for parentID != nil {
			next, status, err := lockForDelete(ctx, tx, *parentID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					break
				}
				return res, fmt.Errorf("%s: %w", op, err)
			}

			if status != string(models.StatusDeleted) {
				break
			}

			more, err := hasChildren(ctx, tx, *parentID)
			if err != nil {
				return res, fmt.Errorf("%s: %w", op, err)
			}
			if more {
				break
			}

			if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE id = $1`, *parentID); err != nil {
				return res, fmt.Errorf("%s: %w", op, err)
			}

			res.Purged = append(res.Purged, *parentID)
			parentID = next
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.DeleteResult{}, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func lockForDelete(ctx context.Context, tx pgx.Tx, id int64) (*int64, string, error) {
	var (
		parentID *int64
		status   string
	)

	err := tx.QueryRow(ctx, `SELECT parent_id, status FROM comments WHERE id = $1 FOR UPDATE`, id).Scan(&parentID, &status)
	return parentID, status, err
}

func hasChildren(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM comments WHERE parent_id = $1)`, id).Scan(&exists)
	return exists, err
}

// ListByPost возвращает все комментарии поста в порядке (depth, created_at, id).
func (s *Storage) ListByPost(ctx context.Context, postID uuid.UUID) ([]models.Comment, error) {
	const op = "storage/postgres/ListByPost"

	rows, err := s.db.Query(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE post_id = $1
		ORDER BY depth, created_at, id`, postID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// CountRepeats - счётчики повторов одним запросом.
func (s *Storage) CountRepeats(ctx context.Context, q storage.RepeatQuery) (storage.RepeatCounts, error) {
	const op = "storage/postgres/CountRepeats"

	query := `
		SELECT
			(SELECT count(*) FROM comments
				WHERE $1 <> '' AND ip_address = $1 AND created_at >= $4 AND id <> $6),
			(SELECT count(*) FROM comments
				WHERE $2 <> '' AND lower(guest_email) = lower($2) AND created_at >= $4 AND id <> $6),
			(SELECT count(*) FROM comments
				WHERE content_hash = $3 AND created_at >= $5 AND id <> $6)`

	var out storage.RepeatCounts
	err := s.db.QueryRow(ctx, query,
		q.IPAddress, q.GuestEmail, storage.ContentHash(q.RawContent),
		q.RecentSince.UTC(), q.DuplicateSince.UTC(), q.ExcludeID,
	).Scan(&out.ByIP, &out.ByEmail, &out.Duplicates)
	if err != nil {
		return storage.RepeatCounts{}, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// missingOrConflict различает отсутствие записи и невыполненное условие записи.
func (s *Storage) missingOrConflict(ctx context.Context, id int64) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM comments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}

	if !exists {
		return storage.ErrNotFound
	}

	return storage.ErrConflict
}

func scanComment(row rowScanner) (*models.Comment, error) {
	var (
		c            models.Comment
		kind         string
		authorUserID pgtype.UUID
		authorName   string
		guestEmail   *string
		guestHash    *string
		preview      []byte
		status       string
		breakdown    []byte
		approvedBy   pgtype.UUID
		moderatedBy  pgtype.UUID
	)

	err := row.Scan(
		&c.ID, &c.PostID, &c.ParentID, &c.Depth, &c.Path,
		&kind, &authorUserID, &authorName, &guestEmail, &guestHash,
		&c.RawContent, &c.RenderedContent, &c.DetectedLinks, &preview,
		&status, &c.Spam.Score, &c.Spam.Reasons, &breakdown,
		&c.ApprovedAt, &approvedBy, &c.ModeratedAt, &moderatedBy, &c.Version,
		&c.IPAddress, &c.UserAgent, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	switch kind {
	case kindGuest:
		g := models.Guest{Name: authorName}
		if guestEmail != nil {
			g.Email = *guestEmail
		}
		if guestHash != nil {
			g.PasswordHash = *guestHash
		}
		c.Author = models.GuestAuthor(g)
	default:
		c.Author = models.UserAuthor(models.RegisteredUser{
			ID:          uuid.UUID(authorUserID.Bytes),
			DisplayName: authorName,
		})
	}

	c.Status = models.Status(status)
	c.ApprovedBy = uuidPtr(approvedBy)
	c.ModeratedBy = uuidPtr(moderatedBy)

	if len(preview) > 0 {
		var p models.LinkPreview
		if err := json.Unmarshal(preview, &p); err != nil {
			return nil, fmt.Errorf("decode link_preview: %w", err)
		}
		c.LinkPreview = &p
	}

	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &c.Spam.Breakdown); err != nil {
			return nil, fmt.Errorf("decode spam_breakdown: %w", err)
		}
	}

	if c.DetectedLinks == nil {
		c.DetectedLinks = []string{}
	}
	if c.Spam.Reasons == nil {
		c.Spam.Reasons = []string{}
	}

	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	return &c, nil
}

func authorColumns(a models.Author) (kind string, userID any, name string, email, hash any) {
	if g, ok := a.Guest(); ok {
		return kindGuest, nil, g.Name, g.Email, g.PasswordHash
	}

	u, _ := a.User()
	return kindUser, u.ID, u.DisplayName, nil, nil
}

func previewArg(p *models.LinkPreview) (any, error) {
	if p.Empty() {
		return nil, nil
	}

	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return b, nil
}

func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func uuidPtr(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
