package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	kindUser  = "user"
	kindGuest = "guest"
)

// restoreTimeout - дедлайн отката пометки удаления.
const restoreTimeout = 5 * time.Second

// commentDoc - представление комментария в коллекции comments.
type commentDoc struct {
	ID       int64  `bson:"_id"`
	PostID   string `bson:"post_id"`
	ParentID *int64 `bson:"parent_id"`
	Depth    int32  `bson:"depth"`
	Path     string `bson:"path"`

	AuthorKind        string `bson:"author_kind"`
	AuthorUserID      string `bson:"author_user_id,omitempty"`
	AuthorName        string `bson:"author_name"`
	GuestEmail        string `bson:"guest_email,omitempty"`
	GuestEmailLower   string `bson:"guest_email_lower,omitempty"`
	GuestPasswordHash string `bson:"guest_password_hash,omitempty"`

	RawContent      string              `bson:"raw_content"`
	RenderedContent string              `bson:"rendered_content"`
	ContentHash     string              `bson:"content_hash"`
	DetectedLinks   []string            `bson:"detected_links"`
	LinkPreview     *models.LinkPreview `bson:"link_preview"`

	Status        string               `bson:"status"`
	SpamScore     int                  `bson:"spam_score"`
	SpamReasons   []string             `bson:"spam_reasons"`
	SpamBreakdown models.SpamBreakdown `bson:"spam_breakdown"`
	ApprovedAt    *time.Time           `bson:"approved_at"`
	ApprovedBy    string               `bson:"approved_by,omitempty"`
	ModeratedAt   *time.Time           `bson:"moderated_at"`
	ModeratedBy   string               `bson:"moderated_by,omitempty"`
	Version       int64                `bson:"version"`

	IPAddress string    `bson:"ip_address"`
	UserAgent string    `bson:"user_agent"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoDB DateTime хранит миллисекунды.
func toMS(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

// PostExists сообщает, зарегистрирован ли пост в коллекции posts.
func (m *Mongo) PostExists(ctx context.Context, postID uuid.UUID) (bool, error) {
	const op = "storage/mongo/PostExists"

	n, err := m.posts.CountDocuments(ctx, bson.D{{Key: "_id", Value: postID.String()}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

// CreateComment вставляет комментарий.
// Транзакций нет, поэтому родитель проверяется до вставки и ещё раз после неё:
// удаление сначала помечает узел как deleted и только потом считает ответы,
// так что ответ, вставленный в гонке с удалением, либо будет замечен удалением,
// либо сам увидит deleted при повторной проверке и откатится.
func (m *Mongo) CreateComment(ctx context.Context, c models.Comment) (*models.Comment, error) {
	const op = "storage/mongo/CreateComment"

	exists, err := m.PostExists(ctx, c.PostID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrPostNotFound)
	}

	if c.ParentID != nil {
		if err := m.checkParent(ctx, c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	id, err := m.nextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := toMS(time.Now())
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	c.ID = id
	c.Version = 1
	c.CreatedAt = toMS(c.CreatedAt)
	c.UpdatedAt = c.CreatedAt

	if _, err := m.comments.InsertOne(ctx, toDoc(c)); err != nil {
		return nil, fmt.Errorf("%s: insert: %w", op, err)
	}

	if c.ParentID != nil {
		if err := m.checkParent(ctx, c); err != nil {
			_, _ = m.comments.DeleteOne(context.WithoutCancel(ctx), bson.D{{Key: "_id", Value: id}})
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	out := fromDoc(toDoc(c))
	return &out, nil
}

// checkParent сверяет размещение с текущим состоянием родителя.
func (m *Mongo) checkParent(ctx context.Context, c models.Comment) error {
	var parent commentDoc
	err := m.comments.FindOne(ctx, bson.D{{Key: "_id", Value: *c.ParentID}}).Decode(&parent)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return storage.ErrParentNotFound
		}
		return fmt.Errorf("find parent: %w", err)
	}

	switch {
	case parent.PostID != c.PostID.String(),
		parent.Depth+1 != c.Depth,
		parent.Path+"/"+strconv.FormatInt(parent.ID, 10) != c.Path,
		parent.Status == string(models.StatusDeleted),
		parent.Status == string(models.StatusSpam):
		return storage.ErrParentNotFound
	}

	return nil
}

// nextID выдаёт следующий id из счётчика comments.
func (m *Mongo) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}

	err := m.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: commentsCollection}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}

	return counter.Seq, nil
}

// CommentByID возвращает комментарий по id.
func (m *Mongo) CommentByID(ctx context.Context, id int64) (*models.Comment, error) {
	const op = "storage/mongo/CommentByID"

	var doc commentDoc
	if err := m.comments.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c := fromDoc(doc)
	return &c, nil
}

// UpdateStatus - compare-and-set статуса одним FindOneAndUpdate.
func (m *Mongo) UpdateStatus(ctx context.Context, id int64, upd storage.StatusUpdate) (*models.Comment, error) {
	const op = "storage/mongo/UpdateStatus"

	at := toMS(upd.At)
	moderator := upd.ModeratorID.String()

	set := bson.D{
		{Key: "status", Value: string(upd.To)},
		{Key: "moderated_by", Value: moderator},
		{Key: "moderated_at", Value: at},
		{Key: "updated_at", Value: at},
	}

	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}}}
	if upd.To == models.StatusApproved {
		set = append(set,
			bson.E{Key: "approved_at", Value: at},
			bson.E{Key: "approved_by", Value: moderator},
		)
	} else {
		set = append(set, bson.E{Key: "approved_at", Value: nil})
		update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: "approved_by", Value: ""}}})
	}
	update = append(update, bson.E{Key: "$set", Value: set})

	filter := bson.D{{Key: "_id", Value: id}, {Key: "status", Value: string(upd.From)}}

	c, err := m.findAndUpdate(ctx, filter, update)
	if err == nil {
		return c, nil
	}

	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, m.missingOrConflict(ctx, id))
}

// UpdateContent применяет правку при совпадении версии.
func (m *Mongo) UpdateContent(ctx context.Context, upd storage.ContentUpdate) (*models.Comment, error) {
	const op = "storage/mongo/UpdateContent"

	set := bson.D{
		{Key: "raw_content", Value: upd.RawContent},
		{Key: "rendered_content", Value: upd.RenderedContent},
		{Key: "content_hash", Value: storage.ContentHash(upd.RawContent)},
		{Key: "detected_links", Value: nonNil(upd.DetectedLinks)},
		{Key: "link_preview", Value: previewValue(upd.LinkPreview)},
		{Key: "updated_at", Value: toMS(upd.UpdatedAt)},
	}

	if upd.Spam != nil {
		set = append(set,
			bson.E{Key: "spam_score", Value: upd.Spam.Score},
			bson.E{Key: "spam_reasons", Value: nonNil(upd.Spam.Reasons)},
			bson.E{Key: "spam_breakdown", Value: upd.Spam.Breakdown},
		)
	}

	if upd.Status != nil {
		set = append(set, bson.E{Key: "status", Value: string(*upd.Status)})
	}

	filter := bson.D{
		{Key: "_id", Value: upd.ID},
		{Key: "version", Value: upd.Version},
		{Key: "status", Value: bson.D{{Key: "$ne", Value: string(models.StatusDeleted)}}},
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
	}

	c, err := m.findAndUpdate(ctx, filter, update)
	if err == nil {
		return c, nil
	}

	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, m.missingOrConflict(ctx, upd.ID))
}

// DeleteComment помечает узел удалённым; если ответов нет, удаляет его физически
// и поднимается вверх, убирая мягко удалённых предков без ответов.
// Если лист не удалось удалить, пометка откатывается к прежнему документу,
// иначе повторное удаление упёрлось бы в уже удалённый узел.
func (m *Mongo) DeleteComment(ctx context.Context, id int64, at time.Time) (storage.DeleteResult, error) {
	const op = "storage/mongo/DeleteComment"

	var res storage.DeleteResult

	doc, err := m.markDeleted(ctx, id, at)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return res, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return res, fmt.Errorf("%s: %w", op, err)
	}

	children, err := m.hasChildren(ctx, id)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, errors.Join(err, m.restore(ctx, doc)))
	}

	if children {
		res.Soft = true
		return res, nil
	}

	if _, err := m.comments.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return res, fmt.Errorf("%s: %w", op, errors.Join(err, m.restore(ctx, doc)))
	}

	for parentID := doc.ParentID; parentID != nil; {
		var parent commentDoc
		err := m.comments.FindOne(ctx, bson.D{
			{Key: "_id", Value: *parentID},
			{Key: "status", Value: string(models.StatusDeleted)},
		}).Decode(&parent)
		if err != nil {
			if errors.Is(err, mongodriver.ErrNoDocuments) {
				break
			}
			return res, fmt.Errorf("%s: %w", op, err)
		}

		more, err := m.hasChildren(ctx, parent.ID)
		if err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
		if more {
			break
		}

		dr, err := m.comments.DeleteOne(ctx, bson.D{
			{Key: "_id", Value: parent.ID},
			{Key: "status", Value: string(models.StatusDeleted)},
		})
		if err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
		if dr.DeletedCount == 0 {
			break
		}

		res.Purged = append(res.Purged, parent.ID)
		parentID = parent.ParentID
	}

	return res, nil
}

// markDeleted заменяет содержимое плейсхолдером и возвращает документ до изменения.
func (m *Mongo) markDeleted(ctx context.Context, id int64, at time.Time) (commentDoc, error) {
	var prev commentDoc
	err := m.comments.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "status", Value: string(models.StatusDeleted)},
				{Key: "raw_content", Value: models.DeletedPlaceholder},
				{Key: "rendered_content", Value: models.DeletedPlaceholder},
				{Key: "detected_links", Value: []string{}},
				{Key: "link_preview", Value: nil},
				{Key: "updated_at", Value: toMS(at)},
			}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&prev)

	return prev, err
}

// restore возвращает документ, сохранённый markDeleted, если после пометки
// его никто не менял. Работает и после отмены ctx запроса.
func (m *Mongo) restore(ctx context.Context, prev commentDoc) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()

	_, err := m.comments.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: prev.ID},
		{Key: "status", Value: string(models.StatusDeleted)},
		{Key: "version", Value: prev.Version + 1},
	}, prev)
	if err != nil {
		return fmt.Errorf("restore after failed delete: %w", err)
	}

	return nil
}

func (m *Mongo) hasChildren(ctx context.Context, id int64) (bool, error) {
	n, err := m.comments.CountDocuments(ctx, bson.D{{Key: "parent_id", Value: id}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count children: %w", err)
	}

	return n > 0, nil
}

// ListByPost возвращает комментарии поста в порядке (depth, created_at, _id).
func (m *Mongo) ListByPost(ctx context.Context, postID uuid.UUID) ([]models.Comment, error) {
	const op = "storage/mongo/ListByPost"

	cur, err := m.comments.Find(ctx,
		bson.D{{Key: "post_id", Value: postID.String()}},
		options.Find().SetSort(bson.D{{Key: "depth", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: find: %w", op, err)
	}
	defer cur.Close(ctx)

	out := make([]models.Comment, 0)
	for cur.Next(ctx) {
		var doc commentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}
		out = append(out, fromDoc(doc))
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: cursor: %w", op, err)
	}

	return out, nil
}

// CountRepeats - три счётчика по окнам времени.
func (m *Mongo) CountRepeats(ctx context.Context, q storage.RepeatQuery) (storage.RepeatCounts, error) {
	const op = "storage/mongo/CountRepeats"

	var out storage.RepeatCounts

	count := func(filter bson.D) (int, error) {
		if q.ExcludeID != 0 {
			filter = append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$ne", Value: q.ExcludeID}}})
		}
		n, err := m.comments.CountDocuments(ctx, filter)
		return int(n), err
	}

	recent := bson.D{{Key: "$gte", Value: toMS(q.RecentSince)}}

	var err error
	if q.IPAddress != "" {
		out.ByIP, err = count(bson.D{{Key: "ip_address", Value: q.IPAddress}, {Key: "created_at", Value: recent}})
		if err != nil {
			return storage.RepeatCounts{}, fmt.Errorf("%s: by ip: %w", op, err)
		}
	}

	if email := strings.ToLower(q.GuestEmail); email != "" {
		out.ByEmail, err = count(bson.D{{Key: "guest_email_lower", Value: email}, {Key: "created_at", Value: recent}})
		if err != nil {
			return storage.RepeatCounts{}, fmt.Errorf("%s: by email: %w", op, err)
		}
	}

	out.Duplicates, err = count(bson.D{
		{Key: "content_hash", Value: storage.ContentHash(q.RawContent)},
		{Key: "created_at", Value: bson.D{{Key: "$gte", Value: toMS(q.DuplicateSince)}}},
	})
	if err != nil {
		return storage.RepeatCounts{}, fmt.Errorf("%s: duplicates: %w", op, err)
	}

	return out, nil
}

func (m *Mongo) findAndUpdate(ctx context.Context, filter, update bson.D) (*models.Comment, error) {
	var doc commentDoc
	err := m.comments.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, err
	}

	c := fromDoc(doc)
	return &c, nil
}

// missingOrConflict различает отсутствие записи и невыполненное условие записи.
func (m *Mongo) missingOrConflict(ctx context.Context, id int64) error {
	n, err := m.comments.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}

	if n == 0 {
		return storage.ErrNotFound
	}

	return storage.ErrConflict
}

func toDoc(c models.Comment) commentDoc {
	doc := commentDoc{
		ID:              c.ID,
		PostID:          c.PostID.String(),
		ParentID:        c.ParentID,
		Depth:           c.Depth,
		Path:            c.Path,
		RawContent:      c.RawContent,
		RenderedContent: c.RenderedContent,
		ContentHash:     storage.ContentHash(c.RawContent),
		DetectedLinks:   nonNil(c.DetectedLinks),
		LinkPreview:     previewValue(c.LinkPreview),
		Status:          string(c.Status),
		SpamScore:       c.Spam.Score,
		SpamReasons:     nonNil(c.Spam.Reasons),
		SpamBreakdown:   c.Spam.Breakdown,
		ApprovedAt:      msPtr(c.ApprovedAt),
		ApprovedBy:      uuidString(c.ApprovedBy),
		ModeratedAt:     msPtr(c.ModeratedAt),
		ModeratedBy:     uuidString(c.ModeratedBy),
		Version:         c.Version,
		IPAddress:       c.IPAddress,
		UserAgent:       c.UserAgent,
		CreatedAt:       toMS(c.CreatedAt),
		UpdatedAt:       toMS(c.UpdatedAt),
	}

	if g, ok := c.Author.Guest(); ok {
		doc.AuthorKind = kindGuest
		doc.AuthorName = g.Name
		doc.GuestEmail = g.Email
		doc.GuestEmailLower = strings.ToLower(g.Email)
		doc.GuestPasswordHash = g.PasswordHash
	} else {
		u, _ := c.Author.User()
		doc.AuthorKind = kindUser
		doc.AuthorUserID = u.ID.String()
		doc.AuthorName = u.DisplayName
	}

	return doc
}

func fromDoc(doc commentDoc) models.Comment {
	c := models.Comment{
		ID:              doc.ID,
		ParentID:        doc.ParentID,
		Depth:           doc.Depth,
		Path:            doc.Path,
		RawContent:      doc.RawContent,
		RenderedContent: doc.RenderedContent,
		DetectedLinks:   nonNil(doc.DetectedLinks),
		LinkPreview:     doc.LinkPreview,
		Status:          models.Status(doc.Status),
		Spam: models.SpamAssessment{
			Score:     doc.SpamScore,
			Reasons:   nonNil(doc.SpamReasons),
			Breakdown: doc.SpamBreakdown,
		},
		ApprovedAt:  utcPtr(doc.ApprovedAt),
		ApprovedBy:  parseUUID(doc.ApprovedBy),
		ModeratedAt: utcPtr(doc.ModeratedAt),
		ModeratedBy: parseUUID(doc.ModeratedBy),
		Version:     doc.Version,
		IPAddress:   doc.IPAddress,
		UserAgent:   doc.UserAgent,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}

	c.PostID, _ = uuid.Parse(doc.PostID)

	if doc.AuthorKind == kindGuest {
		c.Author = models.GuestAuthor(models.Guest{
			Name:         doc.AuthorName,
			Email:        doc.GuestEmail,
			PasswordHash: doc.GuestPasswordHash,
		})
	} else {
		userID, _ := uuid.Parse(doc.AuthorUserID)
		c.Author = models.UserAuthor(models.RegisteredUser{ID: userID, DisplayName: doc.AuthorName})
	}

	return c
}

func previewValue(p *models.LinkPreview) *models.LinkPreview {
	if p.Empty() {
		return nil
	}
	return p
}

func msPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := toMS(*t)
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func parseUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
