package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/storage"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
)

// testTimeout - общий дедлайн на операции с БД в тестах.
const testTimeout = 10 * time.Second

// TestMain поднимает MongoDB в контейнере один раз на пакет.
// Каждый тест работает в своей базе с уникальным именем (см. mustNewMongo).
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
	}

	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo testcontainer: %v\n", err)
		os.Exit(1)
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}

	_ = os.Setenv("DATABASE_URL", fmt.Sprintf("mongodb://%s:%s", host, port.Port()))

	code := m.Run()

	_ = mongoC.Terminate(context.Background())
	os.Exit(code)
}

func mustNewMongo(t *testing.T) *Mongo {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	uri := os.Getenv("DATABASE_URL") + "/comments_test_" + uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	m, err := New(ctx, uri)
	require.NoError(t, err, "connect to %s", uri)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = m.db.Drop(ctx)
		m.Close()
	})

	return m
}

func (m *Mongo) addPost(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := m.posts.InsertOne(context.Background(), bson.D{{Key: "_id", Value: id.String()}})
	require.NoError(t, err)
	return id
}

func newComment(postID uuid.UUID, parent *models.Comment, text string) models.Comment {
	c := models.Comment{
		PostID:          postID,
		Author:          models.UserAuthor(models.RegisteredUser{ID: uuid.New(), DisplayName: "alice"}),
		RawContent:      text,
		RenderedContent: "<p>" + text + "</p>",
		Status:          models.StatusApproved,
		IPAddress:       "203.0.113.10",
	}
	if parent != nil {
		id := parent.ID
		c.ParentID = &id
		c.Depth = parent.Depth + 1
		c.Path = fmt.Sprintf("%s/%d", parent.Path, parent.ID)
	}
	return c
}

func TestDatabaseFromURI(t *testing.T) {
	require.Equal(t, "mydb", databaseFromURI("mongodb://localhost:27017/mydb"))
	require.Equal(t, defaultDBName, databaseFromURI("mongodb://localhost:27017"))
	require.Equal(t, defaultDBName, databaseFromURI("::bad::"))
}

func TestDocRoundTrip_Guest(t *testing.T) {
	approved := time.Date(2025, 1, 2, 3, 4, 5, 678_900_000, time.UTC)
	mod := uuid.New()
	c := models.Comment{
		ID:          7,
		PostID:      uuid.New(),
		Author:      models.GuestAuthor(models.Guest{Name: "bob", Email: "Bob@Example.com", PasswordHash: "h"}),
		Status:      models.StatusApproved,
		ApprovedAt:  &approved,
		ApprovedBy:  &mod,
		LinkPreview: &models.LinkPreview{},
	}

	doc := toDoc(c)
	require.Equal(t, "bob@example.com", doc.GuestEmailLower)
	require.Nil(t, doc.LinkPreview, "empty preview is not stored")
	require.Equal(t, approved.Truncate(time.Millisecond), *doc.ApprovedAt)

	back := fromDoc(doc)
	g, ok := back.Author.Guest()
	require.True(t, ok)
	require.Equal(t, "Bob@Example.com", g.Email)
	require.Equal(t, c.PostID, back.PostID)
	require.Equal(t, mod, *back.ApprovedBy)
	require.Nil(t, back.ModeratedBy)
	require.Equal(t, []string{}, back.DetectedLinks)
	require.Equal(t, []string{}, back.Spam.Reasons)
}

func TestIntegration_CreateAndRead(t *testing.T) {
	m := mustNewMongo(t)
	ctx := context.Background()
	post := m.addPost(t)

	_, err := m.CreateComment(ctx, newComment(uuid.New(), nil, "orphan"))
	require.ErrorIs(t, err, storage.ErrPostNotFound)

	root, err := m.CreateComment(ctx, newComment(post, nil, "root"))
	require.NoError(t, err)
	require.EqualValues(t, 1, root.ID)
	require.EqualValues(t, 1, root.Version)

	reply, err := m.CreateComment(ctx, newComment(post, root, "reply"))
	require.NoError(t, err)
	require.EqualValues(t, 2, reply.ID)
	require.Equal(t, "/1", reply.Path)

	got, err := m.CommentByID(ctx, reply.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, *got.ParentID)
	require.Equal(t, post, got.PostID)

	_, err = m.CommentByID(ctx, 99)
	require.ErrorIs(t, err, storage.ErrNotFound)

	bad := newComment(post, root, "x")
	bad.Path = "/5"
	_, err = m.CreateComment(ctx, bad)
	require.ErrorIs(t, err, storage.ErrParentNotFound)

	list, err := m.ListByPost(ctx, post)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, root.ID, list[0].ID)
	require.Equal(t, reply.ID, list[1].ID)
}

func TestIntegration_StatusCAS(t *testing.T) {
	m := mustNewMongo(t)
	ctx := context.Background()
	post := m.addPost(t)

	c := newComment(post, nil, "hold")
	c.Status = models.StatusPending
	created, err := m.CreateComment(ctx, c)
	require.NoError(t, err)

	mod := uuid.New()
	upd := storage.StatusUpdate{From: models.StatusPending, To: models.StatusApproved, ModeratorID: mod, At: time.Now()}

	got, err := m.UpdateStatus(ctx, created.ID, upd)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, got.Status)
	require.Equal(t, mod, *got.ApprovedBy)
	require.NotNil(t, got.ModeratedAt)

	_, err = m.UpdateStatus(ctx, created.ID, upd)
	require.ErrorIs(t, err, storage.ErrConflict)

	got, err = m.UpdateStatus(ctx, created.ID, storage.StatusUpdate{From: models.StatusApproved, To: models.StatusSpam, ModeratorID: mod, At: time.Now()})
	require.NoError(t, err)
	require.Nil(t, got.ApprovedBy)
	require.Nil(t, got.ApprovedAt)

	_, err = m.UpdateStatus(ctx, 404, upd)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Ответ спаму невозможен.
	_, err = m.CreateComment(ctx, newComment(post, got, "reply"))
	require.ErrorIs(t, err, storage.ErrParentNotFound)
}

func TestIntegration_UpdateContent(t *testing.T) {
	m := mustNewMongo(t)
	ctx := context.Background()
	post := m.addPost(t)

	created, err := m.CreateComment(ctx, newComment(post, nil, "v1"))
	require.NoError(t, err)

	got, err := m.UpdateContent(ctx, storage.ContentUpdate{
		ID: created.ID, Version: 1, RawContent: "v2", RenderedContent: "<p>v2</p>",
		LinkPreview: &models.LinkPreview{Title: "t"},
		Spam:        &models.SpamAssessment{Score: 20, Reasons: []string{"keyword:x"}},
		UpdatedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, "v2", got.RawContent)
	require.Equal(t, "t", got.LinkPreview.Title)
	require.Equal(t, 20, got.Spam.Score)
	require.Equal(t, models.StatusApproved, got.Status)
	require.EqualValues(t, 2, got.Version)

	_, err = m.UpdateContent(ctx, storage.ContentUpdate{ID: created.ID, Version: 1, UpdatedAt: time.Now()})
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = m.UpdateContent(ctx, storage.ContentUpdate{ID: 12345, Version: 1, UpdatedAt: time.Now()})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_DeleteAndPurge(t *testing.T) {
	m := mustNewMongo(t)
	ctx := context.Background()
	post := m.addPost(t)

	root, err := m.CreateComment(ctx, newComment(post, nil, "root"))
	require.NoError(t, err)
	mid, err := m.CreateComment(ctx, newComment(post, root, "mid"))
	require.NoError(t, err)
	leaf, err := m.CreateComment(ctx, newComment(post, mid, "leaf"))
	require.NoError(t, err)

	res, err := m.DeleteComment(ctx, root.ID, time.Now())
	require.NoError(t, err)
	require.True(t, res.Soft)

	got, err := m.CommentByID(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDeleted, got.Status)
	require.Equal(t, models.DeletedPlaceholder, got.RenderedContent)

	res, err = m.DeleteComment(ctx, mid.ID, time.Now())
	require.NoError(t, err)
	require.True(t, res.Soft)

	res, err = m.DeleteComment(ctx, leaf.ID, time.Now())
	require.NoError(t, err)
	require.False(t, res.Soft)
	require.Equal(t, []int64{mid.ID, root.ID}, res.Purged)

	list, err := m.ListByPost(ctx, post)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = m.DeleteComment(ctx, leaf.ID, time.Now())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// Неудачное физическое удаление листа откатывает пометку, и удаление можно повторить.
func TestIntegration_DeleteRestoresOnFailure(t *testing.T) {
	m := mustNewMongo(t)
	ctx := context.Background()
	post := m.addPost(t)

	leaf, err := m.CreateComment(ctx, newComment(post, nil, "leaf"))
	require.NoError(t, err)

	prev, err := m.markDeleted(ctx, leaf.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, string(models.StatusApproved), prev.Status)

	got, err := m.CommentByID(ctx, leaf.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDeleted, got.Status)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, m.restore(cancelled, prev))

	got, err = m.CommentByID(ctx, leaf.ID)
	require.NoError(t, err)
	require.Equal(t, leaf.Status, got.Status)
	require.Equal(t, leaf.RawContent, got.RawContent)
	require.Equal(t, leaf.Version, got.Version)

	res, err := m.DeleteComment(ctx, leaf.ID, time.Now())
	require.NoError(t, err)
	require.False(t, res.Soft)
}

// Откат не затирает запись, изменённую после пометки.
func TestIntegration_RestoreSkipsChangedDocument(t *testing.T) {
	m := mustNewMongo(t)
	ctx := context.Background()
	post := m.addPost(t)

	c, err := m.CreateComment(ctx, newComment(post, nil, "text"))
	require.NoError(t, err)

	prev, err := m.markDeleted(ctx, c.ID, time.Now())
	require.NoError(t, err)
	_, err = m.markDeleted(ctx, c.ID, time.Now())
	require.NoError(t, err)

	require.NoError(t, m.restore(ctx, prev))

	got, err := m.CommentByID(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDeleted, got.Status)
}

func TestIntegration_CountRepeats(t *testing.T) {
	m := mustNewMongo(t)
	ctx := context.Background()
	post := m.addPost(t)

	var last int64
	for i := 0; i < 3; i++ {
		c := newComment(post, nil, "buy now")
		c.Author = models.GuestAuthor(models.Guest{Name: "g", Email: "Spam@Example.com", PasswordHash: "h"})
		created, err := m.CreateComment(ctx, c)
		require.NoError(t, err)
		last = created.ID
	}

	now := time.Now()
	q := storage.RepeatQuery{
		IPAddress:      "203.0.113.10",
		GuestEmail:     "spam@example.com",
		RawContent:     "buy now",
		RecentSince:    now.Add(-time.Hour),
		DuplicateSince: now.Add(-24 * time.Hour),
	}

	counts, err := m.CountRepeats(ctx, q)
	require.NoError(t, err)
	require.Equal(t, storage.RepeatCounts{ByIP: 3, ByEmail: 3, Duplicates: 3}, counts)

	q.ExcludeID = last
	counts, err = m.CountRepeats(ctx, q)
	require.NoError(t, err)
	require.Equal(t, storage.RepeatCounts{ByIP: 2, ByEmail: 2, Duplicates: 2}, counts)

	counts, err = m.CountRepeats(ctx, storage.RepeatQuery{RawContent: "other", RecentSince: now, DuplicateSince: now})
	require.NoError(t, err)
	require.Equal(t, storage.RepeatCounts{}, counts)
}
