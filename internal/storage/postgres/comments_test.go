package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/storage"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Интеграционные тесты PostgreSQL-хранилища:
// - поднимают postgres:16-alpine через testcontainers-go;
// - применяют миграции из ./migrations;
// - проверяют вставку с повторной проверкой родителя, CAS статуса, версионирование правок,
//   мягкое/физическое удаление с очисткой предков и счётчики повторов.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

func repoRootFromThisFile() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", "..", ".."))
}

func readMigration(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(repoRootFromThisFile(), "migrations", name)
	b, err := os.ReadFile(path)
	require.NoError(t, err, "read migration %s", path)
	return string(b)
}

type fixture struct {
	st   *Storage
	pool *pgxpool.Pool
}

func startPostgres(t *testing.T) *fixture {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432/tcp")
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, readMigration(t, "1_init_comments.up.sql"))
	require.NoError(t, err)

	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	return &fixture{st: st, pool: pool}
}

func (f *fixture) newPost(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.pool.Exec(context.Background(), `INSERT INTO posts (id, title) VALUES ($1, 'post')`, id)
	require.NoError(t, err)
	return id
}

func userComment(postID uuid.UUID, parent *models.Comment, text string) models.Comment {
	c := models.Comment{
		PostID:          postID,
		Author:          models.UserAuthor(models.RegisteredUser{ID: uuid.New(), DisplayName: "alice"}),
		RawContent:      text,
		RenderedContent: "<p>" + text + "</p>",
		DetectedLinks:   []string{},
		Status:          models.StatusApproved,
		Spam:            models.SpamAssessment{Score: 5, Reasons: []string{"length:short"}, Breakdown: models.SpamBreakdown{Length: 5}},
		IPAddress:       "203.0.113.10",
		UserAgent:       "test",
	}
	if parent != nil {
		id := parent.ID
		c.ParentID = &id
		c.Depth = parent.Depth + 1
		c.Path = fmt.Sprintf("%s/%d", parent.Path, parent.ID)
	}
	return c
}

func TestIntegration_CreateAndRead(t *testing.T) {
	f := startPostgres(t)
	ctx := context.Background()
	post := f.newPost(t)

	root := userComment(post, nil, "root")
	root.LinkPreview = &models.LinkPreview{Title: "T", Image: "https://cdn.example.com/i.png"}
	root.DetectedLinks = []string{"https://example.com"}
	created, err := f.st.CreateComment(ctx, root)
	require.NoError(t, err)
	require.Positive(t, created.ID)
	require.EqualValues(t, 1, created.Version)
	require.Equal(t, "T", created.LinkPreview.Title)
	require.Equal(t, []string{"https://example.com"}, created.DetectedLinks)
	require.Equal(t, 5, created.Spam.Breakdown.Length)

	got, err := f.st.CommentByID(ctx, created.ID)
	require.NoError(t, err)
	u, ok := got.Author.User()
	require.True(t, ok)
	require.Equal(t, "alice", u.DisplayName)

	guest := userComment(post, created, "reply")
	guest.Author = models.GuestAuthor(models.Guest{Name: "bob", Email: "Bob@Example.com", PasswordHash: "$2a$hash"})
	guest.Status = models.StatusPending
	reply, err := f.st.CreateComment(ctx, guest)
	require.NoError(t, err)
	require.EqualValues(t, 1, reply.Depth)
	require.Equal(t, fmt.Sprintf("/%d", created.ID), reply.Path)
	g, ok := reply.Author.Guest()
	require.True(t, ok)
	require.Equal(t, "Bob@Example.com", g.Email)

	_, err = f.st.CommentByID(ctx, 999999)
	require.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := f.st.PostExists(ctx, post)
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = f.st.PostExists(ctx, uuid.New())
	require.NoError(t, err)
	require.False(t, exists)

	list, err := f.st.ListByPost(ctx, post)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, created.ID, list[0].ID)
}

func TestIntegration_CreateRejectsStalePlacement(t *testing.T) {
	f := startPostgres(t)
	ctx := context.Background()
	post := f.newPost(t)
	other := f.newPost(t)

	_, err := f.st.CreateComment(ctx, userComment(uuid.New(), nil, "orphan"))
	require.ErrorIs(t, err, storage.ErrPostNotFound)

	root, err := f.st.CreateComment(ctx, userComment(post, nil, "root"))
	require.NoError(t, err)

	// Родитель из другого поста.
	c := userComment(other, root, "x")
	_, err = f.st.CreateComment(ctx, c)
	require.ErrorIs(t, err, storage.ErrParentNotFound)

	// Несогласованный путь.
	c = userComment(post, root, "x")
	c.Path = "/42"
	_, err = f.st.CreateComment(ctx, c)
	require.ErrorIs(t, err, storage.ErrParentNotFound)

	// Родитель помечен как спам после размещения.
	_, err = f.st.UpdateStatus(ctx, root.ID, storage.StatusUpdate{
		From: models.StatusApproved, To: models.StatusSpam, ModeratorID: uuid.New(), At: time.Now(),
	})
	require.NoError(t, err)
	_, err = f.st.CreateComment(ctx, userComment(post, root, "late"))
	require.ErrorIs(t, err, storage.ErrParentNotFound)

	// Родитель исчез.
	_, err = f.st.DeleteComment(ctx, root.ID, time.Now())
	require.NoError(t, err)
	_, err = f.st.CreateComment(ctx, userComment(post, root, "late"))
	require.ErrorIs(t, err, storage.ErrParentNotFound)
}

func TestIntegration_UpdateStatusCAS(t *testing.T) {
	f := startPostgres(t)
	ctx := context.Background()
	post := f.newPost(t)

	c := userComment(post, nil, "pending")
	c.Status = models.StatusPending
	created, err := f.st.CreateComment(ctx, c)
	require.NoError(t, err)

	mod := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)

	// Два конкурентных approve: ровно один выигрывает.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.st.UpdateStatus(ctx, created.ID, storage.StatusUpdate{
				From: models.StatusPending, To: models.StatusApproved, ModeratorID: mod, At: now,
			})
		}(i)
	}
	wg.Wait()

	if errs[0] == nil {
		require.ErrorIs(t, errs[1], storage.ErrConflict)
	} else {
		require.ErrorIs(t, errs[0], storage.ErrConflict)
		require.NoError(t, errs[1])
	}

	got, err := f.st.CommentByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	require.Equal(t, mod, *got.ApprovedBy)
	require.Equal(t, mod, *got.ModeratedBy)
	require.EqualValues(t, 2, got.Version)

	spammed, err := f.st.UpdateStatus(ctx, created.ID, storage.StatusUpdate{
		From: models.StatusApproved, To: models.StatusSpam, ModeratorID: mod, At: now,
	})
	require.NoError(t, err)
	require.Nil(t, spammed.ApprovedAt)
	require.Nil(t, spammed.ApprovedBy)

	_, err = f.st.UpdateStatus(ctx, 424242, storage.StatusUpdate{From: models.StatusPending, To: models.StatusApproved, ModeratorID: mod, At: now})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_UpdateContentVersion(t *testing.T) {
	f := startPostgres(t)
	ctx := context.Background()
	post := f.newPost(t)

	created, err := f.st.CreateComment(ctx, userComment(post, nil, "v1"))
	require.NoError(t, err)

	pending := models.StatusPending
	upd := storage.ContentUpdate{
		ID:              created.ID,
		Version:         created.Version,
		RawContent:      "v2",
		RenderedContent: "<p>v2</p>",
		Spam:            &models.SpamAssessment{Score: 55, Reasons: []string{"pattern:upper_run"}},
		Status:          &pending,
		UpdatedAt:       time.Now(),
	}
	got, err := f.st.UpdateContent(ctx, upd)
	require.NoError(t, err)
	require.Equal(t, "v2", got.RawContent)
	require.Equal(t, 55, got.Spam.Score)
	require.Equal(t, models.StatusPending, got.Status)
	require.Nil(t, got.LinkPreview)
	require.EqualValues(t, 2, got.Version)

	// Устаревшая версия.
	_, err = f.st.UpdateContent(ctx, upd)
	require.ErrorIs(t, err, storage.ErrConflict)

	// Без Spam/Status оценка и статус сохраняются.
	got, err = f.st.UpdateContent(ctx, storage.ContentUpdate{
		ID: created.ID, Version: 2, RawContent: "v3", RenderedContent: "<p>v3</p>", UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, 55, got.Spam.Score)
	require.Equal(t, models.StatusPending, got.Status)

	_, err = f.st.UpdateContent(ctx, storage.ContentUpdate{ID: 777777, Version: 1, UpdatedAt: time.Now()})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_DeleteSoftHardAndPurge(t *testing.T) {
	f := startPostgres(t)
	ctx := context.Background()
	post := f.newPost(t)

	root, err := f.st.CreateComment(ctx, userComment(post, nil, "root"))
	require.NoError(t, err)
	mid, err := f.st.CreateComment(ctx, userComment(post, root, "mid"))
	require.NoError(t, err)
	leaf, err := f.st.CreateComment(ctx, userComment(post, mid, "leaf"))
	require.NoError(t, err)

	// root и mid имеют ответы - мягкое удаление.
	res, err := f.st.DeleteComment(ctx, root.ID, time.Now())
	require.NoError(t, err)
	require.True(t, res.Soft)
	res, err = f.st.DeleteComment(ctx, mid.ID, time.Now())
	require.NoError(t, err)
	require.True(t, res.Soft)

	got, err := f.st.CommentByID(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDeleted, got.Status)
	require.Equal(t, models.DeletedPlaceholder, got.RawContent)
	require.Equal(t, models.DeletedPlaceholder, got.RenderedContent)

	// Прямое удаление узла с ответами нарушает FK RESTRICT.
	_, err = f.pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, root.ID)
	require.Error(t, err)

	// Лист удаляется физически, осиротевшие мягко удалённые предки - тоже.
	res, err = f.st.DeleteComment(ctx, leaf.ID, time.Now())
	require.NoError(t, err)
	require.False(t, res.Soft)
	require.Equal(t, []int64{mid.ID, root.ID}, res.Purged)

	list, err := f.st.ListByPost(ctx, post)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = f.st.DeleteComment(ctx, leaf.ID, time.Now())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_PurgeStopsAtLiveAncestor(t *testing.T) {
	f := startPostgres(t)
	ctx := context.Background()
	post := f.newPost(t)

	root, err := f.st.CreateComment(ctx, userComment(post, nil, "root"))
	require.NoError(t, err)
	a, err := f.st.CreateComment(ctx, userComment(post, root, "a"))
	require.NoError(t, err)
	b, err := f.st.CreateComment(ctx, userComment(post, root, "b"))
	require.NoError(t, err)

	res, err := f.st.DeleteComment(ctx, root.ID, time.Now())
	require.NoError(t, err)
	require.True(t, res.Soft)

	res, err = f.st.DeleteComment(ctx, a.ID, time.Now())
	require.NoError(t, err)
	require.Empty(t, res.Purged, "root still has reply b")

	res, err = f.st.DeleteComment(ctx, b.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, []int64{root.ID}, res.Purged)
}

func TestIntegration_CountRepeats(t *testing.T) {
	f := startPostgres(t)
	ctx := context.Background()
	post := f.newPost(t)

	for i := 0; i < 3; i++ {
		c := userComment(post, nil, "same text")
		c.Author = models.GuestAuthor(models.Guest{Name: "g", Email: "spam@example.com", PasswordHash: "h"})
		_, err := f.st.CreateComment(ctx, c)
		require.NoError(t, err)
	}

	old := userComment(post, nil, "same text")
	old.IPAddress = "198.51.100.1"
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	_, err := f.st.CreateComment(ctx, old)
	require.NoError(t, err)

	now := time.Now()
	counts, err := f.st.CountRepeats(ctx, storage.RepeatQuery{
		IPAddress:      "203.0.113.10",
		GuestEmail:     "SPAM@example.com",
		RawContent:     "same text",
		RecentSince:    now.Add(-time.Hour),
		DuplicateSince: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, storage.RepeatCounts{ByIP: 3, ByEmail: 3, Duplicates: 3}, counts)

	counts, err = f.st.CountRepeats(ctx, storage.RepeatQuery{
		RawContent:     "different",
		RecentSince:    now.Add(-time.Hour),
		DuplicateSince: now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, storage.RepeatCounts{}, counts)
}
