package service

// Тесты сервисного слоя (internal/service).
//
//  Проверяем:
//  - валидацию входов и построение автора (пользователь/гость с bcrypt-хэшем);
//  - конвейер создания: размещение, рендер, превью первой ссылки, спам-оценка, начальный статус;
//  - маппинг ошибок storage/hierarchy -> service;
//  - модераторские переходы с compare-and-set и гонку двух модераторов;
//  - права на удаление и правку, политику пересчёта при правке;
//  - видимость дерева.
//
// Подготовка окружения:
//   mockgen -source=./internal/storage/storage.go -destination=./mocks/storage.go -package=mocks
//   go test ./internal/service -v -race -count=1

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/config"
	"github.com/pribylovaa/comments-moderation/internal/content"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/netguard"
	"github.com/pribylovaa/comments-moderation/mocks"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeResolver map[string]string

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	ip, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return []netip.Addr{netip.MustParseAddr(ip)}, nil
}

// fakePreviews запоминает запрошенные URL и отдаёт заранее заданные превью.
type fakePreviews struct {
	mu    sync.Mutex
	calls []string
	out   map[string]*models.LinkPreview
}

func (f *fakePreviews) FetchPreview(ctx context.Context, rawURL string) *models.LinkPreview {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, rawURL)
	if _, ok := ctx.Deadline(); !ok {
		return nil
	}
	return f.out[rawURL]
}

func testConfig() config.Config {
	return config.Config{
		Limits:  config.LimitsConfig{MaxDepth: 2, MaxContentLen: 200},
		Preview: config.PreviewConfig{Timeout: time.Second},
		Spam:    config.DefaultSpamConfig(),
	}
}

// newServiceWithMocks поднимает сервис с моками стораджа и фейковым превью.
func newServiceWithMocks(t *testing.T) (*Service, *mocks.MockStorage, *fakePreviews) {
	t.Helper()

	ctrl := gomock.NewController(t)
	ms := mocks.NewMockStorage(ctrl)
	fp := &fakePreviews{out: map[string]*models.LinkPreview{}}

	sanitizer := content.NewSanitizer(netguard.New(netguard.WithResolver(fakeResolver{
		"example.com": "93.184.216.34",
		"news.test":   "93.184.216.36",
	})))

	s := New(ms, sanitizer, testConfig(), WithPreviews(fp), WithClock(func() time.Time { return fixedNow }))
	s.bcryptCost = bcrypt.MinCost

	return s, ms, fp
}

func userIdentity(name string) models.Identity {
	return models.Identity{UserID: uuid.New(), DisplayName: name}
}

func moderator() models.Identity {
	return models.Identity{UserID: uuid.New(), DisplayName: "mod", Moderator: true}
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(b)
}

// stored - комментарий в том виде, в каком его вернуло бы хранилище.
func stored(id int64, postID uuid.UUID, author models.Author, status models.Status) *models.Comment {
	return &models.Comment{
		ID:              id,
		PostID:          postID,
		Author:          author,
		RawContent:      "text",
		RenderedContent: "<p>text</p>",
		DetectedLinks:   []string{},
		Status:          status,
		Spam:            models.SpamAssessment{Reasons: []string{}},
		Version:         1,
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	}
}

// echoCreate - хранилище, назначающее id и возвращающее вставленное.
func echoCreate(id int64) func(context.Context, models.Comment) (*models.Comment, error) {
	return func(_ context.Context, c models.Comment) (*models.Comment, error) {
		c.ID = id
		c.Version = 1
		return &c, nil
	}
}
