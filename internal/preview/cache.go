package preview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/pribylovaa/comments-moderation/internal/metrics"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/pkg/log"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "preview:"
	// negativeValue - маркер "превью нет", чтобы не ходить повторно на недоступные адреса.
	negativeValue = "-"
)

// Cached кэширует результаты Source в Redis, включая отрицательные.
// Ошибки Redis не влияют на результат: запрос уходит в обёрнутый источник.
type Cached struct {
	next        Source
	rdb         redis.Cmdable
	ttl         time.Duration
	negativeTTL time.Duration
	metrics     *metrics.Metrics
}

// NewCached оборачивает источник кэшем. Отрицательные результаты живут не дольше 10 минут.
func NewCached(next Source, rdb redis.Cmdable, ttl time.Duration, m *metrics.Metrics) *Cached {
	neg := 10 * time.Minute
	if ttl < neg {
		neg = ttl
	}

	return &Cached{next: next, rdb: rdb, ttl: ttl, negativeTTL: neg, metrics: m}
}

// FetchPreview отдаёт превью из кэша или загружает его.
func (c *Cached) FetchPreview(ctx context.Context, rawURL string) *models.LinkPreview {
	const op = "preview/Cached.FetchPreview"

	lg := log.From(ctx).With("op", op)
	key := cacheKey(rawURL)

	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if p, ok := decode(val); ok {
			c.metrics.PreviewFetched(metrics.PreviewCacheHit)
			return p
		}
		lg.Warn("preview_cache_corrupt", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("preview_cache_get_failed", "err", err.Error())
	}

	p := c.next.FetchPreview(ctx, rawURL)

	if ctx.Err() != nil {
		// Результат прерванной загрузки не кэшируем.
		return p
	}

	value, ttl := negativeValue, c.negativeTTL
	if p != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return p
		}
		value, ttl = string(raw), c.ttl
	}

	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		lg.Warn("preview_cache_set_failed", "err", err.Error())
	}

	return p
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func decode(val string) (*models.LinkPreview, bool) {
	if val == negativeValue {
		return nil, true
	}

	var p models.LinkPreview
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, false
	}

	return &p, true
}
