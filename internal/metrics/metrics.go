// Package metrics - prometheus-метрики сервиса модерации.
// Все методы безопасны для nil-получателя: в тестах метрики можно не подключать.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const namespace = "comments_moderation"

// Исходы загрузки превью.
const (
	PreviewOK       = "ok"
	PreviewEmpty    = "empty"
	PreviewRejected = "rejected"
	PreviewNotHTML  = "not_html"
	PreviewTooLarge = "too_large"
	PreviewError    = "error"
	PreviewCacheHit = "cache_hit"
)

// Metrics - набор коллекторов одного экземпляра сервиса.
type Metrics struct {
	commentsCreated   *prometheus.CounterVec
	moderationActions *prometheus.CounterVec
	previewFetches    *prometheus.CounterVec
	spamScore         prometheus.Histogram
	redisErrors       *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New создаёт и регистрирует коллекторы в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_created_total",
			Help:      "Created comments by initial status.",
		}, []string{"status"}),
		moderationActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_actions_total",
			Help:      "Explicit moderation and lifecycle actions.",
		}, []string{"action"}),
		previewFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preview_fetches_total",
			Help:      "Link preview fetch outcomes.",
		}, []string{"outcome"}),
		spamScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spam_score",
			Help:      "Spam score assigned at evaluation time.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		redisErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_errors_total",
			Help:      "Redis command errors (cache misses excluded).",
		}, []string{"cmd"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.commentsCreated,
		m.moderationActions,
		m.previewFetches,
		m.spamScore,
		m.redisErrors,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// CommentCreated учитывает созданный комментарий и его оценку.
func (m *Metrics) CommentCreated(status string, score int) {
	if m == nil {
		return
	}

	m.commentsCreated.WithLabelValues(status).Inc()
	m.spamScore.Observe(float64(score))
}

// ModerationAction учитывает действие над комментарием (approve, spam, delete, ...).
func (m *Metrics) ModerationAction(action string) {
	if m == nil {
		return
	}

	m.moderationActions.WithLabelValues(action).Inc()
}

// PreviewFetched учитывает исход загрузки превью.
func (m *Metrics) PreviewFetched(outcome string) {
	if m == nil {
		return
	}

	m.previewFetches.WithLabelValues(outcome).Inc()
}

// HTTPRequest учитывает обработанный HTTP-запрос.
func (m *Metrics) HTTPRequest(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}

	if route == "" {
		route = "unmatched"
	}

	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RedisHook возвращает хук go-redis, считающий ошибки команд.
func (m *Metrics) RedisHook() redis.Hook {
	return redisHook{m: m}
}

type redisHook struct {
	m *Metrics
}

func (h redisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h redisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) && h.m != nil {
			h.m.redisErrors.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (h redisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) && h.m != nil {
			h.m.redisErrors.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}
