// Package preview загружает метаданные превью для первой ссылки комментария.
// Загрузка безопасна к SSRF: только публичные адреса, ограничение времени,
// редиректов и объёма тела. Любая ошибка даёт отсутствие превью, а не ошибку.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pribylovaa/comments-moderation/internal/metrics"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/pribylovaa/comments-moderation/internal/netguard"
	"github.com/pribylovaa/comments-moderation/pkg/log"
)

// Source - источник превью. nil означает "превью нет".
type Source interface {
	FetchPreview(ctx context.Context, rawURL string) *models.LinkPreview
}

// Options - ограничения загрузчика.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	UserAgent    string
}

var errTooManyRedirects = errors.New("preview: too many redirects")

// Fetcher - безопасный HTTP-загрузчик og-метаданных.
type Fetcher struct {
	client  *http.Client
	guard   *netguard.Guard
	opts    Options
	metrics *metrics.Metrics
}

// NewFetcher создаёт загрузчик. Прокси отключён, dialer повторно проверяет адрес соединения.
func NewFetcher(guard *netguard.Guard, opts Options, m *metrics.Metrics) *Fetcher {
	dialer := &net.Dialer{
		Timeout: opts.Timeout,
		Control: guard.DialControl,
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          16,
		IdleConnTimeout:       30 * time.Second,
	}

	f := &Fetcher{guard: guard, opts: opts, metrics: m}

	f.client = &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > opts.MaxRedirects {
				return errTooManyRedirects
			}

			return guard.CheckURL(req.Context(), req.URL)
		},
	}

	return f
}

// FetchPreview загружает превью. Повторов нет, вторая ссылка не загружается.
func (f *Fetcher) FetchPreview(ctx context.Context, rawURL string) *models.LinkPreview {
	const op = "preview/FetchPreview"

	lg := log.From(ctx).With("op", op)

	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		lg.Debug("preview_rejected", "reason", "invalid url")
		f.metrics.PreviewFetched(metrics.PreviewRejected)
		return nil
	}

	lg = lg.With("host", u.Host)

	if err := f.guard.CheckURL(ctx, u); err != nil {
		lg.Debug("preview_rejected", "err", err.Error())
		f.metrics.PreviewFetched(metrics.PreviewRejected)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	body, outcome, err := f.get(ctx, u)
	if err != nil {
		if outcome == metrics.PreviewRejected {
			lg.Debug("preview_rejected", "err", err.Error())
		} else {
			lg.Warn("preview_fetch_failed", "outcome", outcome, "err", err.Error())
		}
		f.metrics.PreviewFetched(outcome)
		return nil
	}

	p := parseOpenGraph(bytes.NewReader(body))
	if p == nil {
		lg.Debug("preview_empty")
		f.metrics.PreviewFetched(metrics.PreviewEmpty)
		return nil
	}

	f.metrics.PreviewFetched(metrics.PreviewOK)
	return p
}

// get выполняет запрос и возвращает тело не длиннее MaxBodyBytes.
func (f *Fetcher) get(ctx context.Context, u *url.URL) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, metrics.PreviewRejected, err
	}

	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, errTooManyRedirects) || errors.Is(err, netguard.ErrForbiddenAddr) ||
			errors.Is(err, netguard.ErrScheme) || errors.Is(err, netguard.ErrResolve) {
			return nil, metrics.PreviewRejected, err
		}
		return nil, metrics.PreviewError, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, metrics.PreviewError, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil, metrics.PreviewNotHTML, fmt.Errorf("content type %q", resp.Header.Get("Content-Type"))
	}

	if resp.ContentLength > f.opts.MaxBodyBytes {
		return nil, metrics.PreviewTooLarge, fmt.Errorf("content length %d", resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, metrics.PreviewError, err
	}

	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, metrics.PreviewTooLarge, fmt.Errorf("body exceeds %d bytes", f.opts.MaxBodyBytes)
	}

	return body, metrics.PreviewOK, nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mt == "text/html" || mt == "application/xhtml+xml"
}
