package content

import (
	"context"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxAnchorText - длина видимого текста ссылки в рунах.
const MaxAnchorText = 50

const anchorRel = "noopener noreferrer nofollow"

// URLChecker - проверка схемы и адреса хоста ссылки. Реализуется netguard.Guard.
type URLChecker interface {
	CheckURL(ctx context.Context, u *url.URL) error
}

var paragraphSplit = regexp.MustCompile(`\n[ \t]*\n+`)

// Sanitizer превращает сырой текст в безопасный HTML: абзацы, переводы строк и
// ссылки только на публичные http(s)-адреса.
type Sanitizer struct {
	checker URLChecker
	policy  *bluemonday.Policy
}

// NewSanitizer создаёт рендерер с финальной политикой bluemonday.
func NewSanitizer(checker URLChecker) *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br")
	p.AllowAttrs("href", "rel", "target").OnElements("a")
	p.AllowStandardURLs()
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &Sanitizer{checker: checker, policy: p}
}

// Render строит HTML из сырого текста. Результат детерминирован при фиксированном резолвере.
func (s *Sanitizer) Render(ctx context.Context, raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Trim(text, "\n")

	if strings.TrimSpace(text) == "" {
		return ""
	}

	verdicts := make(map[string]bool)

	var b strings.Builder
	for _, para := range paragraphSplit.Split(text, -1) {
		if strings.TrimSpace(para) == "" {
			continue
		}

		b.WriteString("<p>")
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				b.WriteString("<br>")
			}
			s.writeLine(ctx, &b, line, verdicts)
		}
		b.WriteString("</p>")
	}

	return s.policy.Sanitize(b.String())
}

// writeLine экранирует строку и оборачивает допустимые ссылки в <a>.
func (s *Sanitizer) writeLine(ctx context.Context, b *strings.Builder, line string, verdicts map[string]bool) {
	pos := 0

	for _, loc := range urlPattern.FindAllStringIndex(line, -1) {
		start := loc[0]
		link := trimTrailing(line[start:loc[1]])
		end := start + len(link)

		b.WriteString(html.EscapeString(line[pos:start]))
		pos = end

		href, ok := s.accept(ctx, link, verdicts)
		if !ok {
			b.WriteString(html.EscapeString(link))
			continue
		}

		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(href))
		b.WriteString(`" rel="` + anchorRel + `" target="_blank">`)
		b.WriteString(html.EscapeString(truncate(link, MaxAnchorText)))
		b.WriteString("</a>")
	}

	b.WriteString(html.EscapeString(line[pos:]))
}

// accept проверяет ссылку и возвращает нормализованный href.
func (s *Sanitizer) accept(ctx context.Context, link string, verdicts map[string]bool) (string, bool) {
	if !hasHost(link) {
		return "", false
	}

	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "", false
	}

	ok, seen := verdicts[u.Host]
	if !seen {
		ok = s.checker != nil && s.checker.CheckURL(ctx, u) == nil
		verdicts[u.Host] = ok
	}

	return u.String(), ok
}

// truncate обрезает строку до n рун и добавляет многоточие.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	runes := []rune(s)
	return string(runes[:n]) + "…"
}
