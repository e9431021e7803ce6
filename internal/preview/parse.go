package preview

import (
	"html"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/pribylovaa/comments-moderation/internal/models"
	xhtml "golang.org/x/net/html"
)

const (
	maxTitleRunes       = 300
	maxDescriptionRunes = 1000
)

// parseOpenGraph читает только <meta property="og:*" content="..."> до </head> или <body>.
// Скрипты не исполняются, подресурсы не загружаются, DOM не строится.
func parseOpenGraph(r io.Reader) *models.LinkPreview {
	z := xhtml.NewTokenizer(r)

	var title, description, image string

	for {
		tt := z.Next()

		switch tt {
		case xhtml.ErrorToken:
			return buildPreview(title, description, image)
		case xhtml.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "head" {
				return buildPreview(title, description, image)
			}
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()

			switch string(name) {
			case "body":
				return buildPreview(title, description, image)
			case "meta":
				if !hasAttr {
					continue
				}

				property, content := metaAttrs(z)
				switch property {
				case "og:title":
					if title == "" {
						title = content
					}
				case "og:description":
					if description == "" {
						description = content
					}
				case "og:image":
					if image == "" {
						image = content
					}
				}
			}
		}
	}
}

// metaAttrs возвращает property (или name) и content тега meta.
func metaAttrs(z *xhtml.Tokenizer) (property, content string) {
	for {
		key, val, more := z.TagAttr()

		switch strings.ToLower(string(key)) {
		case "property":
			property = strings.ToLower(strings.TrimSpace(string(val)))
		case "name":
			if property == "" {
				property = strings.ToLower(strings.TrimSpace(string(val)))
			}
		case "content":
			content = strings.TrimSpace(string(val))
		}

		if !more {
			return property, content
		}
	}
}

// buildPreview экранирует значения и отбрасывает og:image, если это не абсолютный http(s) URL.
func buildPreview(title, description, image string) *models.LinkPreview {
	p := &models.LinkPreview{
		Title:       html.EscapeString(clip(title, maxTitleRunes)),
		Description: html.EscapeString(clip(description, maxDescriptionRunes)),
		Image:       safeImage(image),
	}

	if p.Empty() {
		return nil
	}

	return p
}

func safeImage(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ""
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return html.EscapeString(u.String())
	default:
		return ""
	}
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return string([]rune(s)[:n])
}
