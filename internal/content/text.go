package content

import (
	"strings"

	"golang.org/x/net/html"
)

// VisibleText возвращает текст, который увидит читатель в отрендеренном HTML:
// теги отброшены, сущности раскодированы, <p> и <br> заменены переводом строки.
func VisibleText(rendered string) string {
	z := html.NewTokenizer(strings.NewReader(rendered))

	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteByte('\n')
			case "p":
				if b.Len() > 0 {
					b.WriteString("\n\n")
				}
			}
		}
	}
}
