// Package content отвечает за текст комментария: извлечение ссылок и безопасный HTML.
package content

import (
	"regexp"
	"strings"
)

// urlPattern - кандидаты в ссылки. Кавычки, угловые скобки и пробелы завершают совпадение.
var urlPattern = regexp.MustCompile("(?i)https?://[^\\s<>\"'`]+")

// ExtractLinks возвращает http(s)-ссылки из сырого текста в порядке первого появления, без повторов.
// Пустой слайс, если ссылок нет.
func ExtractLinks(raw string) []string {
	links := []string{}
	seen := make(map[string]struct{})

	for _, m := range urlPattern.FindAllString(raw, -1) {
		link := trimTrailing(m)
		if !hasHost(link) {
			continue
		}

		if _, ok := seen[link]; ok {
			continue
		}

		seen[link] = struct{}{}
		links = append(links, link)
	}

	return links
}

// trimTrailing отрезает знаки препинания в конце ссылки и непарные закрывающие скобки.
func trimTrailing(s string) string {
	for s != "" {
		last := s[len(s)-1]

		switch last {
		case '.', ',', ';', ':', '!', '?':
			s = s[:len(s)-1]
			continue
		case ')':
			if strings.Count(s, "(") < strings.Count(s, ")") {
				s = s[:len(s)-1]
				continue
			}
		case ']':
			if strings.Count(s, "[") < strings.Count(s, "]") {
				s = s[:len(s)-1]
				continue
			}
		}

		break
	}

	return s
}

// hasHost - после схемы остался хотя бы один символ хоста.
func hasHost(link string) bool {
	i := strings.Index(link, "://")
	if i < 0 {
		return false
	}

	rest := link[i+3:]
	return rest != "" && rest[0] != '/' && rest[0] != '?' && rest[0] != '#'
}
