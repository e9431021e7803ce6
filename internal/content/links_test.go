package content

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "none", raw: "plain text without links", want: []string{}},
		{name: "empty", raw: "", want: []string{}},
		{
			name: "trailing punctuation",
			raw:  "see https://example.com/page. and http://foo.org/a?b=1!",
			want: []string{"https://example.com/page", "http://foo.org/a?b=1"},
		},
		{
			name: "dedup keeps first order",
			raw:  "https://b.example https://a.example https://b.example",
			want: []string{"https://b.example", "https://a.example"},
		},
		{
			name: "parens",
			raw:  "(see https://en.wikipedia.org/wiki/Go_(language)) and (https://x.example/y)",
			want: []string{"https://en.wikipedia.org/wiki/Go_(language)", "https://x.example/y"},
		},
		{
			name: "quotes and tags stop match",
			raw:  `<a href="https://evil.example/x">click</a>`,
			want: []string{"https://evil.example/x"},
		},
		{
			name: "other schemes ignored",
			raw:  "ftp://files.example javascript:alert(1) mailto:a@b.c",
			want: []string{},
		},
		{
			name: "no host",
			raw:  "http:///etc/passwd https://",
			want: []string{},
		},
		{
			name: "unicode text around",
			raw:  "링크: https://example.kr/글 확인하세요",
			want: []string{"https://example.kr/글"},
		},
		{
			name: "case insensitive scheme",
			raw:  "HTTPS://EXAMPLE.COM/A",
			want: []string{"HTTPS://EXAMPLE.COM/A"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ExtractLinks(tt.raw))
		})
	}
}
