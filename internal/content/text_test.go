package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVisibleText(t *testing.T) {
	cases := []struct {
		name     string
		rendered string
		want     string
	}{
		{"empty", "", ""},
		{"entities", "<p>a &lt;b&gt; &amp; &#39;c&#39;</p>", "a <b> & 'c'"},
		{"paragraphs and breaks", "<p>one<br>two</p><p>three</p>", "one\ntwo\n\nthree"},
		{
			"anchor text only",
			`<p>see <a href="https://example.com/x" rel="nofollow">https://example.com/x</a></p>`,
			"see https://example.com/x",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, VisibleText(tc.rendered))
		})
	}
}

func TestVisibleText_RenderRoundTrip(t *testing.T) {
	s := NewSanitizer(nil)
	raw := "WIN <b>NOW</b>!!!\n\nsecond & last"

	require.Equal(t, "WIN <b>NOW</b>!!!\n\nsecond & last", VisibleText(s.Render(context.Background(), raw)))
}
