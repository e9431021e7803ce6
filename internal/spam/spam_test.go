package spam

import (
	"strings"
	"testing"

	"github.com/pribylovaa/comments-moderation/internal/config"
	"github.com/pribylovaa/comments-moderation/internal/models"
	"github.com/stretchr/testify/require"
)

func newEngine() *Engine {
	return New(config.DefaultSpamConfig())
}

func TestAssess_KoreanKeywordSpam(t *testing.T) {
	t.Parallel()

	e := newEngine()
	a := e.Assess(Input{Text: "무료 카지노 바카라 무료 무료"})

	require.GreaterOrEqual(t, a.Score, 70)
	require.Equal(t, 50, a.Breakdown.Keyword)
	require.Contains(t, a.Reasons, "keyword:무료")
	require.Contains(t, a.Reasons, "keyword:카지노")
	require.Contains(t, a.Reasons, "pattern:word_flood")
	require.Equal(t, models.StatusSpam, e.Recommend(a.Score, true))
	require.Equal(t, models.StatusSpam, e.Recommend(a.Score, false))
}

func TestAssess_CleanSentence(t *testing.T) {
	t.Parallel()

	e := newEngine()
	a := e.Assess(Input{Text: "Thanks for the thoughtful write-up, it helped me a lot."})

	require.Less(t, a.Score, 50)
	require.Zero(t, a.Score)
	require.Empty(t, a.Reasons)
	require.NotNil(t, a.Reasons)
	require.Equal(t, models.StatusApproved, e.Recommend(a.Score, true))
	require.Equal(t, models.StatusPending, e.Recommend(a.Score, false))
}

func TestAssess_ScoreAlwaysBounded(t *testing.T) {
	t.Parallel()

	e := newEngine()
	text := strings.Repeat("CASINO!!!! 무료 카지노 1234567890 ", 100)
	a := e.Assess(Input{
		Text: text,
		Links: []string{
			"https://bit.ly/x", "https://casino.tk/a", "https://win.xyz/b", "https://loan.top/c",
		},
		Guest: &models.Guest{Name: "x", Email: "a1b2c3d4e5f6g7@mailinator.com"},
		Context: RepeatContext{
			RecentByIP:    50,
			RecentByEmail: 50,
			Duplicates:    3,
		},
	})

	require.Equal(t, 100, a.Score)
	b := a.Breakdown
	require.Equal(t, 50, b.Keyword)
	require.Equal(t, 30, b.Pattern)
	require.Equal(t, 40, b.LinkRisk)
	require.Equal(t, 10, b.Length)
	require.Equal(t, 50, b.Repeat)
	require.Equal(t, 30, b.GuestEmail)
}

func TestKeywordScore_CaseInsensitiveAndPreview(t *testing.T) {
	t.Parallel()

	e := newEngine()

	a := e.Assess(Input{Text: "Best Casino in town"})
	require.Equal(t, 15, a.Breakdown.Keyword)

	a = e.Assess(Input{
		Text:    "look at this page please",
		Preview: &models.LinkPreview{Title: "VIAGRA &amp; more"},
	})
	require.Equal(t, 15, a.Breakdown.Keyword)
	require.Contains(t, a.Reasons, "keyword:viagra")
}

func TestPatternScore(t *testing.T) {
	t.Parallel()

	e := newEngine()

	tests := []struct {
		name   string
		text   string
		links  []string
		reason string
	}{
		{name: "upper run", text: "this is AMAZINGOFFER now", reason: "pattern:upper_run"},
		{name: "char flood", text: "soooooo good", reason: "pattern:char_flood"},
		{name: "punct run", text: "what?!? really", reason: "pattern:punct_run"},
		{name: "digit run", text: "call 01012345678 now", reason: "pattern:digit_run"},
		{name: "multi url", text: "two links here", links: []string{"https://a.example", "https://b.example"}, reason: "pattern:multi_url"},
		{name: "word flood", text: "buy buy buy now", reason: "pattern:word_flood"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := e.Assess(Input{Text: tt.text, Links: tt.links})
			require.Contains(t, a.Reasons, tt.reason)
			require.Positive(t, a.Breakdown.Pattern)
			require.LessOrEqual(t, a.Breakdown.Pattern, 30)
		})
	}
}

func TestPatternScore_NoFalsePositives(t *testing.T) {
	t.Parallel()

	e := newEngine()
	a := e.Assess(Input{Text: "I read the article and the comments, and the summary was good. NASA data too..."})

	require.NotContains(t, a.Reasons, "pattern:word_flood")
	require.NotContains(t, a.Reasons, "pattern:upper_run")
	require.Contains(t, a.Reasons, "pattern:punct_run")
}

func TestPatternScore_IgnoresURLText(t *testing.T) {
	t.Parallel()

	e := newEngine()
	a := e.Assess(Input{
		Text:  "see https://example.com/2024/01/02/1234567890-AAAAAAAAAA and enjoy",
		Links: []string{"https://example.com/2024/01/02/1234567890-AAAAAAAAAA"},
	})

	require.Zero(t, a.Breakdown.Pattern)
	require.Zero(t, a.Score)
}

func TestLinkRiskScore(t *testing.T) {
	t.Parallel()

	e := newEngine()

	a := e.Assess(Input{Text: "see link here", Links: []string{"https://example.com"}})
	require.Zero(t, a.Breakdown.LinkRisk)

	a = e.Assess(Input{Text: "see links here", Links: []string{"https://example.com", "https://golang.org"}})
	require.Equal(t, 10, a.Breakdown.LinkRisk)
	require.Contains(t, a.Reasons, "links:several")

	a = e.Assess(Input{Text: "see links here", Links: []string{
		"https://a.example", "https://b.example", "https://c.example", "https://d.example",
	}})
	require.Equal(t, 20, a.Breakdown.LinkRisk)
	require.Contains(t, a.Reasons, "links:many")

	a = e.Assess(Input{Text: "short link", Links: []string{"https://bit.ly/abc"}})
	require.Equal(t, 15, a.Breakdown.LinkRisk)
	require.Contains(t, a.Reasons, "link_host:bit.ly")

	a = e.Assess(Input{Text: "free domain", Links: []string{"http://promo.tk/"}})
	require.Equal(t, 15, a.Breakdown.LinkRisk)

	a = e.Assess(Input{Text: "gambling host", Links: []string{"https://best-casino-online.com/"}})
	require.Equal(t, 15, a.Breakdown.LinkRisk)
}

func TestLinkRiskScore_HostKeywordsMatchWholeLabels(t *testing.T) {
	t.Parallel()

	e := newEngine()

	for _, host := range []string{"alphabet.com", "betterhelp.com", "slothbear.org", "loanwords.net", "mytotoro.jp"} {
		a := e.Assess(Input{Text: "see link here", Links: []string{"https://" + host + "/"}})
		require.Zero(t, a.Breakdown.LinkRisk, host)
	}

	for _, host := range []string{"casino777.com", "bet.example.com", "poker.example.com", "cheap-loan.example"} {
		a := e.Assess(Input{Text: "see link here", Links: []string{"https://" + host + "/"}})
		require.Equal(t, 15, a.Breakdown.LinkRisk, host)
		require.Contains(t, a.Reasons, "link_host:"+host)
	}
}

func TestLengthScore(t *testing.T) {
	t.Parallel()

	e := newEngine()

	require.Equal(t, 10, e.Assess(Input{Text: "ok"}).Breakdown.Length)
	require.Equal(t, 10, e.Assess(Input{Text: "  좋아요  "}).Breakdown.Length)
	require.Zero(t, e.Assess(Input{Text: "좋아요 좋은 글"}).Breakdown.Length)
	require.Equal(t, 10, e.Assess(Input{Text: strings.Repeat("a b ", 400)}).Breakdown.Length)
}

func TestRepeatScore(t *testing.T) {
	t.Parallel()

	e := newEngine()
	text := "a perfectly normal comment"

	tiers := []struct {
		byIP int
		want int
	}{
		{0, 0}, {2, 0}, {3, 10}, {4, 10}, {5, 20}, {9, 20}, {10, 30}, {100, 30},
	}
	for _, tt := range tiers {
		a := e.Assess(Input{Text: text, Context: RepeatContext{RecentByIP: tt.byIP}})
		require.Equal(t, tt.want, a.Breakdown.Repeat, "byIP=%d", tt.byIP)
	}

	a := e.Assess(Input{Text: text, Context: RepeatContext{Duplicates: 1}})
	require.Equal(t, 30, a.Breakdown.Repeat)
	require.Contains(t, a.Reasons, "repeat:duplicate")

	guest := &models.Guest{Name: "g", Email: "reader@example.com"}
	a = e.Assess(Input{Text: text, Guest: guest, Context: RepeatContext{RecentByEmail: 3}})
	require.Zero(t, a.Breakdown.Repeat)
	a = e.Assess(Input{Text: text, Guest: guest, Context: RepeatContext{RecentByEmail: 4}})
	require.Equal(t, 15, a.Breakdown.Repeat)

	// Счётчик по e-mail для зарегистрированных авторов не применяется.
	a = e.Assess(Input{Text: text, Context: RepeatContext{RecentByEmail: 10}})
	require.Zero(t, a.Breakdown.Repeat)

	a = e.Assess(Input{Text: text, Guest: guest, Context: RepeatContext{RecentByIP: 10, Duplicates: 1, RecentByEmail: 10}})
	require.Equal(t, 50, a.Breakdown.Repeat)
}

func TestGuestEmailScore(t *testing.T) {
	t.Parallel()

	e := newEngine()
	text := "a perfectly normal comment"

	tests := []struct {
		email string
		want  int
	}{
		{"jane.doe@example.com", 0},
		{"reader@mailinator.com", 25},
		{"reader@eu.mailinator.com", 25},
		{"xk7q9z2mw4pl8@example.com", 10},
		{"bcdfghjklmnpq@example.com", 10},
		{"user20240101@example.com", 10},
		{"a1b2c3d4e5f6g7@mailinator.com", 30},
		{"not-an-email", 0},
	}

	for _, tt := range tests {
		a := e.Assess(Input{Text: text, Guest: &models.Guest{Name: "g", Email: tt.email}})
		require.Equal(t, tt.want, a.Breakdown.GuestEmail, tt.email)
	}

	// Для зарегистрированного автора эвристика не считается.
	a := e.Assess(Input{Text: text})
	require.Zero(t, a.Breakdown.GuestEmail)
}

func TestRecommend_Thresholds(t *testing.T) {
	t.Parallel()

	e := newEngine()

	require.Equal(t, models.StatusApproved, e.Recommend(49, true))
	require.Equal(t, models.StatusPending, e.Recommend(50, true))
	require.Equal(t, models.StatusPending, e.Recommend(69, true))
	require.Equal(t, models.StatusSpam, e.Recommend(70, true))
	require.Equal(t, models.StatusPending, e.Recommend(0, false))
	require.Equal(t, models.StatusPending, e.Recommend(69, false))
	require.Equal(t, models.StatusSpam, e.Recommend(100, false))

	require.True(t, e.IsSpam(70))
	require.False(t, e.IsSpam(69))
}

func TestAssess_Deterministic(t *testing.T) {
	t.Parallel()

	e := newEngine()
	in := Input{
		Text:  "FREE casino bonus!!! visit now",
		Links: []string{"https://bit.ly/a", "https://example.com"},
		Guest: &models.Guest{Name: "g", Email: "promo123456@yopmail.com"},
	}

	first := e.Assess(in)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, e.Assess(in))
	}
}
