// Package spam - детерминированная эвристическая оценка спама.
// Engine не обращается к хранилищу: счётчики повторов передаются во входе.
package spam

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pribylovaa/comments-moderation/internal/config"
	"github.com/pribylovaa/comments-moderation/internal/models"
)

// RepeatContext - счётчики из хранилища, текущий комментарий не учитывается.
type RepeatContext struct {
	RecentByIP    int // комментарии с того же IP в окне RepeatWindow
	RecentByEmail int // комментарии гостя с тем же e-mail в окне RepeatWindow
	Duplicates    int // байт-в-байт совпадающее содержимое в окне DuplicateWindow
}

// Input - всё, что нужно для оценки одного комментария.
type Input struct {
	// Text - видимый текст санитизированного содержимого.
	Text    string
	Links   []string
	Preview *models.LinkPreview
	// Guest - nil для зарегистрированного автора.
	Guest   *models.Guest
	Context RepeatContext
}

// Engine оценивает комментарии по настройкам из config.SpamConfig.
type Engine struct {
	cfg          config.SpamConfig
	keywords     []string
	tlds         []string
	shorteners   []string
	hostKeywords []string
	disposable   map[string]struct{}
}

// New создаёт Engine. Словари приводятся к нижнему регистру один раз.
func New(cfg config.SpamConfig) *Engine {
	e := &Engine{
		cfg:          cfg,
		keywords:     lowerAll(cfg.Keywords),
		tlds:         lowerAll(cfg.SuspiciousTLDs),
		shorteners:   lowerAll(cfg.Shorteners),
		hostKeywords: lowerAll(cfg.HostKeywords),
		disposable:   make(map[string]struct{}, len(cfg.DisposableEmailDomains)),
	}

	for _, d := range lowerAll(cfg.DisposableEmailDomains) {
		e.disposable[d] = struct{}{}
	}

	return e
}

// Assess считает итоговую оценку. Каждая эвристика ограничена своим капом, сумма - 100.
func (e *Engine) Assess(in Input) models.SpamAssessment {
	var (
		b       models.SpamBreakdown
		reasons []string
	)

	add := func(rs []string) { reasons = append(reasons, rs...) }

	var rs []string
	b.Keyword, rs = e.keywordScore(in)
	add(rs)
	b.Pattern, rs = e.patternScore(in)
	add(rs)
	b.LinkRisk, rs = e.linkRiskScore(in.Links)
	add(rs)
	b.Length, rs = e.lengthScore(in.Text)
	add(rs)
	b.Repeat, rs = e.repeatScore(in)
	add(rs)
	if in.Guest != nil {
		b.GuestEmail, rs = e.guestEmailScore(in.Guest.Email)
		add(rs)
	}

	total := b.Keyword + b.Pattern + b.LinkRisk + b.Length + b.Repeat + b.GuestEmail
	if total > 100 {
		total = 100
	}

	if reasons == nil {
		reasons = []string{}
	}

	return models.SpamAssessment{Score: total, Reasons: reasons, Breakdown: b}
}

// Recommend - начальный статус по оценке: spam от порога спама, pending от порога
// удержания, ниже - approved только для зарегистрированного автора.
func (e *Engine) Recommend(score int, registered bool) models.Status {
	switch {
	case score >= e.cfg.SpamThreshold:
		return models.StatusSpam
	case score >= e.cfg.HoldThreshold:
		return models.StatusPending
	case registered:
		return models.StatusApproved
	default:
		return models.StatusPending
	}
}

// IsSpam - оценка не ниже порога спама.
func (e *Engine) IsSpam(score int) bool {
	return score >= e.cfg.SpamThreshold
}

func (e *Engine) keywordScore(in Input) (int, []string) {
	text := strings.ToLower(in.Text)

	var extra string
	if in.Preview != nil {
		extra = strings.ToLower(html.UnescapeString(in.Preview.Title + " " + in.Preview.Description))
	}

	w := e.cfg.Weights.Keyword
	score := 0
	var reasons []string

	for _, kw := range e.keywords {
		n := strings.Count(text, kw) + strings.Count(extra, kw)
		if n == 0 {
			continue
		}

		score += n * w
		reasons = append(reasons, "keyword:"+kw)
	}

	return capAt(score, e.cfg.Caps.Keyword), reasons
}

// urlInText - адреса в видимом тексте, шаблонные эвристики их не видят.
var urlInText = regexp.MustCompile(`(?i)https?://\S+`)

func (e *Engine) patternScore(in Input) (int, []string) {
	w := e.cfg.Weights
	text := urlInText.ReplaceAllString(in.Text, " ")
	checks := []struct {
		name   string
		weight int
		hit    bool
	}{
		{"upper_run", w.UpperRun, hasUpperRun(text, 8)},
		{"char_flood", w.CharFlood, hasCharFlood(text, 5)},
		{"punct_run", w.PunctRun, hasPunctRun(text, 3)},
		{"digit_run", w.DigitRun, hasDigitRun(text, 10)},
		{"multi_url", w.MultiURL, len(in.Links) >= 2},
		{"word_flood", w.WordFlood, hasWordFlood(text, 3)},
	}

	score := 0
	var reasons []string

	for _, c := range checks {
		if c.hit {
			score += c.weight
			reasons = append(reasons, "pattern:"+c.name)
		}
	}

	return capAt(score, e.cfg.Caps.Pattern), reasons
}

func (e *Engine) linkRiskScore(links []string) (int, []string) {
	w := e.cfg.Weights
	score := 0
	var reasons []string

	switch {
	case len(links) > 3:
		score += w.ManyLinks
		reasons = append(reasons, "links:many")
	case len(links) > 1:
		score += w.SomeLinks
		reasons = append(reasons, "links:several")
	}

	for _, link := range links {
		host := linkHost(link)
		if host == "" {
			continue
		}

		if e.riskyHost(host) {
			score += w.RiskyHost
			reasons = append(reasons, "link_host:"+host)
		}
	}

	return capAt(score, e.cfg.Caps.LinkRisk), reasons
}

func (e *Engine) riskyHost(host string) bool {
	for _, tld := range e.tlds {
		if strings.HasSuffix(host, tld) {
			return true
		}
	}

	for _, s := range e.shorteners {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}

	tokens := strings.FieldsFunc(host, func(r rune) bool { return r == '.' || r == '-' })
	for _, tok := range tokens {
		for _, kw := range e.hostKeywords {
			if keywordToken(tok, kw) {
				return true
			}
		}
	}

	return false
}

// keywordToken - часть имени хоста совпадает с ключевым словом целиком
// или отличается от него только цифровым хвостом (casino777).
func keywordToken(tok, kw string) bool {
	rest, ok := strings.CutPrefix(tok, kw)
	if !ok {
		return false
	}

	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

func (e *Engine) lengthScore(text string) (int, []string) {
	n := utf8.RuneCountInString(strings.TrimSpace(text))

	switch {
	case n < 5:
		return capAt(e.cfg.Weights.TooShort, e.cfg.Caps.Length), []string{"length:short"}
	case n > 1500:
		return capAt(e.cfg.Weights.TooLong, e.cfg.Caps.Length), []string{"length:long"}
	default:
		return 0, nil
	}
}

func (e *Engine) repeatScore(in Input) (int, []string) {
	w := e.cfg.Weights
	c := in.Context
	score := 0
	var reasons []string

	switch {
	case c.RecentByIP >= 10:
		score += w.IPTier3
	case c.RecentByIP >= 5:
		score += w.IPTier2
	case c.RecentByIP >= 3:
		score += w.IPTier1
	}
	if c.RecentByIP >= 3 {
		reasons = append(reasons, "repeat:ip")
	}

	if c.Duplicates > 0 {
		score += w.Duplicate
		reasons = append(reasons, "repeat:duplicate")
	}

	if in.Guest != nil && c.RecentByEmail > w.EmailBurstLimit {
		score += w.EmailBurst
		reasons = append(reasons, "repeat:email")
	}

	return capAt(score, e.cfg.Caps.Repeat), reasons
}

func (e *Engine) guestEmailScore(email string) (int, []string) {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return 0, nil
	}

	local := strings.ToLower(email[:at])
	domain := strings.ToLower(email[at+1:])
	w := e.cfg.Weights

	score := 0
	var reasons []string

	if e.disposableDomain(domain) {
		score += w.Disposable
		reasons = append(reasons, "email:disposable")
	}

	if looksRandom(local) {
		score += w.RandomLocal
		reasons = append(reasons, "email:random_local")
	}

	if hasDigitRun(local, 6) {
		score += w.DigitLocal
		reasons = append(reasons, "email:digit_run")
	}

	return capAt(score, e.cfg.Caps.GuestEmail), reasons
}

func (e *Engine) disposableDomain(domain string) bool {
	for d := domain; d != ""; {
		if _, ok := e.disposable[d]; ok {
			return true
		}

		i := strings.IndexByte(d, '.')
		if i < 0 {
			return false
		}
		d = d[i+1:]
	}

	return false
}

// looksRandom - длинная буквенно-цифровая строка без "человеческой" структуры:
// почти без гласных или с частыми переходами между буквами и цифрами.
func looksRandom(local string) bool {
	if utf8.RuneCountInString(local) < 12 {
		return false
	}

	var letters, vowels, switches int
	prevDigit, started := false, false

	for _, r := range local {
		isDigit := r >= '0' && r <= '9'
		isLetter := r >= 'a' && r <= 'z'
		if !isDigit && !isLetter {
			return false
		}

		if isLetter {
			letters++
			if strings.ContainsRune("aeiouy", r) {
				vowels++
			}
		}

		if started && isDigit != prevDigit {
			switches++
		}
		prevDigit, started = isDigit, true
	}

	if switches >= 4 {
		return true
	}

	return letters >= 8 && vowels*5 < letters
}

func hasUpperRun(text string, n int) bool {
	run := 0
	for _, r := range text {
		if unicode.IsUpper(r) {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func hasCharFlood(text string, n int) bool {
	count := 0
	prev := rune(-1)
	for _, r := range text {
		if unicode.IsSpace(r) {
			count, prev = 0, -1
			continue
		}
		if r == prev {
			count++
			if count >= n {
				return true
			}
			continue
		}
		count, prev = 1, r
	}
	return false
}

func hasPunctRun(text string, n int) bool {
	run := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func hasDigitRun(text string, n int) bool {
	run := 0
	for _, r := range text {
		if unicode.IsDigit(r) {
			run++
			if run >= n {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

// hasWordFlood - одно слово встречается не меньше n раз и составляет не меньше трети текста.
func hasWordFlood(text string, n int) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(words) < n {
		return false
	}

	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}

	for _, c := range counts {
		if c >= n && c*3 >= len(words) {
			return true
		}
	}

	return false
}

func linkHost(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}

	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func capAt(v, limit int) int {
	if v > limit {
		return limit
	}
	return v
}
