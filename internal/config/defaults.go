package config

import "time"

// Встроенные словари спам-эвристик. Используются, когда в конфигурации список пуст.
var (
	DefaultKeywords = []string{
		"무료", "카지노", "바카라", "토토", "도박", "대출", "성인", "비아그라", "슬롯", "먹튀",
		"casino", "baccarat", "viagra", "cialis", "payday loan", "porn", "xxx",
		"free money", "crypto giveaway", "bitcoin doubler", "work from home",
	}

	DefaultSuspiciousTLDs = []string{
		".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top", ".click", ".work", ".loan", ".bet", ".win",
	}

	DefaultShorteners = []string{
		"bit.ly", "tinyurl.com", "goo.gl", "t.co", "is.gd", "ow.ly", "buff.ly", "cutt.ly", "rebrand.ly", "shorturl.at",
	}

	DefaultHostKeywords = []string{
		"casino", "bet", "poker", "slot", "loan", "crypto", "forex", "toto", "baccarat",
	}

	DefaultDisposableEmailDomains = []string{
		"mailinator.com", "guerrillamail.com", "10minutemail.com", "tempmail.com", "temp-mail.org",
		"yopmail.com", "trashmail.com", "sharklasers.com", "getnada.com", "dispostable.com",
	}
)

// DefaultSpamConfig - значения SpamConfig по умолчанию без чтения файла и окружения.
func DefaultSpamConfig() SpamConfig {
	s := SpamConfig{
		SpamThreshold:   70,
		HoldThreshold:   50,
		RepeatWindow:    time.Hour,
		DuplicateWindow: 24 * time.Hour,
		Weights: SpamWeights{
			Keyword:         15,
			UpperRun:        10,
			CharFlood:       10,
			PunctRun:        10,
			DigitRun:        10,
			MultiURL:        15,
			WordFlood:       20,
			ManyLinks:       20,
			SomeLinks:       10,
			RiskyHost:       15,
			TooShort:        10,
			TooLong:         10,
			Duplicate:       30,
			EmailBurst:      15,
			Disposable:      25,
			RandomLocal:     10,
			DigitLocal:      10,
			IPTier1:         10,
			IPTier2:         20,
			IPTier3:         30,
			EmailBurstLimit: 3,
		},
		Caps: SpamCaps{
			Keyword:    50,
			Pattern:    30,
			LinkRisk:   40,
			Length:     10,
			Repeat:     50,
			GuestEmail: 30,
		},
	}

	s.applyDefaultLists()

	return s
}
