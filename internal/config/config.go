// config реализует конфигурацию сервиса модерации: загрузка из YAML/ENV с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config - корневая конфигурация сервиса.
// Приоритет источников:
//  1. явный путь, переданный в MustLoad/Load;
//  2. переменная окружения CONFIG_PATH;
//  3. файл ./local.yaml из рабочей директории;
//  4. переменные окружения.
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	DB       DBConfig      `yaml:"db"`
	Redis    RedisConfig   `yaml:"redis"`
	Auth     AuthConfig    `yaml:"auth"`
	Limits   LimitsConfig  `yaml:"limits"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Preview  PreviewConfig `yaml:"preview"`
	Spam     SpamConfig    `yaml:"spam"`
}

// HTTPConfig - REST API, health и metrics на одном листенере.
type HTTPConfig struct {
	Host     string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"HTTP_PORT" env-default:"50085"`
	BasePath string `yaml:"base_path" env:"HTTP_BASE_PATH" env-default:"/api"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// DBConfig - выбор и подключение хранилища.
type DBConfig struct {
	Driver string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	URL    string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig - кэш превью ссылок. Пустой Addr отключает кэш.
type RedisConfig struct {
	Addr       string        `yaml:"addr" env:"REDIS_ADDR"`
	PreviewTTL time.Duration `yaml:"preview_ttl" env:"REDIS_PREVIEW_TTL" env-default:"1h"`
}

// AuthConfig - проверка bearer-токенов, выпущенных сервисом аутентификации.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Issuer    string   `yaml:"issuer" env:"JWT_ISSUER" env-default:"auth-service"`
	Audience  []string `yaml:"audience" env:"JWT_AUDIENCE" env-separator:"," env-default:"comments"`
}

// LimitsConfig - ограничения дерева и содержимого.
type LimitsConfig struct {
	// Максимальная глубина ответа. Корень = 0, по умолчанию три уровня (0, 1, 2).
	MaxDepth int32 `yaml:"max_depth" env:"MAX_DEPTH" env-default:"2"`
	// Максимальная длина сырого текста в рунах.
	MaxContentLen int `yaml:"max_content_len" env:"MAX_CONTENT_LEN" env-default:"5000"`
}

// TimeoutConfig - общий дедлайн обработки запроса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE" env-default:"10s"`
}

// PreviewConfig - ограничения безопасного загрузчика метаданных.
type PreviewConfig struct {
	// Disabled отключает загрузку превью целиком (комментарии создаются без превью).
	Disabled     bool          `yaml:"disabled" env:"PREVIEW_DISABLED"`
	Timeout      time.Duration `yaml:"timeout" env:"PREVIEW_TIMEOUT" env-default:"3s"`
	MaxRedirects int           `yaml:"max_redirects" env:"PREVIEW_MAX_REDIRECTS" env-default:"3"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"PREVIEW_MAX_BODY_BYTES" env-default:"51200"`
	UserAgent    string        `yaml:"user_agent" env:"PREVIEW_USER_AGENT" env-default:"comments-moderation-preview/1.0 (+link preview bot)"`
}

// SpamConfig - веса, капы, пороги и словари эвристик.
type SpamConfig struct {
	SpamThreshold int `yaml:"spam_threshold" env:"SPAM_THRESHOLD" env-default:"70"`
	HoldThreshold int `yaml:"hold_threshold" env:"SPAM_HOLD_THRESHOLD" env-default:"50"`

	RepeatWindow    time.Duration `yaml:"repeat_window" env:"SPAM_REPEAT_WINDOW" env-default:"1h"`
	DuplicateWindow time.Duration `yaml:"duplicate_window" env:"SPAM_DUPLICATE_WINDOW" env-default:"24h"`

	Keywords               []string `yaml:"keywords" env:"SPAM_KEYWORDS" env-separator:","`
	SuspiciousTLDs         []string `yaml:"suspicious_tlds" env:"SPAM_SUSPICIOUS_TLDS" env-separator:","`
	Shorteners             []string `yaml:"shorteners" env:"SPAM_SHORTENERS" env-separator:","`
	HostKeywords           []string `yaml:"host_keywords" env:"SPAM_HOST_KEYWORDS" env-separator:","`
	DisposableEmailDomains []string `yaml:"disposable_email_domains" env:"SPAM_DISPOSABLE_DOMAINS" env-separator:","`

	Weights SpamWeights `yaml:"weights"`
	Caps    SpamCaps    `yaml:"caps"`
}

// SpamWeights - вклад отдельных сработавших правил.
type SpamWeights struct {
	Keyword int `yaml:"keyword" env-default:"15"`

	UpperRun    int `yaml:"upper_run" env-default:"10"`
	CharFlood   int `yaml:"char_flood" env-default:"10"`
	PunctRun    int `yaml:"punct_run" env-default:"10"`
	DigitRun    int `yaml:"digit_run" env-default:"10"`
	MultiURL    int `yaml:"multi_url" env-default:"15"`
	WordFlood   int `yaml:"word_flood" env-default:"20"`
	ManyLinks   int `yaml:"many_links" env-default:"20"`
	SomeLinks   int `yaml:"some_links" env-default:"10"`
	RiskyHost   int `yaml:"risky_host" env-default:"15"`
	TooShort    int `yaml:"too_short" env-default:"10"`
	TooLong     int `yaml:"too_long" env-default:"10"`
	Duplicate   int `yaml:"duplicate" env-default:"30"`
	EmailBurst  int `yaml:"email_burst" env-default:"15"`
	Disposable  int `yaml:"disposable" env-default:"25"`
	RandomLocal int `yaml:"random_local" env-default:"10"`
	DigitLocal  int `yaml:"digit_local" env-default:"10"`

	// Ступени по числу комментариев с одного IP в окне RepeatWindow.
	IPTier1 int `yaml:"ip_tier1" env-default:"10"` // >= 3
	IPTier2 int `yaml:"ip_tier2" env-default:"20"` // >= 5
	IPTier3 int `yaml:"ip_tier3" env-default:"30"` // >= 10

	// Гость с одним e-mail: штраф, если в окне больше EmailBurstLimit комментариев.
	EmailBurstLimit int `yaml:"email_burst_limit" env-default:"3"`
}

// SpamCaps - верхние границы каждой эвристики.
type SpamCaps struct {
	Keyword    int `yaml:"keyword" env-default:"50"`
	Pattern    int `yaml:"pattern" env-default:"30"`
	LinkRisk   int `yaml:"link_risk" env-default:"40"`
	Length     int `yaml:"length" env-default:"10"`
	Repeat     int `yaml:"repeat" env-default:"50"`
	GuestEmail int `yaml:"guest_email" env-default:"30"`
}

// MustLoad - обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)

	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла накладываем ENV-переменные поверх значений из YAML.
// Пустые словари спам-эвристик заполняются значениями по умолчанию.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) error {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return fmt.Errorf("failed to overlay env: %w", err)
		}

		return nil
	}

	switch {
	case path != "":
		if err := readFile(path); err != nil {
			return nil, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := readFile(os.Getenv("CONFIG_PATH")); err != nil {
			return nil, err
		}
	default:
		if _, err := os.Stat("local.yaml"); err == nil {
			if err := readFile("local.yaml"); err != nil {
				return nil, err
			}
			break
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
	}

	cfg.Spam.applyDefaultLists()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate - базовая валидация значений.
func (c *Config) validate() error {
	if c.DB.URL == "" {
		return fmt.Errorf("db.url is required")
	}

	if c.DB.Driver != DriverPostgres && c.DB.Driver != DriverMongo {
		return fmt.Errorf("db.driver must be %q or %q", DriverPostgres, DriverMongo)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Limits.MaxDepth < 0 || c.Limits.MaxDepth > 8 {
		return fmt.Errorf("limits.max_depth must be in [0, 8]")
	}

	if c.Limits.MaxContentLen <= 0 {
		return fmt.Errorf("limits.max_content_len must be > 0")
	}

	if c.Preview.Timeout <= 0 || c.Preview.Timeout > 30*time.Second {
		return fmt.Errorf("preview.timeout must be in (0, 30s]")
	}

	if c.Preview.MaxRedirects < 0 {
		return fmt.Errorf("preview.max_redirects must be >= 0")
	}

	if c.Preview.MaxBodyBytes <= 0 {
		return fmt.Errorf("preview.max_body_bytes must be > 0")
	}

	s := c.Spam
	if s.HoldThreshold <= 0 || s.SpamThreshold > 100 || s.HoldThreshold > s.SpamThreshold {
		return fmt.Errorf("spam thresholds must satisfy 0 < hold_threshold <= spam_threshold <= 100")
	}

	if s.RepeatWindow <= 0 || s.DuplicateWindow <= 0 {
		return fmt.Errorf("spam windows must be > 0")
	}

	return nil
}

// applyDefaultLists заполняет пустые словари встроенными значениями.
func (s *SpamConfig) applyDefaultLists() {
	if len(s.Keywords) == 0 {
		s.Keywords = append([]string(nil), DefaultKeywords...)
	}

	if len(s.SuspiciousTLDs) == 0 {
		s.SuspiciousTLDs = append([]string(nil), DefaultSuspiciousTLDs...)
	}

	if len(s.Shorteners) == 0 {
		s.Shorteners = append([]string(nil), DefaultShorteners...)
	}

	if len(s.HostKeywords) == 0 {
		s.HostKeywords = append([]string(nil), DefaultHostKeywords...)
	}

	if len(s.DisposableEmailDomains) == 0 {
		s.DisposableEmailDomains = append([]string(nil), DefaultDisposableEmailDomains...)
	}
}
