package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Бэкенды ассистента
const (
	BackendOpenAI = "openai"
	BackendStub   = "stub"
)

// Режимы доставки ответа
const (
	DeliveryPoll   = "poll"
	DeliveryStream = "stream"
)

type Config struct {
	DebugMode bool `env:"DEBUG_MODE"` // Режим дебага: dev-логгер, подробные логи

	Assistant AssistantConfig
	Server    ServerConfig
	Chat      ChatConfig
}

// AssistantConfig конфигурация шлюза к OpenAI Assistants.
type AssistantConfig struct {
	APIKey         string        `env:"OPENAI_API_KEY"`             // Ключ API. Пустой: шлюз вернёт ошибку конфигурации до любого запроса
	BaseURL        string        `env:"OPENAI_BASE_URL"`            // Необязательный адрес API (прокси, совместимые сервисы)
	RequestRetries int           `env:"OPENAI_MAX_RETRIES"`         // Повторы отдельного HTTP-запроса внутри SDK
	AssistantID    string        `env:"ASSISTANT_ID"`               // Идентификатор ассистента (asst_...)
	Backend        string        `env:"ASSISTANT_BACKEND"`          // openai|stub
	Delivery       string        `env:"ASSISTANT_DELIVERY"`         // poll|stream
	PollInterval   time.Duration `env:"ASSISTANT_POLL_INTERVAL"`    // Интервал опроса статуса run
	RunTimeout     time.Duration `env:"ASSISTANT_RUN_TIMEOUT"`      // Общий таймаут одного обмена
	MaxPollRetries int           `env:"ASSISTANT_MAX_POLL_RETRIES"` // Сколько временных ошибок опроса подряд допустимо
	RetryBaseDelay time.Duration `env:"ASSISTANT_RETRY_BASE_DELAY"` // Базовая задержка экспоненциального backoff
	DeleteThreads  bool          `env:"ASSISTANT_DELETE_THREADS"`   // Удалять thread после обмена
}

// ServerConfig конфигурация HTTP-сервера чата.
type ServerConfig struct {
	BindAddr       string   `env:"SERVER_BIND_ADDR"`                              // Адрес слушателя, напр. 127.0.0.1:8080
	AllowedOrigins []string `env:"SERVER_ALLOWED_ORIGINS" envSeparator:";"`      // CORS allow-list; "*": любой
	MaxUploadBytes int64    `env:"SERVER_MAX_UPLOAD_BYTES"`                       // Лимит размера загружаемого файла
}

// ChatConfig конфигурация чат-сессий.
type ChatConfig struct {
	Greeting      string        `env:"CHAT_GREETING"`       // Первое сообщение ассистента в новой сессии
	ApologyText   string        `env:"CHAT_APOLOGY_TEXT"`   // Текст для пользователя при ошибке ассистента
	SessionTTL    time.Duration `env:"CHAT_SESSION_TTL"`    // Через сколько простоя сессия удаляется
	MaxTranscript int           `env:"CHAT_MAX_TRANSCRIPT"` // Максимум сообщений в транскрипте
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode: false,
		Assistant: AssistantConfig{
			RequestRetries: 2,
			Backend:        BackendOpenAI,
			Delivery:       DeliveryPoll,
			PollInterval:   time.Second,
			RunTimeout:     2 * time.Minute,
			MaxPollRetries: 3,
			RetryBaseDelay: 500 * time.Millisecond,
			DeleteThreads:  true,
		},
		Server: ServerConfig{
			BindAddr:       "127.0.0.1:8080",
			AllowedOrigins: []string{"*"},
			MaxUploadBytes: 10 << 20,
		},
		Chat: ChatConfig{
			Greeting:      "Hallo! Ich bin Immostant. Wie kann ich dir heute bei deinen Immobilienaufgaben helfen?",
			ApologyText:   "Es tut mir leid, es gab einen Fehler bei der Verarbeitung Ihrer Anfrage. Bitte versuchen Sie es später erneut.",
			SessionTTL:    30 * time.Minute,
			MaxTranscript: 200,
		},
	}
}

// NewConfig загружает конфигурацию приложения из .env, окружения и os.Args.
// Некорректная конфигурация: фатальна.
func NewConfig(args []string) *Config {
	_ = godotenv.Load()

	cfg, err := Load(args)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load стартует с дефолтов, перекрывает их окружением, затем флагами из args.
// .env здесь не читается: это делает NewConfig.
func Load(args []string) (*Config, error) {
	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("assistant-gateway", flag.ContinueOnError)
	fs.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	// Ассистент
	fs.StringVar(&cfg.Assistant.APIKey, "openai-api-key", cfg.Assistant.APIKey, "API ключ OpenAI (перекрывает ENV)")
	fs.StringVar(&cfg.Assistant.BaseURL, "openai-base-url", cfg.Assistant.BaseURL, "адрес OpenAI API (опционально)")
	fs.IntVar(&cfg.Assistant.RequestRetries, "openai-max-retries", cfg.Assistant.RequestRetries, "повторы отдельного запроса в SDK")
	fs.StringVar(&cfg.Assistant.AssistantID, "assistant-id", cfg.Assistant.AssistantID, "идентификатор ассистента (asst_...)")
	fs.StringVar(&cfg.Assistant.Backend, "assistant-backend", cfg.Assistant.Backend, "бэкенд ассистента: openai|stub")
	fs.StringVar(&cfg.Assistant.Delivery, "assistant-delivery", cfg.Assistant.Delivery, "доставка ответа: poll|stream")
	fs.DurationVar(&cfg.Assistant.PollInterval, "poll-interval", cfg.Assistant.PollInterval, "интервал опроса статуса run, напр. 1s")
	fs.DurationVar(&cfg.Assistant.RunTimeout, "run-timeout", cfg.Assistant.RunTimeout, "таймаут одного обмена, напр. 2m")
	fs.IntVar(&cfg.Assistant.MaxPollRetries, "max-poll-retries", cfg.Assistant.MaxPollRetries, "допустимое число временных ошибок опроса подряд")
	fs.DurationVar(&cfg.Assistant.RetryBaseDelay, "retry-base-delay", cfg.Assistant.RetryBaseDelay, "базовая задержка backoff, напр. 500ms")
	fs.BoolVar(&cfg.Assistant.DeleteThreads, "delete-threads", cfg.Assistant.DeleteThreads, "удалять thread после обмена")
	// Сервер
	fs.StringVar(&cfg.Server.BindAddr, "bind-addr", cfg.Server.BindAddr, "адрес HTTP-сервера, напр. 127.0.0.1:8080")
	allowedOrigins := strings.Join(cfg.Server.AllowedOrigins, ";")
	fs.StringVar(&allowedOrigins, "allowed-origins", allowedOrigins, "разрешённые CORS origin, разделённые ';'")
	fs.Int64Var(&cfg.Server.MaxUploadBytes, "max-upload-bytes", cfg.Server.MaxUploadBytes, "лимит размера загружаемого файла")
	// Чат
	fs.StringVar(&cfg.Chat.Greeting, "chat-greeting", cfg.Chat.Greeting, "приветствие ассистента в новой сессии")
	fs.StringVar(&cfg.Chat.ApologyText, "chat-apology-text", cfg.Chat.ApologyText, "текст для пользователя при ошибке ассистента")
	fs.DurationVar(&cfg.Chat.SessionTTL, "chat-session-ttl", cfg.Chat.SessionTTL, "время простоя до удаления сессии")
	fs.IntVar(&cfg.Chat.MaxTranscript, "chat-max-transcript", cfg.Chat.MaxTranscript, "максимум сообщений в транскрипте")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Server.AllowedOrigins = parseListFlag(allowedOrigins, []string{"*"})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет перечисления и интервалы. Ключ API и ID ассистента здесь
// не проверяются: их отсутствие сообщает сам шлюз.
func (c *Config) Validate() error {
	var errs []error
	switch c.Assistant.Backend {
	case BackendOpenAI, BackendStub:
	default:
		errs = append(errs, fmt.Errorf("assistant backend %q: expected %s|%s", c.Assistant.Backend, BackendOpenAI, BackendStub))
	}
	switch c.Assistant.Delivery {
	case DeliveryPoll, DeliveryStream:
	default:
		errs = append(errs, fmt.Errorf("assistant delivery %q: expected %s|%s", c.Assistant.Delivery, DeliveryPoll, DeliveryStream))
	}
	if c.Assistant.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be > 0"))
	}
	if c.Assistant.RunTimeout <= 0 {
		errs = append(errs, errors.New("run timeout must be > 0"))
	}
	if c.Assistant.MaxPollRetries < 0 {
		errs = append(errs, errors.New("max poll retries must be >= 0"))
	}
	if c.Assistant.RequestRetries < 0 {
		errs = append(errs, errors.New("openai max retries must be >= 0"))
	}
	if c.Server.BindAddr == "" {
		errs = append(errs, errors.New("server bind addr cannot be empty"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be > 0"))
	}
	if c.Chat.MaxTranscript < 0 {
		errs = append(errs, errors.New("chat max transcript must be >= 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// parseListFlag разбирает значение флага со списком, разделённым ';'
func parseListFlag(v string, def []string) []string {
	// Пустая строка → дефолт
	if v == "" {
		return def
	}
	parts := strings.Split(v, ";")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}
