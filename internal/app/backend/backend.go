package backend

import (
	"strings"

	"AssistantGateway/internal/adapter/assistant"
	"AssistantGateway/internal/ai"
	"AssistantGateway/internal/config"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// NewGateway собирает шлюз ассистента по конфигурации: OpenAI Assistants или заглушку.
// Отсутствие ключа здесь не проверяется: шлюз вернёт ошибку конфигурации на первом обмене.
func NewGateway(cfg config.AssistantConfig, logger *zap.SugaredLogger) ai.Gateway {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), config.BackendStub) {
		logger.Infow("Assistant backend selected", "backend", config.BackendStub)
		return ai.NewStubGateway()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(max(0, cfg.RequestRetries)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	logger.Infow("Assistant backend selected",
		"backend", config.BackendOpenAI,
		"delivery", cfg.Delivery,
		"assistantConfigured", cfg.AssistantID != "",
		"keyConfigured", cfg.APIKey != "",
	)
	return ai.NewAssistantsGateway(assistant.New(&client, logger), ai.AssistantsConfig{
		APIKey:         cfg.APIKey,
		AssistantID:    cfg.AssistantID,
		Delivery:       cfg.Delivery,
		PollInterval:   cfg.PollInterval,
		RunTimeout:     cfg.RunTimeout,
		MaxPollRetries: cfg.MaxPollRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		DeleteThreads:  cfg.DeleteThreads,
	}, logger)
}
