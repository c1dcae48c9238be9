package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/datachat/backend/internal/config"
)

// ModelFactory builds a chat model authenticated with the session credential.
type ModelFactory func(ctx context.Context, credential string) (model.BaseChatModel, error)

var errCredentialRequired = errors.New("credential is required")

// NewModelFactory returns the factory for the configured provider.
func NewModelFactory(cfg config.AIConfig) ModelFactory {
	var temperature *float32
	if cfg.Temperature != nil {
		val := float32(*cfg.Temperature)
		temperature = &val
	}

	var topP *float32
	if cfg.TopP != nil {
		val := float32(*cfg.TopP)
		topP = &val
	}

	var maxTokens *int
	if cfg.MaxTokens != nil {
		val := *cfg.MaxTokens
		maxTokens = &val
	}

	switch cfg.Provider {
	case config.ProviderArk:
		return func(ctx context.Context, credential string) (model.BaseChatModel, error) {
			if credential == "" {
				return nil, errCredentialRequired
			}
			return ark.NewChatModel(ctx, &ark.ChatModelConfig{
				BaseURL:     cfg.BaseURL,
				Region:      cfg.Region,
				APIKey:      credential,
				Model:       cfg.Model,
				MaxTokens:   maxTokens,
				Temperature: temperature,
				TopP:        topP,
			})
		}
	default:
		return func(_ context.Context, credential string) (model.BaseChatModel, error) {
			if credential == "" {
				return nil, errCredentialRequired
			}
			chatModel, err := NewOpenAIChatModel(OpenAIConfig{
				APIKey:      credential,
				BaseURL:     cfg.BaseURL,
				Model:       cfg.Model,
				Temperature: temperature,
				TopP:        topP,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create openai model: %w", err)
			}
			return chatModel, nil
		}
	}
}
