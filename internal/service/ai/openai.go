package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaiapi "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI chat model for one credential.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// OpenAIChatModel adapts the OpenAI chat completions API to eino's
// BaseChatModel so it can run inside a compose chain.
type OpenAIChatModel struct {
	api *openaiapi.Client
	cfg OpenAIConfig
}

// NewOpenAIChatModel builds a client authenticated with cfg.APIKey.
func NewOpenAIChatModel(cfg OpenAIConfig) (*OpenAIChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}

	clientCfg := openaiapi.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIChatModel{
		api: openaiapi.NewClientWithConfig(clientCfg),
		cfg: cfg,
	}, nil
}

// GetType names the component for eino callbacks.
func (m *OpenAIChatModel) GetType() string {
	return "OpenAI"
}

// Generate runs a blocking completion.
func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	req := m.buildRequest(input, opts...)

	resp, err := m.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned empty response")
	}

	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream opens a streaming completion. Each received delta becomes one
// chunk; the reader ends with io.EOF or the transport error.
func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	req := m.buildRequest(input, opts...)
	req.Stream = true

	upstream, err := m.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		defer upstream.Close()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[ai] openai stream panic: %v", r)
				writer.Send(nil, fmt.Errorf("openai stream panic: %v", r))
			}
		}()

		for {
			resp, recvErr := upstream.Recv()
			if errors.Is(recvErr, io.EOF) {
				return
			}
			if recvErr != nil {
				writer.Send(nil, recvErr)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			chunk := &schema.Message{
				Role:    schema.Assistant,
				Content: resp.Choices[0].Delta.Content,
			}
			if closed := writer.Send(chunk, nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

func (m *OpenAIChatModel) buildRequest(input []*schema.Message, opts ...model.Option) openaiapi.ChatCompletionRequest {
	modelName := m.cfg.Model
	options := model.GetCommonOptions(&model.Options{
		Model:       &modelName,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
	}, opts...)

	req := openaiapi.ChatCompletionRequest{
		Model:    modelName,
		Messages: toAPIMessages(input),
	}
	if options.Model != nil {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}
	if options.TopP != nil {
		req.TopP = *options.TopP
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	return req
}

func toAPIMessages(msgs []*schema.Message) []openaiapi.ChatCompletionMessage {
	res := make([]openaiapi.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		res = append(res, openaiapi.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return res
}
