package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/datachat/backend/internal/apperr"
	"github.com/zhouzirui/datachat/backend/internal/config"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
)

const conversationKey = "conversation"

// Service encapsulates AI-powered chat functionality. Chat models are built
// per call from the caller's credential, so no credential lives here.
type Service struct {
	cfg     config.AIConfig
	factory ModelFactory
}

// NewService creates a service for the configured provider.
func NewService(cfg config.AIConfig) *Service {
	return NewServiceWithFactory(cfg, NewModelFactory(cfg))
}

// NewServiceWithFactory creates a service with a custom model factory.
func NewServiceWithFactory(cfg config.AIConfig, factory ModelFactory) *Service {
	return &Service{cfg: cfg, factory: factory}
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// ModelName returns the configured model identifier.
func (s *Service) ModelName() string {
	return s.cfg.Model
}

// GenerateResponse runs one blocking completion over the full conversation.
func (s *Service) GenerateResponse(ctx context.Context, credential string, messages []chat.Message) (*schema.Message, error) {
	runnable, err := s.compile(ctx, credential)
	if err != nil {
		return nil, err
	}

	response, err := runnable.Invoke(ctx, buildChainInput(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated response model=%s length=%d", s.cfg.Model, len(response.Content))
	return response, nil
}

// StreamResponse streams completion chunks over the full conversation.
func (s *Service) StreamResponse(ctx context.Context, credential string, messages []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	runnable, err := s.compile(ctx, credential)
	if err != nil {
		return nil, err
	}

	stream, err := runnable.Stream(ctx, buildChainInput(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	return stream, nil
}

// Reply produces the assistant text for messages, handing each fragment to
// onDelta as it arrives. When streaming is disabled the whole reply is one
// fragment. Failures are *apperr.Error of KindCompletion.
func (s *Service) Reply(ctx context.Context, credential string, messages []chat.Message, onDelta func(string) error) (string, error) {
	if !s.StreamingEnabled() {
		response, err := s.GenerateResponse(ctx, credential, messages)
		if err != nil {
			return "", apperr.Completion(err)
		}
		if onDelta != nil && response.Content != "" {
			if err := onDelta(response.Content); err != nil {
				return "", apperr.Completion(err)
			}
		}
		return response.Content, nil
	}

	stream, err := s.StreamResponse(ctx, credential, messages)
	if err != nil {
		return "", apperr.Completion(err)
	}

	text, err := Collect(stream, onDelta)
	if err != nil {
		return "", apperr.Completion(err)
	}
	return text, nil
}

// Collect drains stream in arrival order, calling onDelta for every non-empty
// fragment, and returns their concatenation. The stream is always closed.
func Collect(stream *schema.StreamReader[*schema.Message], onDelta func(string) error) (string, error) {
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		builder.WriteString(chunk.Content)
		if onDelta != nil {
			if err := onDelta(chunk.Content); err != nil {
				return "", err
			}
		}
	}

	return builder.String(), nil
}

func (s *Service) compile(ctx context.Context, credential string) (compose.Runnable[map[string]any, *schema.Message], error) {
	chatModel, err := s.factory(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder(conversationKey, false),
	))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return runnable, nil
}

func buildChainInput(messages []chat.Message) map[string]any {
	return map[string]any{
		conversationKey: toSchemaMessages(messages),
	}
}

func toSchemaMessages(messages []chat.Message) []*schema.Message {
	converted := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			converted = append(converted, schema.SystemMessage(msg.Content))
		case chat.RoleUser:
			converted = append(converted, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			converted = append(converted, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return converted
}
