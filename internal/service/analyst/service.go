// Package analyst runs the render cycle and chat turns of the dataset page:
// credential gate, dataset load, conversation seeding and streamed replies.
package analyst

import (
	"context"
	"errors"
	"log"

	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	"github.com/zhouzirui/datachat/backend/internal/model/dataset"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
)

// CredentialPrompt is shown while the session has no credential.
const CredentialPrompt = "Por favor ingresa tu clave de API para continuar."

// DatasetSource yields the shared, read-only dataset.
type DatasetSource interface {
	Load(ctx context.Context) (*dataset.Table, error)
}

// Responder produces an assistant reply for a full conversation, reporting
// fragments through onDelta.
type Responder interface {
	Reply(ctx context.Context, credential string, messages []chat.Message, onDelta func(string) error) (string, error)
}

// SystemPromptBuilder renders the hidden system message for the dataset.
type SystemPromptBuilder interface {
	BuildSystemPrompt(table *dataset.Table) string
}

// Renderer receives the visible parts of a turn as they happen.
type Renderer interface {
	UserMessage(msg chat.Message) error
	Delta(fragment string) error
}

// View is everything one render cycle displays.
type View struct {
	Preview    *dataset.Table
	Transcript []chat.Message
}

// Service wires the session store, dataset and completion endpoint.
type Service struct {
	chats       *chatService.Service
	data        DatasetSource
	responder   Responder
	prompts     SystemPromptBuilder
	previewRows int
}

// NewService creates the analyst service.
func NewService(chats *chatService.Service, data DatasetSource, responder Responder, prompts SystemPromptBuilder, previewRows int) *Service {
	return &Service{
		chats:       chats,
		data:        data,
		responder:   responder,
		prompts:     prompts,
		previewRows: previewRows,
	}
}

// Render runs the gate and the loader, seeds the conversation on first
// access and returns the preview plus the visible transcript. It stops at
// the first failing precondition: chat.ErrCredentialMissing, then a
// dataset load error.
func (s *Service) Render(ctx context.Context, sessionID string) (*View, error) {
	table, _, err := s.prepare(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	transcript, err := s.chats.LoadTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &View{
		Preview:    table.Head(s.previewRows),
		Transcript: transcript,
	}, nil
}

// Preview returns the first preview rows behind the same gate as Render.
func (s *Service) Preview(ctx context.Context, sessionID string) (*dataset.Table, error) {
	table, _, err := s.prepare(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return table.Head(s.previewRows), nil
}

// Ask runs one chat turn. The user message is appended and rendered before
// the remote call; on success the assembled reply is appended, on failure the
// turn ends with no assistant message and a completion error is returned.
func (s *Service) Ask(ctx context.Context, sessionID, text string, renderer Renderer) (string, error) {
	_, credential, err := s.prepare(ctx, sessionID)
	if err != nil {
		return "", err
	}

	messages, err := s.chats.BeginTurn(ctx, sessionID, text)
	if err != nil {
		return "", err
	}

	if err := renderer.UserMessage(messages[len(messages)-1]); err != nil {
		s.failTurn(ctx, sessionID)
		return "", err
	}

	reply, err := s.responder.Reply(ctx, credential, messages, renderer.Delta)
	if err != nil {
		s.failTurn(ctx, sessionID)
		log.Printf("[analyst] completion failed session=%s: %v", sessionID, err)
		return "", err
	}

	if err := s.chats.CompleteTurn(ctx, sessionID, reply); err != nil {
		return "", err
	}
	return reply, nil
}

func (s *Service) prepare(ctx context.Context, sessionID string) (*dataset.Table, string, error) {
	credential, err := s.chats.Credential(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}

	table, err := s.data.Load(ctx)
	if err != nil {
		return nil, "", err
	}

	err = s.chats.EnsureSeeded(ctx, sessionID, func() (string, error) {
		return s.prompts.BuildSystemPrompt(table), nil
	})
	if err != nil {
		return nil, "", err
	}
	return table, credential, nil
}

func (s *Service) failTurn(ctx context.Context, sessionID string) {
	if err := s.chats.FailTurn(ctx, sessionID); err != nil && !errors.Is(err, chatService.ErrSessionNotFound) {
		log.Printf("[analyst] fail turn session=%s: %v", sessionID, err)
	}
}
