package chat

import (
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle position of a Conversation.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateSeeded         State = "seeded"
	StateAwaitingInput  State = "awaiting_input"
	StateStreamingReply State = "streaming_reply"
)

var (
	ErrAlreadySeeded  = errors.New("conversation already seeded")
	ErrNotSeeded      = errors.New("conversation not seeded")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrTurnInProgress = errors.New("a reply is already streaming")
	ErrNoTurnPending  = errors.New("no reply is streaming")
)

// Conversation is an append-only message list whose first element is the
// system message. It is not safe for concurrent use; the owning session
// serializes access.
type Conversation struct {
	state    State
	messages []Message
}

// NewConversation returns an uninitialized conversation.
func NewConversation() *Conversation {
	return &Conversation{state: StateUninitialized}
}

// State reports the current lifecycle state.
func (c *Conversation) State() State {
	return c.state
}

// Len counts all messages including the system message.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Seed installs the system message. It succeeds exactly once.
func (c *Conversation) Seed(systemPrompt string) error {
	if c.state != StateUninitialized {
		return ErrAlreadySeeded
	}
	c.messages = append(make([]Message, 0, 16), Message{Role: RoleSystem, Content: systemPrompt})
	c.state = StateSeeded
	return nil
}

// Transcript returns the visible messages (everything after the system
// message) in chat order. Rendering a freshly seeded conversation moves it to
// awaiting input.
func (c *Conversation) Transcript() []Message {
	if c.state == StateUninitialized {
		return nil
	}
	if c.state == StateSeeded {
		c.state = StateAwaitingInput
	}
	visible := make([]Message, len(c.messages)-1)
	copy(visible, c.messages[1:])
	return visible
}

// Messages returns a copy of the full ordered sequence sent to the model.
func (c *Conversation) Messages() []Message {
	copied := make([]Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}

// BeginTurn appends the user's text verbatim and enters streaming_reply.
func (c *Conversation) BeginTurn(text string) error {
	switch c.state {
	case StateUninitialized:
		return ErrNotSeeded
	case StateStreamingReply:
		return ErrTurnInProgress
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.messages = append(c.messages, Message{Role: RoleUser, Content: text})
	c.state = StateStreamingReply
	return nil
}

// CompleteTurn appends the assembled reply and returns to awaiting input.
func (c *Conversation) CompleteTurn(reply string) error {
	if c.state != StateStreamingReply {
		return fmt.Errorf("complete turn in state %s: %w", c.state, ErrNoTurnPending)
	}
	c.messages = append(c.messages, Message{Role: RoleAssistant, Content: reply})
	c.state = StateAwaitingInput
	return nil
}

// FailTurn returns to awaiting input without appending anything. The user
// message of the failed turn stays in history.
func (c *Conversation) FailTurn() error {
	if c.state != StateStreamingReply {
		return fmt.Errorf("fail turn in state %s: %w", c.state, ErrNoTurnPending)
	}
	c.state = StateAwaitingInput
	return nil
}
