package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/datachat/backend/internal/model/chat"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrCredentialMissing = errors.New("credential missing")
)

// session is the per-user scope: credential plus conversation. mu serializes
// every access to the conversation.
type session struct {
	mu           sync.Mutex
	id           string
	csrfToken    string
	credential   string
	conversation *chat.Conversation
	createdAt    time.Time
	lastSeenAt   time.Time
}

func (s *session) snapshot() chat.Session {
	return chat.Session{
		ID:            s.id,
		CSRFToken:     s.csrfToken,
		HasCredential: s.credential != "",
		State:         s.conversation.State(),
		Messages:      s.conversation.Len(),
		CreatedAt:     s.createdAt,
		LastSeenAt:    s.lastSeenAt,
	}
}

// Service encapsulates conversation state management.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
}

// NewService bootstraps the in-memory session store. Sessions idle for longer
// than ttl are removed by Sweep; a zero ttl disables expiry.
func NewService(ttl time.Duration) *Service {
	return &Service{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// CreateSession provisions an anonymous session with an uninitialized
// conversation.
func (s *Service) CreateSession(_ context.Context) (chat.Session, error) {
	now := s.now().UTC()
	sess := &session{
		id:           uuid.NewString(),
		csrfToken:    uuid.NewString(),
		conversation: chat.NewConversation(),
		createdAt:    now,
		lastSeenAt:   now,
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	log.Printf("[session] created session=%s", sess.id)
	return sess.snapshot(), nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	var snapshot chat.Session
	err := s.withSession(sessionID, func(sess *session) error {
		snapshot = sess.snapshot()
		return nil
	})
	return snapshot, err
}

// EndSession drops the session together with its credential and history.
func (s *Service) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	log.Printf("[session] ended session=%s", sessionID)
	return nil
}

// SetCredential stores the credential for the session lifetime. An empty
// value clears it.
func (s *Service) SetCredential(_ context.Context, sessionID, credential string) error {
	return s.withSession(sessionID, func(sess *session) error {
		sess.credential = credential
		return nil
	})
}

// Credential returns the stored credential or ErrCredentialMissing.
func (s *Service) Credential(_ context.Context, sessionID string) (string, error) {
	var credential string
	err := s.withSession(sessionID, func(sess *session) error {
		if sess.credential == "" {
			return ErrCredentialMissing
		}
		credential = sess.credential
		return nil
	})
	return credential, err
}

// EnsureSeeded installs the system message on first access. buildPrompt only
// runs for an uninitialized conversation.
func (s *Service) EnsureSeeded(_ context.Context, sessionID string, buildPrompt func() (string, error)) error {
	return s.withSession(sessionID, func(sess *session) error {
		if sess.conversation.State() != chat.StateUninitialized {
			return nil
		}
		prompt, err := buildPrompt()
		if err != nil {
			return err
		}
		return sess.conversation.Seed(prompt)
	})
}

// LoadTranscript returns the visible messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	var transcript []chat.Message
	err := s.withSession(sessionID, func(sess *session) error {
		transcript = sess.conversation.Transcript()
		return nil
	})
	return transcript, err
}

// LoadMessages returns the full message list including the system message.
func (s *Service) LoadMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	var messages []chat.Message
	err := s.withSession(sessionID, func(sess *session) error {
		messages = sess.conversation.Messages()
		return nil
	})
	return messages, err
}

// BeginTurn appends the user message and returns the full conversation to
// send upstream.
func (s *Service) BeginTurn(_ context.Context, sessionID, text string) ([]chat.Message, error) {
	var messages []chat.Message
	err := s.withSession(sessionID, func(sess *session) error {
		if err := sess.conversation.BeginTurn(text); err != nil {
			return err
		}
		messages = sess.conversation.Messages()
		return nil
	})
	return messages, err
}

// CompleteTurn stores the assembled assistant reply.
func (s *Service) CompleteTurn(_ context.Context, sessionID, reply string) error {
	return s.withSession(sessionID, func(sess *session) error {
		return sess.conversation.CompleteTurn(reply)
	})
}

// FailTurn ends the pending turn without an assistant message.
func (s *Service) FailTurn(_ context.Context, sessionID string) error {
	return s.withSession(sessionID, func(sess *session) error {
		return sess.conversation.FailTurn()
	})
}

// Sweep removes sessions idle for longer than the ttl and reports how many
// were dropped.
func (s *Service) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().UTC().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		expired := sess.lastSeenAt.Before(cutoff) && sess.conversation.State() != chat.StateStreamingReply
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps expired sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				log.Printf("[session] expired %d idle sessions", removed)
			}
		}
	}
}

func (s *Service) withSession(sessionID string, fn func(*session) error) error {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastSeenAt = s.now().UTC()
	return fn(sess)
}
