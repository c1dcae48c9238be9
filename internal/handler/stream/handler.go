package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/zhouzirui/datachat/backend/internal/apperr"
	"github.com/zhouzirui/datachat/backend/internal/handler/respond"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	"github.com/zhouzirui/datachat/backend/internal/service/analyst"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	analyst *analyst.Service
}

// New creates a new stream handler
func New(analystSvc *analyst.Service) *Handler {
	return &Handler{analyst: analystSvc}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string    `json:"event"`
	Role      chat.Role `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	HTML      string    `json:"html,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Finished  bool      `json:"finished,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      string    `json:"kind,omitempty"`
}

// sseRenderer writes the SSE headers lazily so failures that happen before
// the first event can still be answered with a plain JSON error.
type sseRenderer struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	sessionID string
	started   bool
}

func (r *sseRenderer) begin() error {
	if r.started {
		return nil
	}
	r.started = true
	utils.SetupSSEHeaders(r.w)
	r.w.WriteHeader(http.StatusOK)
	return r.send(StreamResponse{Event: "start", SessionID: r.sessionID})
}

func (r *sseRenderer) send(response StreamResponse) error {
	return utils.SendSSEEvent(r.w, r.flusher, response.Event, response)
}

func (r *sseRenderer) UserMessage(msg chat.Message) error {
	if err := r.begin(); err != nil {
		return err
	}
	return r.send(StreamResponse{
		Event:     "user",
		Role:      msg.Role,
		Content:   msg.Content,
		HTML:      string(utils.RenderMarkdown(msg.Content)),
		SessionID: r.sessionID,
	})
}

func (r *sseRenderer) Delta(fragment string) error {
	return r.send(StreamResponse{
		Event:     "delta",
		Content:   fragment,
		SessionID: r.sessionID,
	})
}

// HandleStreamRequest runs one chat turn and streams it as start, user,
// delta..., message, end. A failure after the stream opened is reported as an
// error event; before that it is a JSON error response.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return fmt.Errorf("streaming unsupported")
	}

	renderer := &sseRenderer{w: w, flusher: flusher, sessionID: sessionID}
	reply, err := h.analyst.Ask(ctx, sessionID, userMessage, renderer)
	if err != nil {
		if !renderer.started {
			respond.Error(w, err)
			return err
		}
		kind, _ := apperr.KindOf(err)
		if sendErr := renderer.send(StreamResponse{
			Event:     "error",
			SessionID: sessionID,
			Error:     respond.Message(err),
			Kind:      string(kind),
		}); sendErr != nil {
			log.Printf("[stream] failed to deliver error session=%s: %v", sessionID, sendErr)
		}
		return err
	}

	if err := renderer.send(StreamResponse{
		Event:     "message",
		Role:      chat.RoleAssistant,
		Content:   reply,
		HTML:      string(utils.RenderMarkdown(reply)),
		SessionID: sessionID,
	}); err != nil {
		return err
	}

	if err := renderer.send(StreamResponse{Event: "end", SessionID: sessionID, Finished: true}); err != nil {
		return err
	}

	log.Printf("[stream] completed response for session=%s length=%d", sessionID, len(reply))
	return nil
}
