// Package page serves the server-rendered analyst page.
package page

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/datachat/backend/internal/handler/respond"
	"github.com/zhouzirui/datachat/backend/internal/middleware"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	"github.com/zhouzirui/datachat/backend/internal/service/analyst"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

//go:embed templates/index.html
var templates embed.FS

var indexTmpl = template.Must(template.ParseFS(templates, "templates/index.html"))

// Handler renders the page and accepts its form posts.
type Handler struct {
	analyst *analyst.Service
	chatSvc *chatService.Service
}

// New creates the page handler.
func New(analystSvc *analyst.Service, chatSvc *chatService.Service) *Handler {
	return &Handler{analyst: analystSvc, chatSvc: chatSvc}
}

// RegisterRoutes mounts the page routes. They must sit behind middleware.Session.
// Form posts carry the CSRF token the page embeds.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCSRF)
		r.Post("/credential", h.handleCredential)
		r.Post("/message", h.handleMessage)
	})
}

type renderedMessage struct {
	Role chat.Role
	HTML template.HTML
}

type previewRow struct {
	Index  int
	Values []string
}

type pageData struct {
	CSRFToken      string
	HasCredential  bool
	Notice         string
	Error          string
	Source         string
	Columns        []string
	Rows           []previewRow
	Transcript     []renderedMessage
	Placeholder    string
	ShowChat       bool
	TurnInProgress bool
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, r.Context(), "")
}

func (h *Handler) handleCredential(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid form")
		return
	}

	ctx := r.Context()
	credential := strings.TrimSpace(r.PostForm.Get("credential"))
	if err := h.chatSvc.SetCredential(ctx, middleware.SessionID(ctx), credential); err != nil {
		respond.Error(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleMessage runs a turn without streaming for clients without scripts.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid form")
		return
	}

	ctx := r.Context()
	_, err := h.analyst.Ask(ctx, middleware.SessionID(ctx), r.PostForm.Get("message"), discard{})
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		h.render(w, ctx, respond.Message(err))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, ctx context.Context, turnError string) {
	sessionID := middleware.SessionID(ctx)
	data := pageData{
		CSRFToken:   middleware.CSRFToken(ctx),
		Placeholder: "Haz una pregunta sobre el dataset...",
	}

	view, err := h.analyst.Render(ctx, sessionID)
	switch {
	case errors.Is(err, chatService.ErrCredentialMissing):
		data.Notice = analyst.CredentialPrompt
	case err != nil:
		data.HasCredential = true
		data.Error = respond.Message(err)
	default:
		data.HasCredential = true
		data.ShowChat = true
		data.Source = view.Preview.Source
		data.Columns = view.Preview.Columns
		data.Rows = make([]previewRow, 0, view.Preview.Len())
		for i, row := range view.Preview.Rows {
			data.Rows = append(data.Rows, previewRow{Index: i, Values: row})
		}
		data.Transcript = make([]renderedMessage, 0, len(view.Transcript))
		for _, msg := range view.Transcript {
			data.Transcript = append(data.Transcript, renderedMessage{Role: msg.Role, HTML: utils.RenderMarkdown(msg.Content)})
		}
		if session, err := h.chatSvc.GetSession(ctx, sessionID); err == nil {
			data.TurnInProgress = session.State == chat.StateStreamingReply
		}
		if turnError != "" {
			data.Error = turnError
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("[page] render failed session=%s: %v", sessionID, err)
	}
}

type discard struct{}

func (discard) UserMessage(chat.Message) error { return nil }
func (discard) Delta(string) error { return nil }
