package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/datachat/backend/internal/handler/respond"
	"github.com/zhouzirui/datachat/backend/internal/middleware"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// Handler 会话与凭证的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	cookie  middleware.SessionOptions
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, cookie middleware.SessionOptions) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		cookie:  cookie,
	}
}

// RegisterRoutes 注册会话相关的路由，需挂在 middleware.Session 之后。
// 除创建会话外，修改状态的请求都需要 CSRF 令牌。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCSRFUnsafe)
		r.Get("/session", h.handleGetSession)
		r.Put("/session/credential", h.handleSetCredential)
		r.Delete("/session", h.handleEndSession)
		r.Get("/messages", h.handleListMessages)
	})
}

type credentialPayload struct {
	Credential string `json:"credential"`
}

// handleCreateSession 返回一个全新的会话，可选地同时保存凭证。
// 中间件为本次请求刚创建的会话直接复用，避免产生孤立会话；
// 已存在的会话从不复用，跨站请求无法把凭证写进他人的会话。
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload credentialPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	session, err := h.chatSvc.GetSession(ctx, middleware.SessionID(ctx))
	if !middleware.SessionCreated(ctx) || err != nil {
		session, err = h.chatSvc.CreateSession(ctx)
		if err != nil {
			respond.Error(w, err)
			return
		}
	}

	if credential := strings.TrimSpace(payload.Credential); credential != "" {
		if err := h.chatSvc.SetCredential(ctx, session.ID, credential); err != nil {
			respond.Error(w, err)
			return
		}
		session.HasCredential = true
	}

	h.setCookie(w, session.ID)
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 返回当前会话的快照
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		respond.Error(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleSetCredential 保存凭证，仅存在于会话内存中
func (h *Handler) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var payload credentialPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	credential := strings.TrimSpace(payload.Credential)
	if credential == "" {
		utils.RespondError(w, http.StatusBadRequest, "credential is required")
		return
	}

	ctx := r.Context()
	sessionID := middleware.SessionID(ctx)
	if err := h.chatSvc.SetCredential(ctx, sessionID, credential); err != nil {
		respond.Error(w, err)
		return
	}

	session, err := h.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleEndSession 结束会话并丢弃凭证与历史
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.EndSession(r.Context(), middleware.SessionID(r.Context())); err != nil {
		respond.Error(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages 返回可见的对话记录（不含系统消息）
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := middleware.SessionID(ctx)

	if _, err := h.chatSvc.Credential(ctx, sessionID); err != nil {
		respond.Error(w, err)
		return
	}

	transcript, err := h.chatSvc.LoadTranscript(ctx, sessionID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	if transcript == nil {
		transcript = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": transcript})
}

func (h *Handler) setCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.CookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(middleware.SessionHeader, sessionID)
}
