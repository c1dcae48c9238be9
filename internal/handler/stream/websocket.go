package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/datachat/backend/internal/apperr"
	"github.com/zhouzirui/datachat/backend/internal/handler/respond"
	"github.com/zhouzirui/datachat/backend/internal/middleware"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
	"github.com/zhouzirui/datachat/backend/internal/service/analyst"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler WebSocket聊天处理器，与SSE共享同一套对话流程
type WebSocketHandler struct {
	analyst     *analyst.Service
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(analystSvc *analyst.Service) *WebSocketHandler {
	return &WebSocketHandler{
		analyst:     analystSvc,
		readTimeout: readTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由，需挂在 middleware.Session 之后。
// 仅凭 cookie 的握手需在查询参数中带 csrf_token。
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireCSRF).Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
}

func (c *wsConn) write(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *wsConn) sendError(message, kind string) {
	data := map[string]string{"message": message}
	if kind != "" {
		data["kind"] = kind
	}
	if err := c.write("error", data); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// wsRenderer adapts a connection to analyst.Renderer.
type wsRenderer struct {
	conn *wsConn
}

func (r *wsRenderer) UserMessage(msg chat.Message) error {
	return r.conn.write("user", map[string]any{
		"text": msg.Content,
		"html": string(utils.RenderMarkdown(msg.Content)),
	})
}

func (r *wsRenderer) Delta(fragment string) error {
	return r.conn.write("ai_delta", map[string]any{"text": fragment})
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())
	if sessionID == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &wsConn{conn: conn, sessionID: sessionID}

	extendDeadline := func() error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
	_ = extendDeadline()
	conn.SetPongHandler(func(string) error { return extendDeadline() })

	go h.pingLoop(ctx, client)

	if err := client.write("connected", map[string]any{"sessionId": sessionID}); err != nil {
		return
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		_ = extendDeadline()

		// 回合期间不读取连接，pong 也不会续期，回合结束后重新计时
		h.handleMessage(ctx, client, &msg)
		_ = extendDeadline()
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, client *wsConn, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			client.sendError("invalid text payload", "")
			return
		}
		h.processUserText(ctx, client, text.Text)
	default:
		client.sendError("unsupported message type: "+msg.Type, "")
	}
}

// processUserText runs one turn. Turns on a connection are sequential since
// the read loop waits for each to finish.
func (h *WebSocketHandler) processUserText(ctx context.Context, client *wsConn, text string) {
	reply, err := h.analyst.Ask(ctx, client.sessionID, text, &wsRenderer{conn: client})
	if err != nil {
		kind, _ := apperr.KindOf(err)
		client.sendError(respond.Message(err), string(kind))
		return
	}

	if err := client.write("ai", map[string]any{
		"text":    reply,
		"html":    string(utils.RenderMarkdown(reply)),
		"isFinal": true,
	}); err != nil {
		log.Printf("[websocket] write reply failed: %v", err)
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, client *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}
