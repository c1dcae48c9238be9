package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/datachat/backend/internal/handler/chat"
	"github.com/zhouzirui/datachat/backend/internal/handler/dataset"
	"github.com/zhouzirui/datachat/backend/internal/handler/page"
	"github.com/zhouzirui/datachat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/datachat/backend/internal/middleware"
	"github.com/zhouzirui/datachat/backend/internal/service/analyst"
	chatService "github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
// allowedOrigins lists the cross-origin callers that may use the API with credentials.
func NewRouter(chatSvc *chatService.Service, analystSvc *analyst.Service, cookie middlewarePkg.SessionOptions, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Create handlers
	pageHandler := page.New(analystSvc, chatSvc)
	chatHandler := chat.New(chatSvc, cookie)
	datasetHandler := dataset.New(analystSvc)
	streamHandler := stream.New(analystSvc)
	wsHandler := stream.NewWebSocketHandler(analystSvc)

	r.Group(func(r chi.Router) {
		r.Use(middlewarePkg.Session(chatSvc, cookie))

		pageHandler.RegisterRoutes(r)

		r.Route("/api", func(api chi.Router) {
			chatHandler.RegisterRoutes(api)
			datasetHandler.RegisterRoutes(api)
			wsHandler.RegisterRoutes(api)

			// 流式回合会写入会话，仅凭 cookie 的请求必须带 CSRF token
			api.With(middlewarePkg.RequireCSRF).Get("/stream", func(w http.ResponseWriter, r *http.Request) {
				sessionID := middlewarePkg.SessionID(r.Context())
				userMessage := r.URL.Query().Get("message")

				if err := streamHandler.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
					log.Printf("[stream] error handling request session=%s: %v", sessionID, err)
				}
			})
		})
	})

	return r
}
