package dataset

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/datachat/backend/internal/handler/respond"
	"github.com/zhouzirui/datachat/backend/internal/middleware"
	"github.com/zhouzirui/datachat/backend/internal/service/analyst"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

// Handler 数据集预览的HTTP处理器
type Handler struct {
	analyst *analyst.Service
}

// New 创建数据集处理器
func New(analystSvc *analyst.Service) *Handler {
	return &Handler{analyst: analystSvc}
}

// RegisterRoutes 注册数据集相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/dataset", h.handlePreview)
}

type previewResponse struct {
	Source  string     `json:"source"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Count   int        `json:"count"`
}

// handlePreview 返回数据集前若干行；limit 只能缩小预览
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	table, err := h.analyst.Preview(r.Context(), middleware.SessionID(r.Context()))
	if err != nil {
		respond.Error(w, err)
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		table = table.Head(limit)
	}

	rows := table.Rows
	if rows == nil {
		rows = [][]string{}
	}
	utils.RespondJSON(w, http.StatusOK, previewResponse{
		Source:  table.Source,
		Columns: table.Columns,
		Rows:    rows,
		Count:   table.Len(),
	})
}
