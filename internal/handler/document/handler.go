package document

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-interview/backend/internal/auth"
	"github.com/zhouzirui/z-interview/backend/internal/model/document"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// Handler 候选人材料的HTTP处理器
type Handler struct {
	docs document.Store
}

// New 创建材料处理器
func New(docs document.Store) *Handler {
	return &Handler{docs: docs}
}

// RegisterRoutes 注册材料相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/documents", h.handleList)
	r.Post("/documents", h.handleCreate)
}

// handleList 列出调用者的材料
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerFromContext(r.Context())
	docs, err := h.docs.List(r.Context(), ownerID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	utils.RespondJSON(w, http.StatusOK, docs)
}

// handleCreate 登记一份材料
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "caller identity missing")
		return
	}

	var payload struct {
		Kind    document.Kind `json:"kind"`
		Title   string        `json:"title"`
		Content string        `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := h.docs.Add(r.Context(), document.Document{
		OwnerID: ownerID,
		Kind:    payload.Kind,
		Title:   payload.Title,
		Content: payload.Content,
	})
	if err != nil {
		if errors.Is(err, document.ErrInvalidInput) {
			utils.RespondError(w, http.StatusBadRequest, "kind must be resume or portfolio and title is required")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to store document")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, doc)
}
