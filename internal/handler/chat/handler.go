package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/auth"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
	"github.com/zhouzirui/pairchat/backend/internal/service/delivery"
	"github.com/zhouzirui/pairchat/backend/internal/store"
	"github.com/zhouzirui/pairchat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	store   store.Store
	tracker *delivery.Tracker
	log     *zap.Logger
}

// New 创建聊天处理器
func New(s store.Store, tracker *delivery.Tracker, log *zap.Logger) *Handler {
	return &Handler{
		store:   s,
		tracker: tracker,
		log:     log.Named("chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users", h.handleListUsers)
	r.Get("/conversations/{username}/messages", h.handleConversation)
}

// handleListUsers 列出除调用者以外的所有用户
func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.UserFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	users, err := h.store.Users(r.Context())
	if err != nil {
		h.log.Error("list users failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string][]string{
		"users": lo.Without(users, caller),
	})
}

// handleConversation 返回调用者与 username 之间的完整会话，不改变已读状态
func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.UserFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	peer := chi.URLParam(r, "username")

	history, err := h.tracker.LoadConversation(r.Context(), caller, peer)
	if err != nil {
		h.log.Error("load conversation failed", zap.String("user", caller), zap.String("peer", peer), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string][]chat.HistoryEntry{
		"messages": lo.Map(history, func(m chat.Message, _ int) chat.HistoryEntry { return chat.NewHistoryEntry(m) }),
	})
}
