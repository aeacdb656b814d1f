package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/auth"
	"github.com/zhouzirui/pairchat/backend/internal/config"
	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
	"github.com/zhouzirui/pairchat/backend/internal/service/delivery"
	"github.com/zhouzirui/pairchat/backend/internal/service/room"
	"github.com/zhouzirui/pairchat/backend/internal/store"
	"github.com/zhouzirui/pairchat/backend/pkg/utils"
)

var (
	// ErrConnectionSetup ends a session that could not join its room.
	ErrConnectionSetup = errors.New("connection setup failed")
	// ErrMalformedCommand marks an inbound payload that is ignored.
	ErrMalformedCommand = errors.New("malformed command")
)

// Options 汇总聊天 WebSocket 处理器的依赖。
type Options struct {
	Store         store.Store
	Rooms         room.Broadcaster
	Tracker       *delivery.Tracker
	Relay         config.RelayConfig
	AutoProvision bool
	CheckOrigin   func(r *http.Request) bool
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Handler 处理 /ws/chat/{username} 上的双人聊天连接。
type Handler struct {
	store         store.Store
	rooms         room.Broadcaster
	tracker       *delivery.Tracker
	cfg           config.RelayConfig
	autoProvision bool
	upgrader      websocket.Upgrader
	validate      *validator.Validate
	log           *zap.Logger
	metrics       *metrics.Metrics
}

// New 创建聊天 WebSocket 处理器。
func New(opts Options) *Handler {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if opts.Relay.SendBuffer <= 0 {
		opts.Relay.SendBuffer = 64
	}
	return &Handler{
		store:         opts.Store,
		rooms:         opts.Rooms,
		tracker:       opts.Tracker,
		cfg:           opts.Relay,
		autoProvision: opts.AutoProvision,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		validate: validator.New(),
		log:      opts.Logger.Named("relay"),
		metrics:  opts.Metrics,
	}
}

// RegisterRoutes 注册聊天 WebSocket 路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{username}", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	peer := chi.URLParam(r, "username")
	if peer == "" {
		utils.RespondError(w, http.StatusBadRequest, "username is required")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		h.log.Debug("websocket upgrade failed", zap.String("user", user), zap.Error(err))
		return
	}

	s := newSession(user, peer, newConnection(ws, h.cfg.SendBuffer), h.cfg.LiveTimestamps, h.log)
	h.serve(context.WithoutCancel(r.Context()), s)
}

// serve runs the whole lifecycle of s and returns once it is closed.
func (h *Handler) serve(parent context.Context, s *Session) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer h.disconnect(ctx, s)

	s.log.Debug("session state changed", zap.Stringer("to", StateConnecting))
	h.configureRead(s)
	go s.conn.writeLoop(h.cfg.PingInterval)

	if err := h.connect(ctx, s); err != nil {
		s.log.Error("session setup failed", zap.Error(err))
		s.conn.close(websocket.CloseInternalServerErr, "setup failed")
		return
	}

	delivered, err := h.tracker.DeliverBacklog(ctx, s.user, s)
	if err != nil {
		s.log.Warn("backlog delivery incomplete", zap.Int("delivered", delivered), zap.Error(err))
	}
	s.advance(StateActive)

	h.readLoop(ctx, s)
}

func (h *Handler) configureRead(s *Session) {
	ws := s.conn.ws
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}
	if h.cfg.PongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}
}

// connect performs the Connecting -> Joined transition.
func (h *Handler) connect(ctx context.Context, s *Session) error {
	if h.autoProvision {
		if err := h.store.EnsureUser(ctx, s.user); err != nil {
			s.log.Warn("auto provisioning failed", zap.Error(err))
		}
	}

	if err := h.rooms.Join(ctx, s.room, s); err != nil {
		return fmt.Errorf("%w: join %s: %w", ErrConnectionSetup, s.room, err)
	}
	s.advance(StateJoined)
	h.metrics.SessionOpened()
	return nil
}

// disconnect leaves the room and closes the socket. It runs whatever state the session reached.
func (h *Handler) disconnect(ctx context.Context, s *Session) {
	joined := s.State() >= StateJoined
	h.rooms.Leave(context.WithoutCancel(ctx), s.room, s)
	s.conn.close(websocket.CloseNormalClosure, "")
	if s.advance(StateClosed) && joined {
		h.metrics.SessionClosed()
	}
}

func (h *Handler) readLoop(ctx context.Context, s *Session) {
	for {
		_, data, err := s.conn.ws.ReadMessage()
		if err != nil {
			if !s.conn.closed() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Info("websocket read error", zap.Error(err))
			}
			return
		}
		if h.cfg.PongWait > 0 {
			_ = s.conn.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		}

		if err := h.handleCommand(ctx, s, data); err != nil {
			if errors.Is(err, ErrMalformedCommand) {
				s.log.Debug("ignoring inbound payload", zap.Error(err))
				continue
			}
			s.log.Warn("command failed", zap.Error(err))
		}
	}
}

func (h *Handler) handleCommand(ctx context.Context, s *Session, data []byte) error {
	var cmd chat.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}

	switch cmd.Action {
	case chat.ActionLoadMessages:
		return h.loadMessages(ctx, s, cmd)
	case chat.ActionSendMessage:
		return h.sendMessage(ctx, s, cmd)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrMalformedCommand, cmd.Action)
	}
}

func (h *Handler) loadMessages(ctx context.Context, s *Session, cmd chat.Command) error {
	if cmd.SelectedUser == "" {
		return fmt.Errorf("%w: selected_user is required", ErrMalformedCommand)
	}

	history, err := h.tracker.LoadConversation(ctx, s.user, cmd.SelectedUser)
	if err != nil {
		return fmt.Errorf("load conversation with %s: %w", cmd.SelectedUser, err)
	}
	h.metrics.HistoryLoaded()

	return s.conn.writeJSON(chat.HistoryReply{
		Action:   chat.ActionLoadMessages,
		Messages: lo.Map(history, func(m chat.Message, _ int) chat.HistoryEntry { return chat.NewHistoryEntry(m) }),
	})
}

// sendMessage persists then broadcasts. A failed write is logged and the message is still relayed live.
func (h *Handler) sendMessage(ctx context.Context, s *Session, cmd chat.Command) error {
	msg := chat.SendMessage{Message: cmd.Message, Sender: cmd.Sender, Receiver: cmd.Receiver}
	if err := h.validate.Struct(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	if msg.Sender != s.user || msg.Receiver != s.peer {
		return fmt.Errorf("%w: %s -> %s does not match session %s -> %s",
			ErrMalformedCommand, msg.Sender, msg.Receiver, s.user, s.peer)
	}

	evt := chat.ChatEvent{Message: msg.Message, Sender: msg.Sender, Timestamp: time.Now().UTC()}
	stored, err := h.store.Persist(ctx, msg.Sender, msg.Receiver, msg.Message)
	if err != nil {
		h.metrics.PersistFailed(true)
		s.log.Warn("persist failed, relaying unsaved message",
			zap.String("receiver", msg.Receiver),
			zap.Error(err),
		)
	} else {
		evt.Timestamp = stored.Timestamp
	}

	if err := h.rooms.Broadcast(ctx, s.room, evt); err != nil {
		s.log.Debug("broadcast partially failed", zap.Error(err))
	}
	h.metrics.MessageRelayed()
	return nil
}
