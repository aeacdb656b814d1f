package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/auth"
	"github.com/zhouzirui/pairchat/backend/internal/config"
	"github.com/zhouzirui/pairchat/backend/internal/handler/chat"
	"github.com/zhouzirui/pairchat/backend/internal/handler/relay"
	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/pairchat/backend/internal/middleware"
	"github.com/zhouzirui/pairchat/backend/internal/service/delivery"
	"github.com/zhouzirui/pairchat/backend/internal/service/room"
	"github.com/zhouzirui/pairchat/backend/internal/store"
	"github.com/zhouzirui/pairchat/backend/pkg/utils"
)

// Deps 汇总路由需要的服务。
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Tracker  *delivery.Tracker
	Rooms    room.Broadcaster
	Auth     auth.Provider
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(d.Logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	relayHandler := relay.New(relay.Options{
		Store:         d.Store,
		Rooms:         d.Rooms,
		Tracker:       d.Tracker,
		Relay:         cfg.Relay,
		AutoProvision: cfg.Store.AutoProvision,
		CheckOrigin:   middlewarePkg.AllowOrigin(cfg.Server.CORSOrigins),
		Logger:        d.Logger,
		Metrics:       d.Metrics,
	})
	chatHandler := chat.New(d.Store, d.Tracker, d.Logger)

	r.Group(func(protected chi.Router) {
		protected.Use(middlewarePkg.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		protected.Use(auth.Middleware(d.Auth, d.Logger.Named("auth")))

		relayHandler.RegisterRoutes(protected)
		protected.Route("/api", chatHandler.RegisterRoutes)
	})

	return r
}
