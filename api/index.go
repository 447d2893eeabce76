package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"kindred-collective-backend/pkg/config"
	"kindred-collective-backend/pkg/database"
	"kindred-collective-backend/pkg/handlers"
	"kindred-collective-backend/pkg/logger"
	customMiddleware "kindred-collective-backend/pkg/middleware"
	"kindred-collective-backend/pkg/notify"
	"kindred-collective-backend/pkg/orgs"
	"kindred-collective-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// 冷启动时构建一次，热调用复用
var (
	routerMu     sync.Mutex
	cachedRouter http.Handler
)

// Handler 是Vercel函数的入口点
// 所有API端点集中在一个Chi路由器中管理（单体路由模式）
func Handler(w http.ResponseWriter, r *http.Request) {
	router, err := coldStartRouter(r.Context())
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Service initialisation failed")
		return
	}
	router.ServeHTTP(w, r)
}

func coldStartRouter(ctx context.Context) (http.Handler, error) {
	routerMu.Lock()
	defer routerMu.Unlock()
	if cachedRouter != nil {
		return cachedRouter, nil
	}

	cfg := config.GetCached()
	log := logger.NewLoggerOrNop(cfg.LogLevel, cfg.LogFormat, "kindred-api")
	if err := cfg.Validate(); err != nil {
		log.Error("configuration error", zap.Error(err))
		return nil, err
	}

	store, err := database.GetStore(ctx, StoreConfig(cfg), log)
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		return nil, err
	}
	// 连接关闭由函数实例生命周期决定
	notifier, _ := notify.New(cfg, log)

	cachedRouter = NewRouter(cfg, store, notifier, log)
	return cachedRouter, nil
}

// StoreConfig maps the application config onto the store selector.
func StoreConfig(cfg *config.Config) database.DatabaseConfig {
	return database.DatabaseConfig{
		UseLocalDB:  cfg.UseLocalDB,
		DataDir:     cfg.DataDir,
		PostgresDSN: cfg.PostgresDSN,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
		Debug:       cfg.Debug,
	}
}

// NewRouter wires handlers, middleware and routes over the given store and notifier.
func NewRouter(cfg *config.Config, store database.Store, notifier notify.Notifier, log *zap.Logger) http.Handler {
	jwtService := utils.NewJWTService(cfg.JWTSecret)
	service := orgs.NewService(store, notifier, log, orgs.Config{
		AppBaseURL: cfg.AppBaseURL,
		InviteTTL:  cfg.InviteTTL,
	})

	router := chi.NewRouter()
	setupMiddleware(router, cfg, log)
	setupRoutes(router, cfg, log, routeDeps{
		auth:    handlers.NewAuthHandler(cfg, store, jwtService, service, log),
		orgs:    handlers.NewOrgsHandler(service, log),
		invites: handlers.NewInvitesHandler(service, log),
		tokens:  jwtService,
	})
	return router
}

type routeDeps struct {
	auth    *handlers.AuthHandler
	orgs    *handlers.OrgsHandler
	invites *handlers.InvitesHandler
	tokens  customMiddleware.TokenValidator
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config, log *zap.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// 先规范化路径，再记录日志与路由
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(log))
	router.Use(customMiddleware.Recovery(log, cfg.IsDevelopment()))
	router.Use(customMiddleware.CORS(cfg.AllowedOrigins))

	// 超时中间件（Vercel函数有时间限制）
	router.Use(middleware.Timeout(25 * time.Second))
	router.Use(middleware.Compress(5))

	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, cfg *config.Config, log *zap.Logger, d routeDeps) {
	router.Get("/", d.auth.HealthCheck)

	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.GetConnectionStats())
		})
	}

	limited := customMiddleware.RateLimitByIP(cfg.RateLimitPerMinute, log)
	requireAuth := customMiddleware.AuthMiddleware(d.tokens, log)

	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.MaxBodySize(1 << 20))
		r.Use(customMiddleware.ContentTypeJSON)

		r.Route("/auth", func(r chi.Router) {
			r.Use(limited)
			r.Post("/register", d.auth.Register)
			r.Post("/login", d.auth.Login)
			r.Post("/refresh", d.auth.RefreshToken)
		})

		r.Route("/invites", func(r chi.Router) {
			r.Use(limited)
			r.Get("/{token}", d.invites.Preview)
			r.With(requireAuth).Post("/accept", d.invites.Accept)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Route("/organisations", func(r chi.Router) {
				r.Get("/", d.orgs.ListMyOrganisations)
				r.Post("/", d.orgs.CreateOrganisation)
				r.Route("/{orgId}", func(r chi.Router) {
					r.Get("/", d.orgs.GetOrganisation)
					r.Get("/members", d.orgs.ListMembers)
					r.Delete("/members/{userId}", d.orgs.RemoveMember)
					r.Put("/members/{userId}/role", d.orgs.ChangeMemberRole)
					r.Post("/transfer", d.orgs.TransferOwnership)
					r.Get("/invites", d.orgs.ListInvites)
					r.With(limited).Post("/invites", d.orgs.CreateInvite)
				})
			})

			r.Route("/me/organisation/invite", func(r chi.Router) {
				r.Get("/", d.orgs.ListInvites)
				r.With(limited).Post("/", d.orgs.CreateInvite)
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
