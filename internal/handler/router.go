package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/walletauth/internal/metrics"
	"github.com/hitoshi/walletauth/internal/middleware"
	"github.com/hitoshi/walletauth/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	// MetricsHandler が nil の場合 /metrics は公開しない
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// 認証
	AuthService AuthServiceInterface
	Roles       *model.RoleSet

	// ユーザー
	Users     AdminUserStore
	Sanitizer PatchSanitizer
	// TokenParser が nil の場合 /api/users/me はマウントしない
	TokenParser middleware.TokenParser
	// AdminAPIKey が空の場合 /api/admin はマウントしない
	AdminAPIKey string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// /api 配下には全般のレート制限、/api/auth にはさらに認証用のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService)

	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// 認証フロー（ポーリングを含む）
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Get("/auth", authHandler.IssueChallenge)
			r.Post("/auth", authHandler.VerifyChallenge)
		})

		if deps.Roles != nil {
			r.Get("/roles", NewRolesHandler(deps.Roles))
		}

		if deps.TokenParser != nil && deps.Users != nil {
			userHandler := NewUserHandler(deps.Users)
			r.With(middleware.NewSessionMiddleware(deps.TokenParser)).Get("/users/me", userHandler.Me)
		}

		if deps.AdminAPIKey != "" && deps.Users != nil {
			adminHandler := NewAdminHandler(deps.Users, deps.Sanitizer)
			r.Route("/admin/users", func(r chi.Router) {
				r.Use(middleware.NewAdminKeyMiddleware(deps.AdminAPIKey))

				r.Get("/", adminHandler.ListUsers)
				r.Route("/{address}", func(r chi.Router) {
					r.Get("/", adminHandler.GetUser)
					r.Patch("/", adminHandler.UpdateUser)
					r.Delete("/", adminHandler.DeleteUser)
				})
			})
		}
	})

	return r
}
