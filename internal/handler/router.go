package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	Sanitizer   security.ProfileSanitizerService

	// 運用
	HealthChecker HealthChecker
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CORS → SecurityHeaders → HTTPStatus → AuthContext → Logging
//
// AuthContextをLoggingより先に適用し、アクセスログにプリンシパルのemailを含める。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Metrics != nil {
		r.Use(metrics.HTTPStatusMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewAuthContext(deps.SessionFinder))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.NotFound(middleware.NotFoundHandler())
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler())

	authHandler := NewAuthHandler(deps.AuthService, deps.Sanitizer, deps.AuthConfig)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// 認証ルート（OAuthフロー）。匿名クライアントが叩くためレート制限をかける
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Get("/google", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/login/check-auth", authHandler.CheckAuth)
		r.Get("/logout", authHandler.Logout)
	})

	// 運用エンドポイント
	r.Get("/health", healthHandler.Check)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
