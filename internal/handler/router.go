package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/habitloop/internal/metrics"
	"github.com/hitoshi/habitloop/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HTTPRecorder      metrics.HTTPRecorder
	Logger            *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 習慣
	HabitService     HabitServiceInterface
	AnalyticsService AnalyticsServiceInterface

	// ブログ
	BlogService BlogServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics
//	  → (認証必須ルートのみ) BearerAuth → RateLimit(General)
//
// POST /habits には作成専用レート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.HTTPRecorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(recorder))

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	authed := r.With(middleware.NewBearerAuthMiddleware(deps.Authenticator))
	var createMiddleware func(http.Handler) http.Handler
	if deps.RateLimiter != nil {
		authed = authed.With(deps.RateLimiter.GeneralMiddleware())
		createMiddleware = deps.RateLimiter.HabitCreationMiddleware()
	}

	SetupHabitRoutes(r, authed, deps.HabitService, createMiddleware)
	SetupAnalyticsRoutes(authed, deps.AnalyticsService)
	SetupUserRoutes(authed, deps.UserService)
	SetupBlogRoutes(r, deps.BlogService)

	return r
}
