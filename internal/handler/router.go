package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lifeid/internal/metrics"
	"github.com/hitoshi/lifeid/internal/middleware"
	"github.com/hitoshi/lifeid/internal/profile"
	"github.com/hitoshi/lifeid/internal/security"

	"github.com/hitoshi/lifeid/internal/docstore"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          middleware.TokenVerifier
	States            middleware.StateResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	SessionService SessionServiceInterface
	TokenSource    TokenSource
	AuthConfig     AuthHandlerConfig

	// プロフィール
	ProfileRepo profile.Repository
	Sanitizer   security.TextSanitizerService

	// ユーザー
	UserService UserServiceInterface

	// インフラ
	Docs      docstore.Store
	Collector metrics.MetricsCollector
	Logger    *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → (CSRF) → SessionMiddleware → RateLimit
//
// 認証ルート（/auth/*）と公開閲覧ルート（/p/*）はセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Collector))
	}

	authHandler := NewAuthHandler(deps.SessionService, deps.TokenSource, deps.Verifier, deps.Collector, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileRepo, deps.Sanitizer, deps.Collector)
	userHandler := NewUserHandler(deps.UserService)
	healthHandler := NewHealthHandler(deps.Docs)

	// --- 認証不要のルート ---

	r.Get("/api/health", healthHandler.Check)
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 認証ルート
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// 公開URL経由のプロフィール閲覧（IP単位のレート制限のみ）
	r.With(deps.RateLimiter.PublicViewMiddleware()).Get("/p/{publicUrl}", profileHandler.PublicView)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: CSRF → Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewSessionMiddleware(deps.Verifier, deps.States))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プロフィール管理
		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.GetProfile)
			r.Put("/", profileHandler.SaveProfile)
			r.Patch("/", profileHandler.UpdateProfile)
			r.Delete("/", profileHandler.DeleteProfile)
		})

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
