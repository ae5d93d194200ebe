package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/studentportal/internal/middleware"
	"github.com/hitoshi/studentportal/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionCodec      *session.Codec
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	Gate        GateInterface
	AuthConfig  AuthHandlerConfig

	// アカウントライフサイクル
	AccountService AccountServiceInterface
	AccountConfig  AccountHandlerConfig

	// 運用
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Identity → Logging → CSRF → RateLimit
//
// 認可の強制はミドルウェアでは行わない。各ライフサイクル操作がサービス層で
// アクセスゲートを最初に呼ぶ。Identityミドルウェアはログとレート制限の
// キーを供給するだけの注入に徹する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Gate, deps.AuthConfig)
	accountHandler := NewAccountHandler(deps.AccountService, deps.AccountConfig)

	// --- 運用エンドポイント（ミドルウェアチェーンの外） ---

	r.Get("/health", handleHealth)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.SessionCodec))
		r.Use(middleware.NewLoggingMiddleware(slog.Default()))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// CSRFトークン取得
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// OAuthログインフロー
		r.Route("/api/oauth2", func(r chi.Router) {
			r.Get("/initiate", authHandler.Initiate)
			r.Get("/callback", authHandler.Callback)
		})

		// セッション管理
		r.Post("/api/logout", authHandler.Logout)
		r.Get("/api/me", authHandler.Me)

		// アカウントライフサイクル
		r.With(deps.RateLimiter.RegisterMiddleware()).Post("/api/register", accountHandler.Register)
		r.Post("/api/reset-password", accountHandler.ResetPassword)
		r.Post("/api/delete-account", accountHandler.DeleteAccount)

		// エイリアス管理
		r.Route("/api/aliases", func(r chi.Router) {
			r.Get("/", accountHandler.ListAliases)
			r.Post("/add", accountHandler.AddAlias)
			r.Post("/delete", accountHandler.RemoveAlias)
		})
	})

	return r
}

// handleHealth はヘルスチェックエンドポイント。
// ローカル状態を持たないサービスのため、プロセスの生存のみを報告する。
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
