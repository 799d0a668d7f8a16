package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	Signer      CookieSigner

	// 認証ゲート
	SessionResolver middleware.SessionResolver
	TokenVerifier   middleware.AccessTokenVerifier

	// ミドルウェア依存
	CORSAllowedOrigin string
	TrustProxy        bool
	RateLimiter       *middleware.RateLimiter
	LoginLimiter      *middleware.LoginLimiter
	Logger            *slog.Logger

	// 運用
	Recorder     metrics.AuthRecorder
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → Recovery → Logging → SecurityHeaders → CORS
//
// /api 配下には加えてRateLimit(General)を適用し、ログインの2ルートにはLoginLimiterを、
// 保護ルートにはセッションまたはBearerのGateを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	// プロキシヘッダーは偽装できるため、信頼できるプロキシ配下でのみ採用する
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.Production))
	r.Use(middleware.NewCORSMiddleware(middleware.DefaultCORSConfig(deps.CORSAllowedOrigin)))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "リソースが見つかりません。", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, "許可されていないメソッドです。", "")
	})

	authHandler := NewAuthHandler(deps.AuthService, deps.Signer, deps.AuthConfig)
	sessionGate := middleware.NewGate(middleware.NewSessionAuthenticator(deps.SessionResolver, deps.Signer))
	bearerGate := middleware.NewGate(middleware.NewBearerAuthenticator(deps.TokenVerifier))

	// --- 運用エンドポイント ---

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "authgate: 認証API")
	})
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証API ---
	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Route("/auth", func(r chi.Router) {
			loginLimit := func(next http.Handler) http.Handler { return next }
			if deps.LoginLimiter != nil {
				loginLimit = deps.LoginLimiter.Middleware()
			}

			// セッション方式
			r.Post("/register-session", authHandler.RegisterSession)
			r.With(loginLimit).Post("/login-session", authHandler.LoginSession)
			r.Get("/logout-session", authHandler.LogoutSession)
			r.With(sessionGate.Authenticate).Get("/profile-session", authHandler.Profile)
			r.With(sessionGate.Require(model.RoleAdmin)).Get("/admin-only", authHandler.AdminOnly)

			// JWT方式
			r.Post("/register-jwt", authHandler.RegisterJWT)
			r.With(loginLimit).Post("/login-jwt", authHandler.LoginJWT)
			r.Get("/logout-jwt", authHandler.LogoutJWT)
			r.Get("/refresh-token", authHandler.RefreshToken)
			r.With(bearerGate.Authenticate).Get("/profile-jwt", authHandler.Profile)
			r.With(bearerGate.Require(model.RoleAdmin)).Get("/admin-only-jwt", authHandler.AdminOnly)
		})
	})

	return r
}
