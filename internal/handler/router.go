package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/codepair/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger // nilの場合はslog.Default()

	// ミドルウェア依存
	Verifier          middleware.TokenVerifier
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HTTPMetrics       middleware.HTTPMetricsRecorder // nilの場合は記録しない

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない

	// ドメイン
	SessionService SessionServiceInterface
	ChatService    ChatServiceInterface
	CodeRunner     CodeRunner

	// IdPのユーザー同期。WebhookVerifierがnilの場合は/webhooks/usersを公開しない
	UserSyncer      UserSyncer
	WebhookVerifier WebhookVerifier
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  → (API) Auth → RateLimit(General) → CSRF
//
// /health、/metrics、/webhooks/usersは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	sessionHandler := NewSessionHandler(deps.SessionService)
	chatHandler := NewChatHandler(deps.ChatService)
	executionHandler := NewExecutionHandler(deps.CodeRunner)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.WebhookVerifier != nil && deps.UserSyncer != nil {
		webhookHandler := NewWebhookHandler(deps.UserSyncer, deps.WebhookVerifier)
		r.Post("/webhooks/users", webhookHandler.HandleUserEvent)
	}

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Verifier, deps.UserResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{AllowedOrigin: deps.CORSAllowedOrigin}))

		r.Get("/chat/token", chatHandler.GetToken)

		r.Route("/sessions", func(r chi.Router) {
			// POST /api/sessions - セッション作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.SessionCreateMiddleware()).Post("/", sessionHandler.CreateSession)

			r.Get("/active", sessionHandler.ListActiveSessions)
			r.Get("/my-recent", sessionHandler.ListMyRecentSessions)
			r.Get("/mine/recent", sessionHandler.ListMyRecentSessions)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.GetSession)
				r.Post("/join", sessionHandler.JoinSession)
				r.Post("/end", sessionHandler.EndSession)
			})
		})

		r.Post("/code/execute", executionHandler.Execute)
	})

	return r
}
