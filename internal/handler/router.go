package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/xnatbot/internal/middleware"
	"github.com/hitoshi/xnatbot/internal/security"
)

// Coordinator は関連付けの開始から完了までを扱う。
type Coordinator interface {
	AssociationCoordinator
	AssociationStarter
}

// AccountStore はハンドラーが参照するアカウントの検索操作。
type AccountStore interface {
	AccountFinder
	AccountLookup
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	StatusObserver middleware.StatusObserver
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ミドルウェア依存
	SessionFinder          middleware.SessionFinder
	APIRateLimiter         *middleware.RateLimiter
	AssociationRateLimiter *middleware.RateLimiter
	CSRFConfig             middleware.CSRFConfig

	// 関連付け
	Coordinator       Coordinator
	AssociationPath   string
	OAuthRedirectPath string

	// アカウントとセッション
	Accounts AccountStore
	Sessions SessionService
	Cookie   CookieConfig

	// 共有メッセージ
	Messages  MessageService
	Sanitizer security.Sanitizer

	SlackSigningSecret string
	AppName            string
	CommandName        string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → SecurityHeaders
//	  /associate, /oauth/callback: RateLimit(IP)
//	  /api/*: Session → RateLimit(account) → CSRF
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	associationPath := deps.AssociationPath
	if associationPath == "" {
		associationPath = "/associate"
	}
	redirectPath := deps.OAuthRedirectPath
	if redirectPath == "" {
		redirectPath = "/oauth/callback"
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	associationHandler := NewAssociationHandler(deps.Coordinator, deps.Sessions, deps.AppName, deps.Cookie)
	authHandler := NewAuthHandler(deps.Sessions, deps.Cookie)
	slackHandler := NewSlackCommandHandler(deps.SlackSigningSecret, deps.Accounts, deps.Coordinator, deps.Messages)
	messageHandler := NewMessageHandler(deps.Messages, deps.Accounts)
	homeHandler := NewHomeHandler(deps.Sessions, deps.Messages, deps.Sanitizer, deps.AppName, deps.CommandName)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/", homeHandler)
	r.Post("/auth/logout", authHandler.Logout)
	r.Method(http.MethodPost, "/slack/commands", slackHandler)

	// 関連付けリンクはrefの総当たりを防ぐためIP単位で制限する
	r.Group(func(r chi.Router) {
		if deps.AssociationRateLimiter != nil {
			r.Use(deps.AssociationRateLimiter.Middleware(middleware.KeyByRemoteIP))
		}
		r.Get(associationPath, associationHandler.Associate)
		r.Get(redirectPath, associationHandler.Callback)
	})

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		if deps.APIRateLimiter != nil {
			r.Use(deps.APIRateLimiter.Middleware(middleware.KeyByAccountID))
		}
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
		r.Get("/message", messageHandler.GetMessage)
		r.Put("/message", messageHandler.PutMessage)
		r.Post("/commands", messageHandler.RunCommand)
	})

	return r
}
