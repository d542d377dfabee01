// Package app はサブコマンドごとの依存関係のワイヤリングと起動処理を提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/xnatbot/internal/association"
	"github.com/hitoshi/xnatbot/internal/auth"
	"github.com/hitoshi/xnatbot/internal/config"
	"github.com/hitoshi/xnatbot/internal/database"
	"github.com/hitoshi/xnatbot/internal/handler"
	"github.com/hitoshi/xnatbot/internal/httpclient"
	"github.com/hitoshi/xnatbot/internal/logger"
	"github.com/hitoshi/xnatbot/internal/message"
	"github.com/hitoshi/xnatbot/internal/metrics"
	"github.com/hitoshi/xnatbot/internal/middleware"
	"github.com/hitoshi/xnatbot/internal/notifier"
	"github.com/hitoshi/xnatbot/internal/repository"
	"github.com/hitoshi/xnatbot/internal/security"
	"github.com/hitoshi/xnatbot/internal/worker/cleanup"
	"github.com/hitoshi/xnatbot/internal/xnat"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数のConfigを読み込み、
// LOG_LEVELに従ってログレベルを切り替える。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := new(slog.LevelVar)
	logger.SetupDefault(w, level)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level.Set(logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("xnat_host", cfg.XNATHost),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// runServe はSlackボットのHTTPサーバーを起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	linkRepo := repository.NewPostgresAssociationLinkRepo(db)
	messageRepo := repository.NewPostgresMessageRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. 外部サービスクライアントの初期化
	upstreamClient := httpclient.New(
		httpclient.WithTimeout(cfg.UpstreamTimeout),
		httpclient.WithMaxRetries(cfg.UpstreamMaxRetries),
		httpclient.WithLogger(slog.Default().With(slog.String("subsystem", "httpclient"))),
	)

	oauthProvider := auth.NewOAuth2Provider(auth.OAuth2Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthURL:      cfg.OAuthAuthorizationURL,
		TokenURL:     cfg.OAuthTokenURL,
		RedirectURL:  cfg.OAuthRedirectURL(),
		Scopes:       cfg.OAuthScopes,
		HTTPClient:   upstreamClient,
	})
	slackNotifier := notifier.NewSlackNotifier(notifier.SlackConfig{
		BotToken:   cfg.SlackBotToken,
		APIURL:     cfg.SlackAPIURL,
		HTTPClient: upstreamClient,
	})
	xnatClient := xnat.NewClient(upstreamClient, slog.Default(), cfg.XNATHost)

	// 5. ドメインサービスの初期化
	coordinator := association.NewCoordinator(
		linkRepo, accountRepo, slackNotifier, oauthProvider, collector,
		association.Config{
			BaseURL:         cfg.BaseURL,
			AssociationPath: cfg.AssociationPath,
			AppName:         cfg.AppName,
			CommandName:     cfg.CommandName,
			LinkTTL:         cfg.AssociationLinkTTL,
			UpstreamTimeout: cfg.UpstreamTimeout,
		},
	)
	gate := auth.NewGate(accountRepo)
	authService := auth.NewService(accountRepo, sessionRepo, auth.ServiceConfig{
		SessionMaxAge: cfg.SessionMaxAge,
	})
	messageService := message.NewService(gate, messageRepo, accountRepo, xnatClient, collector, message.Config{
		DefaultMessage:  cfg.DefaultMessage,
		CommandName:     cfg.CommandName,
		UpstreamTimeout: cfg.UpstreamTimeout,
	})

	// 6. レートリミッター
	apiLimiterCfg := middleware.DefaultAPIRateLimiterConfig()
	if cfg.RateLimitPerMinute > 0 {
		apiLimiterCfg.Rate = perMinute(cfg.RateLimitPerMinute)
		apiLimiterCfg.Burst = cfg.RateLimitPerMinute
	}
	apiLimiter := middleware.NewRateLimiter(apiLimiterCfg)
	defer apiLimiter.Stop()

	associationLimiterCfg := middleware.DefaultAssociationRateLimiterConfig()
	if cfg.AssociationRateLimitPerMinute > 0 {
		associationLimiterCfg.Rate = perMinute(cfg.AssociationRateLimitPerMinute)
		associationLimiterCfg.Burst = cfg.AssociationRateLimitPerMinute
	}
	associationLimiter := middleware.NewRateLimiter(associationLimiterCfg)
	defer associationLimiter.Stop()

	// 7. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		StatusObserver: collector,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		SessionFinder:          sessionRepo,
		APIRateLimiter:         apiLimiter,
		AssociationRateLimiter: associationLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		Coordinator:       coordinator,
		AssociationPath:   cfg.AssociationPath,
		OAuthRedirectPath: cfg.OAuthRedirectPath,

		Accounts: accountRepo,
		Sessions: authService,
		Cookie: handler.CookieConfig{
			Domain:        cfg.CookieDomain,
			Secure:        cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Messages:  messageService,
		Sanitizer: security.NewMessageSanitizer(),

		SlackSigningSecret: cfg.SlackSigningSecret,
		AppName:            cfg.AppName,
		CommandName:        cfg.CommandName,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout*3 + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、シグナル受信で終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(db, slog.Default())

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// ctxがキャンセルされるまでブロックする
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

// perMinute はreq/minをrate.Limitの単位（req/sec）に変換する。
func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60)
}
