// Package app はプロセスのエントリーポイントと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	svix "github.com/svix/svix-webhooks/go"
	"golang.org/x/time/rate"

	"github.com/hitoshi/codepair/internal/auth"
	"github.com/hitoshi/codepair/internal/chat"
	"github.com/hitoshi/codepair/internal/config"
	"github.com/hitoshi/codepair/internal/database"
	"github.com/hitoshi/codepair/internal/execution"
	"github.com/hitoshi/codepair/internal/handler"
	"github.com/hitoshi/codepair/internal/logger"
	"github.com/hitoshi/codepair/internal/metrics"
	"github.com/hitoshi/codepair/internal/middleware"
	"github.com/hitoshi/codepair/internal/repository"
	"github.com/hitoshi/codepair/internal/security"
	"github.com/hitoshi/codepair/internal/session"
	"github.com/hitoshi/codepair/internal/stream"
	"github.com/hitoshi/codepair/internal/user"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数（と.env）から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envでLOG_LEVELが与えられた場合に反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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
		slog.String("client_url", cfg.ClientURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, cleanup, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	return serve(ctx, server)
}

// newServer は全依存関係をワイヤリングしたHTTPサーバーを構築する。
// 戻り値のcleanupはDB・Redis接続とレートリミッターを解放する。
func newServer(ctx context.Context, cfg *config.Config) (*http.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*http.Server, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// 1. IdPトークン検証（設定不備はDB接続前に検出する）
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		PublicKeyPEM: cfg.ClerkJWTPublicKey,
		Issuer:       cfg.ClerkIssuer,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to configure token verifier: %w", err))
	}

	webhookVerifier, err := newWebhookVerifier(cfg.WebhookSecret)
	if err != nil {
		return fail(err)
	}

	// 2. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { db.Close() })

	if err := checkSchema(cfg.DatabaseURL, database.CurrentVersion); err != nil {
		return fail(err)
	}

	// 3. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 4. 外部プロバイダ
	streamClient := stream.NewClient(stream.Config{
		APIKey:       cfg.StreamAPIKey,
		APISecret:    cfg.StreamAPISecret,
		ChatBaseURL:  cfg.StreamChatBaseURL,
		VideoBaseURL: cfg.StreamVideoBaseURL,
	}, &http.Client{Timeout: cfg.ProviderTimeout}, slog.Default())

	runner := execution.NewRunner(cfg.PistonAPIURL, &http.Client{Timeout: cfg.ExecutionTimeout}, slog.Default())

	// 5. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 6. ユーザーキャッシュ（任意）
	cache, closeCache := newUserCache(ctx, cfg)
	closers = append(closers, closeCache)

	// 7. ドメインサービス
	sanitizer := security.NewTextSanitizer()
	userService := user.NewService(userRepo, cache, streamClient, sanitizer, slog.Default())
	sessionService := session.NewService(sessionRepo, streamClient, sanitizer, collector, slog.Default())
	chatService := chat.NewService(streamClient, cfg.StreamTokenTTL)

	// 8. ルーター
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	closers = append(closers, rateLimiter.Stop)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Verifier:          verifier,
		UserResolver:      userService,
		CORSAllowedOrigin: cfg.ClientURL,
		RateLimiter:       rateLimiter,
		HTTPMetrics:       collector,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(registry),
		SessionService:    sessionService,
		ChatService:       chatService,
		CodeRunner:        runner,
		UserSyncer:        userService,
		WebhookVerifier:   webhookVerifier,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.ExecutionTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return server, cleanup, nil
}

// newWebhookVerifier はユーザー同期Webhookの署名検証器を生成する。
// secretはwhsec_形式の署名シークレット。空の場合はnilを返し、Webhookを公開しない。
func newWebhookVerifier(secret string) (handler.WebhookVerifier, error) {
	if secret == "" {
		slog.Warn("WEBHOOK_SECRET is not set; user sync webhook is disabled")
		return nil, nil
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_SECRET: %w", err)
	}
	return wh, nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// schemaVersionFunc は適用済みマイグレーションのバージョンとdirtyフラグを返す。
type schemaVersionFunc func(databaseURL string) (uint, bool, error)

// checkSchema はマイグレーションが適用済みかつdirtyでないことを確認する。
func checkSchema(databaseURL string, current schemaVersionFunc) error {
	version, dirty, err := current(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database schema version %d is dirty; fix it and run migrate again", version)
	}
	if version == 0 {
		return errors.New("database schema is not migrated; run the migrate command first")
	}

	slog.Info("database schema verified", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// newUserCache はREDIS_ADDRが設定されている場合にRedisキャッシュを生成する。
// 起動時に疎通できない場合はキャッシュなしで動作する。
func newUserCache(ctx context.Context, cfg *config.Config) (user.Cache, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	pingCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable; user cache disabled",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		client.Close()
		return nil, func() {}
	}

	slog.Info("user cache enabled", slog.String("addr", cfg.RedisAddr), slog.Duration("ttl", cfg.UserCacheTTL))
	return user.NewRedisCache(client, cfg.UserCacheTTL), func() { client.Close() }
}

// rateLimiterConfig はreq/min単位の設定をreq/secのレートに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.SessionCreateRate = rate.Limit(float64(cfg.RateLimitSessionCreate) / 60.0)
	rl.SessionCreateBurst = cfg.RateLimitSessionCreate
	return rl
}

// serve はサーバーを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func serve(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
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

	version, _, err := database.CurrentVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
