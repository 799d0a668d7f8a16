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
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/credential"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/session"
	"github.com/hitoshi/authgate/internal/token"
	"github.com/hitoshi/authgate/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)

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
			port = "3002"
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
		slog.String("env", cfg.AppEnv),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandRollback:
		return runRollback(cfg)
	case CommandSweep:
		return runSweep(cfg)
	default:
		return runServe(cfg)
	}
}

// Server はHTTPハンドラーと、停止時に解放すべきリソースをまとめたもの。
type Server struct {
	Handler http.Handler
	stop    []func()
}

// Close はバックグラウンド処理を停止する。
func (s *Server) Close() {
	for _, f := range s.stop {
		f()
	}
}

// NewServer は設定と接続済みのDB・Redisクライアントから全依存関係をワイヤリングする。
// DBとRedisへの疎通確認は呼び出し側で行う。
func NewServer(cfg *config.Config, db *sql.DB, rdb redis.UniversalClient) (*Server, error) {
	// 1. トークンとパスワード
	codec, err := token.NewCodec(token.Config{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.JWTExpiry,
		RefreshTTL:    cfg.RefreshTokenExpiry,
		Issuer:        "authgate",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	hasher := credential.NewBcryptHasher(cfg.BcryptCost)
	verifier, err := credential.NewVerifier(hasher)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential verifier: %w", err)
	}

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. ストア
	userRepo := repository.NewPostgresUserRepo(db)
	sessionTTL := time.Duration(cfg.SessionMaxAge) * time.Second
	sessions := session.NewStore(rdb, sessionTTL)
	signer := session.NewSigner(cfg.SessionSecret)

	// 4. ドメインサービス
	authService := auth.NewService(
		userRepo, sessions, codec, hasher, verifier,
		security.NewInputSanitizer(), collector,
	)

	// 5. ミドルウェア
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral))
	loginLimiter := middleware.NewLoginLimiter(rdb, middleware.LoginLimiterConfig{
		MaxAttempts: cfg.LoginRateLimitMax,
		Window:      cfg.LoginRateLimitWindow,
	}, collector)

	// 6. ルーター
	router := handler.NewRouter(&handler.RouterDeps{
		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:  cfg.IsProduction(),
			SessionMaxAge: cfg.SessionMaxAge,
			RefreshMaxAge: codec.RefreshTTL(),
			Production:    cfg.IsProduction(),
		},
		Signer:            signer,
		SessionResolver:   sessions,
		TokenVerifier:     codec,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxy:        cfg.TrustProxy,
		RateLimiter:       rateLimiter,
		LoginLimiter:      loginLimiter,
		Logger:            slog.Default(),
		Recorder:          collector,
		Gatherer:          reg,
		HealthChecks: map[string]handler.Pinger{
			"postgres": db,
			"redis":    handler.PingerFunc(sessions.Ping),
		},
	})

	return &Server{Handler: router, stop: []func(){rateLimiter.Stop}}, nil
}

// runServe はAPIサーバーモードで起動する。
// DBとRedisに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		return err
	}

	slog.Info("database connection established")

	// 2. Redis接続
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))

	// 3. ワイヤリング
	srv, err := NewServer(cfg, db, rdb)
	if err != nil {
		return err
	}
	defer srv.Close()

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}

	slog.Info("shutting down API server...")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
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

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runRollback は直近のマイグレーションを1つ戻す。
func runRollback(cfg *config.Config) error {
	slog.Info("rolling back last database migration",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RollbackMigration(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	slog.Info("database rollback completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runSweep は失効済みリフレッシュトークンを一度だけ消去する。
func runSweep(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	return cleanup.NewRefreshTokenSweep(db, slog.Default(), cfg.RefreshTokenExpiry).Run(ctx)
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
