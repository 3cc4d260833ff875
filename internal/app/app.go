package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/lifeid/internal/config"
	"github.com/hitoshi/lifeid/internal/credstore"
	"github.com/hitoshi/lifeid/internal/database"
	"github.com/hitoshi/lifeid/internal/docstore"
	"github.com/hitoshi/lifeid/internal/handler"
	"github.com/hitoshi/lifeid/internal/logger"
	"github.com/hitoshi/lifeid/internal/metrics"
	"github.com/hitoshi/lifeid/internal/middleware"
	"github.com/hitoshi/lifeid/internal/profile"
	"github.com/hitoshi/lifeid/internal/security"
	"github.com/hitoshi/lifeid/internal/session"
	"github.com/hitoshi/lifeid/internal/user"
	"github.com/hitoshi/lifeid/internal/worker/cleanup"
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
		slog.String("driver", cfg.DocstoreDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDocstore は設定されたドライバに応じたDocument Storeを開く。
// 返り値のクローズ関数は呼び出し側がシャットダウン時に呼ぶ。
func openDocstore(ctx context.Context, cfg *config.Config) (docstore.Store, func() error, error) {
	switch cfg.DocstoreDriver {
	case config.DriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return docstore.NewPostgresStore(db), db.Close, nil

	case config.DriverFirestore:
		fs, err := docstore.NewFirestoreStore(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open firestore: %w", err)
		}
		return fs, fs.Close, nil

	case config.DriverMemory:
		return docstore.NewMemoryStore(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported docstore driver: %s", cfg.DocstoreDriver)
	}
}

// runServe はAPIサーバーモードで起動する。
// Document Storeを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// セッションクリーンアップジョブもバックグラウンドで稼働する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Document Store接続
	docs, closeDocs, err := openDocstore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDocs()

	slog.Info("document store opened", slog.String("driver", cfg.DocstoreDriver))

	// 2. セキュリティサービスの初期化
	hasher := security.NewPasswordHasher(cfg.BcryptCost)
	sanitizer := security.NewTextSanitizer()

	// 3. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	creds := credstore.NewLocal(docs, hasher, time.Duration(cfg.SessionMaxAge)*time.Second)
	bridge := user.NewBridge(docs)

	// ManagerはStart前に生成する。Startが復元するセッション状態の
	// 通知を受け取れるようにするため。
	manager := session.NewManager(creds, bridge)
	defer manager.Close()

	if err := creds.Start(ctx); err != nil {
		return fmt.Errorf("failed to start credential store: %w", err)
	}

	profileRepo := profile.NewRepository(docs)
	userService := user.NewService(docs, profileRepo, creds)

	// 5. クリーンアップジョブの起動
	cleanupJob := cleanup.NewCleanupJob(creds, collector, slog.Default())
	go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	// 6. ルーターの構築
	// configのレート値はreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.PublicViewRate = rate.Limit(float64(cfg.RateLimitPublicView) / 60.0)
	rateLimiterCfg.PublicViewBurst = cfg.RateLimitPublicView

	deps := &handler.RouterDeps{
		Verifier:          creds,
		States:            manager,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		SessionService: manager,
		TokenSource:    creds,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ProfileRepo: profileRepo,
		Sanitizer:   sanitizer,
		UserService: userService,

		Docs:      docs,
		Collector: collector,
		Logger:    slog.Default(),
	}

	router := handler.NewRouter(deps)

	// APIルートとPrometheusスクレイプエンドポイントを同一サーバーで提供する
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/", router)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// postgresドライバ使用時のみ意味を持ち、すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DocstoreDriver != config.DriverPostgres {
		slog.Info("migration skipped: driver does not use migrations",
			slog.String("driver", cfg.DocstoreDriver),
		)
		return nil
	}

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
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/api/health", port)
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
