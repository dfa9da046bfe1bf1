package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/habitloop/internal/analytics"
	"github.com/hitoshi/habitloop/internal/auth"
	"github.com/hitoshi/habitloop/internal/blog"
	"github.com/hitoshi/habitloop/internal/config"
	"github.com/hitoshi/habitloop/internal/database"
	"github.com/hitoshi/habitloop/internal/habit"
	"github.com/hitoshi/habitloop/internal/handler"
	"github.com/hitoshi/habitloop/internal/logger"
	"github.com/hitoshi/habitloop/internal/metrics"
	"github.com/hitoshi/habitloop/internal/middleware"
	"github.com/hitoshi/habitloop/internal/repository"
	"github.com/hitoshi/habitloop/internal/security"
	"github.com/hitoshi/habitloop/internal/user"
	"github.com/hitoshi/habitloop/internal/worker/blogfetch"
	"github.com/hitoshi/habitloop/internal/worker/cleanup"
)

// logLevel はプロセス全体のログレベル。設定読み込み後にLOG_LEVELで更新する。
var logLevel slog.LevelVar

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, &logLevel)

	// 2. .envファイルがあれば読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. ログレベルを反映
	logLevel.Set(logger.ParseLevel(cfg.LogLevel))

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
		slog.String("timezone", cfg.TimezoneName),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		opts, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		return runMigrate(cfg, opts)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はGo/プロセスメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newLimiterStore はレート制限の保存先を返す。
// REDIS_ADDRが設定されていればRedis、未設定または接続できない場合はプロセス内。
// 戻り値のcloseは終了時に呼び出す。
func newLimiterStore(cfg *config.Config) (middleware.LimiterStore, func()) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			slog.Info("using redis rate limiter store", slog.String("addr", cfg.RedisAddr))
			return middleware.NewRedisLimiterStore(client), func() { client.Close() }
		}

		slog.Warn("redis is unreachable, falling back to in-process rate limiter",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		client.Close()
	}

	store := middleware.NewMemoryLimiterStore(10 * time.Minute)
	return store, store.Stop
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 暦日キーを記録したタイムゾーンから変わっていないことを確認
	if err := database.CheckCompletionZone(context.Background(), db, cfg.TimezoneName); err != nil {
		return err
	}

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	habitRepo := repository.NewPostgresHabitRepo(db)
	blogPostRepo := repository.NewPostgresBlogPostRepo(db)

	// 4. 認証
	verifier, err := auth.NewTokenVerifier(auth.VerifierConfig{
		Secret:   cfg.AuthJWTSecret,
		Issuer:   cfg.AuthJWTIssuer,
		Audience: cfg.AuthJWTAudience,
	})
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}
	authService := auth.NewService(verifier, userRepo, identRepo, cfg.AuthProvider)

	// 5. ドメインサービスの初期化
	habitService := habit.NewService(
		habitRepo,
		security.NewURLGuard(),
		security.NewSanitizer(),
		collector,
		habit.Config{
			Location:      cfg.Location,
			FeaturedLimit: cfg.FeaturedLimit,
		},
	)
	analyticsService := analytics.NewService(habitRepo, analytics.Config{
		Location:   cfg.Location,
		WindowDays: cfg.AnalyticsWindowDays,
	})
	userService := user.NewService(userRepo, identRepo, habitRepo)
	blogService := blog.NewService(blogPostRepo)

	// 6. レート制限
	limiterStore, closeStore := newLimiterStore(cfg)
	defer closeStore()
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		General:     middleware.PerMinute(middleware.LimiterGeneral, cfg.RateLimitGeneral),
		HabitCreate: middleware.PerMinute(middleware.LimiterHabitCreate, cfg.RateLimitHabitCreate),
	}, limiterStore, collector)

	// 7. ルーターの構築
	deps := &handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HTTPRecorder:      collector,
		Logger:            slog.Default(),
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),

		HabitService:     habitService,
		AnalyticsService: handler.NewAnalyticsServiceAdapter(analyticsService),
		BlogService:      blogService,
		UserService:      handler.NewUserServiceAdapter(userService),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、ブログフェッチスケジューラとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	sourceRepo := repository.NewPostgresBlogSourceRepo(db)
	postRepo := repository.NewPostgresBlogPostRepo(db)

	// 4. フェッチャーとスケジューラの初期化
	guard := security.NewURLGuard()
	fetcher := blogfetch.NewFetcher(
		sourceRepo, postRepo,
		guard, security.NewSanitizer(),
		collector, slog.Default(),
		blogfetch.Config{
			Interval:    cfg.BlogFetchInterval,
			Timeout:     cfg.BlogFetchTimeout,
			MaxBodySize: cfg.BlogFetchMaxSize,
		},
	)
	scheduler := blogfetch.NewScheduler(sourceRepo, fetcher, slog.Default(), 0)

	// 5. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(postRepo, slog.Default(), cfg.BlogRetentionDays)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 6. 取り込み元の登録（未設定の場合は記事の掃除のみ行う）
	// BLOG_FEED_URLにはブログのトップページも指定できる
	if cfg.BlogFeedURL != "" {
		feedURL, err := blogfetch.NewDiscoverer(guard).Resolve(ctx, cfg.BlogFeedURL)
		if err != nil {
			return fmt.Errorf("failed to resolve blog feed: %w", err)
		}
		if err := scheduler.Register(ctx, feedURL); err != nil {
			return err
		}
	} else {
		slog.Warn("BLOG_FEED_URL is not set, blog fetching is disabled")
	}

	// 7. メトリクスエンドポイント
	metricsServer := newWorkerMetricsServer(cfg.WorkerMetricsPort, reg, db)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("fetch_interval", cfg.BlogFetchInterval),
		slog.Int("retention_days", cfg.BlogRetentionDays),
	)

	// クリーンアップジョブを日次でバックグラウンド実行（起動直後に1回実行）
	go cleanupJob.Start(ctx, 24*time.Hour)

	// フェッチスケジューラをメインgoroutineで実行（ブロッキング）
	if cfg.BlogFeedURL != "" {
		scheduler.Start(ctx, cfg.BlogFetchInterval)
	} else {
		<-ctx.Done()
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerMetricsServer はワーカーの/metricsと/healthを提供するサーバーを生成する。
func newWorkerMetricsServer(port string, reg *prometheus.Registry, db handler.HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/health", handler.NewHealthHandler(db))
	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// 既定ではすべての未適用マイグレーションを順番に適用し、downの場合は指定数だけ巻き戻す。
func runMigrate(cfg *config.Config, opts MigrateOptions) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Bool("down", opts.Down),
		slog.Int("steps", opts.Steps),
	)

	if opts.Down {
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.Steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	} else if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// 適用後のバージョンを記録する
	st, err := database.Status(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations finished",
		slog.Uint64("version", uint64(st.Version)),
		slog.Bool("dirty", st.Dirty),
		slog.Bool("empty", st.Empty),
	)
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
