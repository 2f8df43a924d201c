package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/medaudit/medaudit-backend/internal/application"
	appanalysis "github.com/medaudit/medaudit-backend/internal/application/analysis"
	appdocs "github.com/medaudit/medaudit-backend/internal/application/documents"
	appreports "github.com/medaudit/medaudit-backend/internal/application/reports"
	"github.com/medaudit/medaudit-backend/internal/config"
	rediscache "github.com/medaudit/medaudit-backend/internal/infra/cache"
	mysqlp "github.com/medaudit/medaudit-backend/internal/infra/db/mysql"
	"github.com/medaudit/medaudit-backend/internal/infra/httpserver"
	"github.com/medaudit/medaudit-backend/internal/infra/nlp"
	"github.com/medaudit/medaudit-backend/internal/infra/pdf"
	"github.com/medaudit/medaudit-backend/internal/infra/queue"
	"github.com/medaudit/medaudit-backend/internal/infra/redisconn"
	minioStore "github.com/medaudit/medaudit-backend/internal/infra/storage"
	"github.com/medaudit/medaudit-backend/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect MySQL
	db, err := mysqlp.Connect(ctx, cfg.MySQLDSN(), mysqlp.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		log.Fatalf("mysql connect error: %v", err)
	}
	defer db.Close()

	// run migrations
	if err := mysqlp.Migrate(db, cfg.MigrationsPath); err != nil {
		log.Fatalf("migrate error: %v", err)
	}

	// connect Redis
	rdb, err := redisconn.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("redis connect error: %v", err)
	}
	defer rdb.Close()

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init repos + adapters
	docRepo := mysqlp.NewDocumentRepository(db)
	reportRepo := mysqlp.NewReportRepository(db)
	analyzer := nlp.New(cfg.Analyzer.URL, cfg.Analyzer.APIKey, cfg.AnalyzerTimeout())
	jobQueue := queue.NewRedis(rdb, cfg.Redis.QueueKey)
	cache := rediscache.NewRedis(rdb)
	renderer := pdf.New()

	// init services
	docsSvc := &appdocs.Service{
		Repo:  docRepo,
		Files: store,
		Clock: application.SystemClock{},
	}
	reportsSvc := &appreports.Service{
		Repo:  reportRepo,
		Cache: cache,
		PDF:   renderer,
		Clock: application.SystemClock{},
	}
	analysisSvc := &appanalysis.Service{
		Reports:     reportRepo,
		Documents:   docRepo,
		Files:       docsSvc,
		Analyzer:    analyzer,
		Queue:       jobQueue,
		Clock:       application.SystemClock{},
		Cache:       cache,
		CallbackURL: cfg.CallbackURL(),
		MaxAttempts: cfg.Analyzer.MaxAttempts,
		BackoffBase: cfg.AnalyzerBackoff(),
	}

	// start dispatch workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go analysisSvc.Run(workerCtx, cfg.Analyzer.Workers)

	// init router
	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.APIKeyAuth(cfg.Auth.APIKeys))
	mux.Use(middleware.RateLimitMiddleware(100, 10))

	mux.Get("/health", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
		"redis":    &middleware.RedisHealthChecker{Client: rdb},
	}))
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Mount("/", httpserver.NewRouter(docsSvc, reportsSvc, analysisSvc, cfg.Upload.MaxSizeBytes, cfg.AllowedTypes()))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	stopWorkers()
	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
