// Точка входа InstaShare — HTTP API загрузки и сжатия файлов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и хранилищу, создаёт сервисы, очередь пакетной обработки и HTTP-сервер
// с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/miguelitojb9/InstaShare/internal/api/handlers"
	"github.com/miguelitojb9/InstaShare/internal/api/middleware"
	"github.com/miguelitojb9/InstaShare/internal/api/openapi"
	"github.com/miguelitojb9/InstaShare/internal/auth"
	"github.com/miguelitojb9/InstaShare/internal/config"
	"github.com/miguelitojb9/InstaShare/internal/database"
	"github.com/miguelitojb9/InstaShare/internal/repository"
	"github.com/miguelitojb9/InstaShare/internal/server"
	"github.com/miguelitojb9/InstaShare/internal/service"
	"github.com/miguelitojb9/InstaShare/internal/storage"
)

// rateLimitCleanupInterval — период очистки неактивных клиентов лимитера.
const rateLimitCleanupInterval = time.Minute

func main() {
	// 1. Конфигурация: .env (если есть), затем переменные окружения
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("Ошибка чтения .env", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("InstaShare запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage", cfg.StorageBackend),
		slog.String("batch_trigger", cfg.BatchTriggerMode),
	)

	// 3. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище содержимого
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Ключи подписи и выпуск токенов
	keys, err := auth.LoadOrGenerate(cfg.JWTPrivateKeyPath, cfg.JWTKeyID, logger)
	if err != nil {
		logger.Error("Ошибка загрузки ключа JWT", slog.String("error", err.Error()))
		os.Exit(1)
	}
	issuer := auth.NewIssuer(keys, auth.IssuerConfig{
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
		Leeway:     cfg.JWTLeeway,
	})

	// 7. Repositories
	fileRepo := repository.NewFileRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	// 8. Services
	compressor := service.NewCompressor(fileRepo, store, logger)
	filesSvc := service.NewFileService(
		fileRepo, userRepo, store, compressor,
		service.NewStatsCache(cfg.StatsCacheSize, cfg.StatsCacheTTL),
		service.FileServiceConfig{
			MaxUploadSize: cfg.MaxUploadSize,
			PresignTTL:    cfg.PresignTTL,
		},
		logger,
	)
	// Смена статуса сбрасывает кэш статистики владельца
	compressor.OnStatusChange(filesSvc.InvalidateStats)
	authSvc := service.NewAuthService(userRepo, issuer, logger)

	// 9. Пакетная обработка: очередь в процессе или CLI process-files
	var (
		trigger service.BatchTrigger
		queue   *service.TaskQueue
	)
	switch cfg.BatchTriggerMode {
	case config.TriggerSubprocess:
		trigger = service.NewSubprocessTrigger(cfg.ProcessFilesBin, nil, nil, cfg.SubprocessTimeout, logger)
	default:
		queue = service.NewTaskQueue(cfg.QueueSize, logger)
		queue.Start(ctx)
		runner := service.NewBatchRunner(fileRepo, compressor, logger)
		trigger = service.NewQueueTrigger(queue, runner, cfg.BatchWaitTimeout, logger)
	}

	// 10. Rate limiting эндпоинтов аутентификации
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiter.StartCleanup(ctx, rateLimitCleanupInterval)

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL + S3)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "instashare",
		Group:         cfg.DephealthGroup,
		PgConnURL:     cfg.DatabaseURL(),
		S3Endpoint:    s3Endpoint(cfg),
		S3HealthPath:  cfg.S3HealthPath,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	}

	// 12. Описание API
	docs, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 13. Health и API handlers
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		handlers.NewStoreChecker(store, 5*time.Second),
	)
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		Files:         filesSvc,
		Auth:          authSvc,
		Trigger:       trigger,
		Keys:          keys,
		Docs:          docs,
		Health:        healthHandler,
		AuthRateLimit: limiter.Middleware(),
		MaxUploadSize: cfg.MaxUploadSize,
	}, logger)

	// 14. JWT middleware (локальные ключи, без сетевого JWKS)
	jwtAuth := middleware.NewJWTAuthWithKeyfunc(keys.Keyfunc(), cfg.JWTIssuer, cfg.JWTLeeway, logger)

	// 15. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), handlers.PublicPrefixes...),
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 16. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	cancel()
	if queue != nil {
		queue.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("InstaShare остановлен")
}

// s3Endpoint — адрес S3-совместимого сервера для мониторинга (только для S3 бэкенда).
func s3Endpoint(cfg *config.Config) string {
	if cfg.StorageBackend != config.StorageS3 {
		return ""
	}
	return cfg.S3Endpoint
}
