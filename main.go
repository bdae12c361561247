// Package main provides the main entry point for the AdGuard AI compliance service
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/AdGuard-AI/app/handlers"
	"github.com/amirphl/AdGuard-AI/app/middleware"
	"github.com/amirphl/AdGuard-AI/app/router"
	"github.com/amirphl/AdGuard-AI/app/scheduler"
	"github.com/amirphl/AdGuard-AI/app/services"
	businessflow "github.com/amirphl/AdGuard-AI/business_flow"
	"github.com/amirphl/AdGuard-AI/config"
	"github.com/amirphl/AdGuard-AI/repository"
	"github.com/amirphl/AdGuard-AI/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const cacheHealthInterval = 30 * time.Second

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	pipeline  businessflow.CompliancePipeline
	cancel    context.CancelFunc
	stopFuncs []func()
}

func main() {
	log.Println("Starting AdGuard AI application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logWriter, closeLogs := utils.NewLogWriter(utils.LogFileOptions{
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	defer closeLogs()
	log.SetOutput(logWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)

	for _, warning := range cfg.MissingOptionalSettings() {
		log.Printf("WARNING: %s", warning)
	}

	app, err := initializeApplication(cfg, logWriter)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// stop accepting submissions before draining the pipelines
	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	// pollers exit with their current outcome; the sweeper finalizes the rest on next start
	app.cancel()
	drained := make(chan struct{})
	go func() {
		app.pipeline.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Printf("Pipelines still running at shutdown deadline")
	}

	for _, fn := range app.stopFuncs {
		fn()
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, w io.Writer) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	gormCfg := &gorm.Config{}
	if cfg.SlowQueryLog {
		gormCfg.Logger = gormlogger.New(
			utils.NewComponentLogger(w, "gorm"),
			gormlogger.Config{
				SlowThreshold:             cfg.SlowQueryTime,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity.
// A nil client means locks stay process local.
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" || cfg.RedisURL == "" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to surface connectivity
// issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = cacheHealthInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication wires repositories, services, flows and handlers
func initializeApplication(cfg *config.ProductionConfig, logWriter io.Writer) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, logWriter)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, func() { _ = sqlDB.Close() })

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	var pipelineLock services.PipelineLock
	if rc != nil {
		pipelineLock = services.NewRedisPipelineLock(rc, cfg.Cache.RedisPrefix)
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, cacheHealthInterval))
		stopFuncs = append(stopFuncs, func() { _ = rc.Close() })
	} else {
		pipelineLock = services.NewMemoryPipelineLock()
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	adRepo := repository.NewAdvertisementRepository(db)
	analysisRepo := repository.NewAnalysisResultRepository(db)
	mediaRepo := repository.NewMediaRepository(db)
	callLogRepo := repository.NewCallLogRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Initialize services
	store, err := services.NewArtifactStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	engine := services.NewComplianceEngine(cfg.Compliance)
	vendor := services.NewCallVendor(cfg.CallVendor)
	evaluator := services.NewStaticPostCallEvaluator()
	notifier := services.NewNotificationService(notificationRepo, utils.NewComponentLogger(logWriter, "notify"))

	tokenService, err := services.NewTokenService(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Pipelines outlive the request that launched them but not the process
	rootCtx, cancel := context.WithCancel(context.Background())

	pipeline := businessflow.NewCompliancePipeline(
		rootCtx,
		adRepo,
		analysisRepo,
		mediaRepo,
		callLogRepo,
		store,
		engine,
		vendor,
		evaluator,
		notifier,
		pipelineLock,
		businessflow.NewPipelineConfig(cfg),
		utils.NewComponentLogger(logWriter, "pipeline"),
	)

	// Initialize flows
	advertisementFlow := businessflow.NewAdvertisementFlow(
		userRepo,
		adRepo,
		analysisRepo,
		pipeline,
		notifier,
		cfg.Storage,
		utils.NewComponentLogger(logWriter, "advertisement"),
	)
	reportFlow := businessflow.NewReportFlow(analysisRepo, adRepo, notifier, utils.NewComponentLogger(logWriter, "report"))
	notificationFlow := businessflow.NewNotificationFlow(notificationRepo)

	// Initialize handlers
	advertisementHandler := handlers.NewAdvertisementHandler(advertisementFlow)
	reportHandler := handlers.NewReportHandler(reportFlow)
	notificationHandler := handlers.NewNotificationHandler(notificationFlow)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	appRouter := router.NewFiberRouter(
		cfg,
		advertisementHandler,
		reportHandler,
		notificationHandler,
		authMiddleware,
		sqlDB.PingContext,
	)

	if cfg.Scheduler.SweeperEnabled {
		sweeper := scheduler.NewPipelineSweeper(analysisRepo, pipeline, cfg.Scheduler, utils.NewComponentLogger(logWriter, "sweeper"))
		stopSweeper, err := sweeper.Start(rootCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		// sweeper stops before the connections it uses are closed
		stopFuncs = append([]func(){stopSweeper}, stopFuncs...)
	}

	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		pipeline:  pipeline,
		cancel:    cancel,
		stopFuncs: stopFuncs,
	}

	return application, nil
}
