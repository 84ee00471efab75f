package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"judged/internal/common/cache"
	"judged/internal/common/db"
	"judged/internal/common/mq"
	"judged/internal/common/storage"
	"judged/internal/judge/breaker"
	"judged/internal/judge/catalog"
	"judged/internal/judge/checker"
	"judged/internal/judge/dlq"
	"judged/internal/judge/limits"
	"judged/internal/judge/repository"
	"judged/internal/judge/sandbox"
	"judged/internal/judge/validation"
	"judged/internal/judge/worker"
	appErr "judged/pkg/errors"
	"judged/pkg/utils/contextkey"
	"judged/pkg/utils/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal(ctx, "judge engine failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *Config) error {
	mysql, err := db.NewMySQL(cfg.MySQL)
	if err != nil {
		return err
	}
	defer mysql.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	minioStore, err := storage.NewMinioStorage(cfg.Minio)
	if err != nil {
		return err
	}

	cfg.Rabbit.RetryTTL = cfg.Judge.RetryDelay
	broker, err := mq.NewRabbitBroker(cfg.Rabbit)
	if err != nil {
		return err
	}
	defer broker.Close()

	breakers := breaker.NewSet(cfg.Breaker)
	fetcher := storage.NewFetcher(minioStore, cfg.Fetcher)
	catalogClient := catalog.NewClient(cfg.Catalog, breakers.Catalog)

	submissionRepo := repository.NewSubmissionRepository(mysql.DB())
	workerRepo := repository.NewWorkerRepository(mysql.DB())
	execLogRepo := repository.NewExecutionLogRepository(mysql.DB())
	statusCache := repository.NewStatusCache(redisCache)
	events := repository.NewEventPublisher(broker, breakers.Broker)

	sandboxDriver := worker.IsolateDriver{Driver: sandbox.NewDriver(sandbox.Config{
		IsolateCmd:  cfg.Sandbox.IsolateCmd,
		MaxBoxes:    cfg.Judge.MaxWorkers * 2,
		MaxOutputKB: cfg.Judge.MaxOutputKB,
		MaxStackKB:  cfg.Judge.MaxStackKB,
	})}

	limitsValidator := limits.NewValidator(limits.Policy{
		DefaultTimeLimitMs:   cfg.Judge.DefaultTimeLimitMs,
		DefaultMemoryLimitKB: cfg.Judge.DefaultMemoryLimitKB,
		MaxTimeLimitMs:       cfg.Judge.MaxTimeLimitMs,
		MaxMemoryLimitKB:     cfg.Judge.MaxMemoryLimitKB,
	}, catalogClient)

	outputChecker := checker.New(fetcher, sandboxDriver.Driver)
	codeValidator := validation.NewValidator()

	pool, err := worker.NewPool(worker.PoolConfig{
		Broker:   broker,
		Registry: workerRepo,
		ExecLog:  execLogRepo,
		Sandbox:  sandboxDriver,
		NewWorker: func(wctx context.Context, name string) (*worker.Worker, error) {
			return worker.NewWorker(wctx, worker.Config{
				Name:              name,
				Broker:            broker,
				Registry:          workerRepo,
				Store:             submissionRepo,
				ExecLog:           execLogRepo,
				Events:            events,
				Catalog:           catalogClient,
				Fetcher:           fetcher,
				Checker:           outputChecker,
				Sandbox:           sandboxDriver,
				Limits:            limitsValidator,
				Status:            statusCache,
				Breakers:          breakers,
				Validator:         codeValidator,
				HeartbeatInterval: cfg.Judge.HeartbeatInterval,
			})
		},
		MinWorkers:        cfg.Judge.MinWorkers,
		MaxWorkers:        cfg.Judge.MaxWorkers,
		MonitorInterval:   cfg.Judge.MonitorInterval,
		RecoveryInterval:  cfg.Judge.RecoveryInterval,
		AutoscaleInterval: cfg.Judge.AutoscaleInterval,
		AutoscaleEnabled:  cfg.Judge.AutoscaleEnabled,
		ShutdownTimeout:   cfg.Judge.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	dlqConsumer, err := dlq.NewConsumer(dlq.Config{
		Broker:     broker,
		Retry:      events,
		Store:      submissionRepo,
		ExecLog:    execLogRepo,
		MaxRetries: cfg.Judge.RetryCount,
	})
	if err != nil {
		return err
	}

	if err := pool.Start(ctx); err != nil {
		return err
	}

	dlqCtx, dlqCancel := context.WithCancel(ctx)
	defer dlqCancel()
	go func() {
		if err := dlqConsumer.Run(dlqCtx); err != nil && err != context.Canceled {
			logger.Error(dlqCtx, "dlq consumer stopped", zap.Error(err))
		}
	}()

	server := newHTTPServer(cfg, submissionRepo, statusCache, pool, dlqConsumer, mysql, redisCache)
	go func() {
		logger.Info(ctx, "http server listening",
			zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Judge.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown failed", zap.Error(err))
	}

	pool.Shutdown()
	logger.Info(context.Background(), "judge engine stopped")
	return nil
}

func newHTTPServer(cfg *Config, submissions *repository.SubmissionRepository, status *repository.StatusCache, pool *worker.Pool, dlqConsumer *dlq.Consumer, mysql *db.MySQL, redisCache cache.Cache) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), traceMiddleware(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := mysql.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "mysql": err.Error()})
			return
		}
		if err := redisCache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1/judge")
	{
		api.GET("/submissions/:id", func(c *gin.Context) {
			id, err := parseID(c.Param("id"))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid submission id"})
				return
			}

			// live snapshot first, finished submissions from the database
			if live, err := status.GetStatus(c.Request.Context(), id); err == nil {
				c.JSON(http.StatusOK, gin.H{"live": true, "status": live})
				return
			}

			sub, err := submissions.GetSubmission(c.Request.Context(), id)
			if err != nil {
				code := appErr.GetCode(err)
				c.JSON(code.HTTPStatus(), gin.H{"error": code.Message()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"live": false, "submission": sub})
		})

		api.GET("/pool/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, pool.Status())
		})

		api.GET("/dlq/stats", func(c *gin.Context) {
			stats, err := dlqConsumer.Stats(c.Request.Context())
			if err != nil {
				code := appErr.GetCode(err)
				c.JSON(code.HTTPStatus(), gin.H{"error": code.Message()})
				return
			}
			c.JSON(http.StatusOK, stats)
		})

		api.POST("/dlq/purge", func(c *gin.Context) {
			n, err := dlqConsumer.Purge(c.Request.Context())
			if err != nil {
				code := appErr.GetCode(err)
				c.JSON(code.HTTPStatus(), gin.H{"error": code.Message()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"purged": n})
		})
	}

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
}

func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(contextkey.WithTraceID(c.Request.Context(), traceID))
		c.Header("X-Trace-ID", traceID)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info(c.Request.Context(), "http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("id must be positive")
	}
	return id, nil
}
