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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/soc-response-gateway/internal/audit"
	"github.com/xela07ax/soc-response-gateway/internal/console/handler"
	"github.com/xela07ax/soc-response-gateway/internal/console/server"
	"github.com/xela07ax/soc-response-gateway/internal/console/service"
	"github.com/xela07ax/soc-response-gateway/internal/directory"
	"github.com/xela07ax/soc-response-gateway/internal/engine"
	"github.com/xela07ax/soc-response-gateway/internal/incident"
	"github.com/xela07ax/soc-response-gateway/internal/infra"
	infraauth "github.com/xela07ax/soc-response-gateway/internal/infra/auth"
	"github.com/xela07ax/soc-response-gateway/internal/policy"
	"github.com/xela07ax/soc-response-gateway/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Снапшоты справочников (цели, роли) — холодная загрузка
	dir := directory.New(cfg.TargetsFile, logger)
	if err := dir.Reload(); err != nil {
		logger.Fatal("failed to load target directory", zap.Error(err))
	}
	enforcer := policy.NewEnforcer(cfg.RolesFile, logger)
	if err := enforcer.Reload(); err != nil {
		logger.Fatal("failed to load role set", zap.Error(err))
	}

	// 3. Журнал аудита: первичный append-only файл + опциональное зеркало в Postgres
	store, err := audit.OpenFileStore(cfg.Audit.FilePath)
	if err != nil {
		logger.Fatal("failed to open audit store", zap.Error(err))
	}
	defer store.Close()

	var mirror audit.MirrorStorage
	if cfg.Audit.MirrorDBURL != "" {
		repo, err := postgres.NewAuditRepo(cfg.Audit.MirrorDBURL)
		if err != nil {
			logger.Fatal("failed to init audit mirror", zap.Error(err))
		}
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := repo.Ping(pingCtx); err != nil {
			// Зеркало — best-effort: недоступная база не мешает старту
			logger.Warn("audit mirror database unreachable", zap.Error(err))
		}
		pingCancel()
		defer repo.Close()
		mirror = repo
	}

	ledger := audit.NewLedger(store, mirror, cfg.Audit.BufferSize, cfg.Audit.FlushInterval, logger)
	ledger.Start()
	defer ledger.Stop()

	// 4. Control Plane: состояние изоляции (Redis опционален)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	isolation := engine.NewIsolationManager(rdb, logger)
	if err := isolation.Init(appCtx); err != nil {
		logger.Warn("isolation state warmup failed", zap.Error(err))
	}
	go isolation.StartListener(appCtx)

	// 5. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 6. Execution Layer: движок + внешний слой надежности
	cred := engine.Credential{
		Username: cfg.Engine.Username,
		Password: cfg.Engine.Password,
	}
	invoker := engine.NewShellInvoker(cfg.Engine.Shell, cred, cfg.Engine.MaxOutputBytes, logger)
	safeInvoker := engine.NewSafeInvoker(invoker, engine.ReliabilityConfig{
		RateLimit:     cfg.Engine.RateLimit,
		RateBurst:     cfg.Engine.RateBurst,
		RetryAttempts: cfg.Engine.RetryAttempts,
		CBMaxRequests: cfg.Engine.CBMaxRequests,
		CBInterval:    cfg.Engine.CBInterval,
		CBTimeout:     cfg.Engine.CBTimeout,
	}, func(open bool) {
		state := 0.0
		if open {
			state = 1.0
		}
		metrics.CircuitBreakerState.Set(state)
	})

	// 7. Инциденты (только память процесса — теряются при рестарте)
	incidents := incident.NewCorrelator(incident.NewMemoryRepository(), logger)

	// 8. Сборка ядра пайплайна
	core := engine.NewCore(dir, enforcer, safeInvoker, ledger, incidents,
		isolation, metrics, cred, cfg.Engine.MaxTimeout, logger)

	// 9. HTTP-поверхность
	privateKey, err := infraauth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse private key", zap.Error(err))
	}
	publicKey, err := infraauth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse public key", zap.Error(err))
	}

	validator := infraauth.NewBaseValidator(publicKey)
	authService := service.NewAuthService(enforcer, privateKey, cfg.Auth.TokenTTL)
	responseService := service.NewResponseService(core)
	auditService := service.NewAuditService(ledger)

	consoleSrv := server.NewConsoleServer(
		logger,
		validator,
		handler.NewAuthHandler(authService),
		handler.NewRespondHandler(responseService),
		handler.NewAuditHandler(auditService),
		handler.NewIncidentHandler(incidents),
		handler.NewTargetHandler(dir, isolation, logger, dir, enforcer),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("response gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("response gateway stopping...")

	// Даем время на завершение запросов; активные удаленные вызовы добегут
	// или упадут по своим дедлайнам
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("response gateway exited properly")
}
