package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentgraph/api/handlers"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/history"
	"github.com/BaSui01/agentgraph/inference"
	"github.com/BaSui01/agentgraph/internal/cache"
	"github.com/BaSui01/agentgraph/internal/database"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/server"
	"github.com/BaSui01/agentgraph/internal/telemetry"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/llm/tokenizer"
	"github.com/BaSui01/agentgraph/llm/tools"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/catalog"
	"github.com/BaSui01/agentgraph/workflow/nodes"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// queueMaintenanceInterval 空闲模型队列的清理周期
const queueMaintenanceInterval = time.Minute

// Server 是 AgentGraph 的主服务器，持有所有运行期组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager
	handler        http.Handler

	// 可观测性
	registry         *prometheus.Registry
	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	// 工作流引擎
	runner  *workflow.Runner
	catalog *catalog.Catalog
	queue   *inference.QueueManager
	store   history.Store

	healthHandler *handlers.HealthHandler

	// 关闭时按逆序执行
	closers []namedCloser

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Init 构建所有组件但不监听端口。ctx 控制后台任务（目录监听、清理）的生命周期。
func (s *Server) Init(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// 1. 指标与遥测
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metricsCollector = metrics.NewCollector("agentgraph", s.registry, s.logger)

	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		s.logger.Warn("failed to initialize telemetry, tracing disabled", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.otelProviders = providers
	s.addCloser("telemetry", providers.Shutdown)

	s.healthHandler = handlers.NewHealthHandler(s.logger)

	// 2. 运行历史
	if err := s.initHistory(ctx); err != nil {
		s.abortInit(ctx)
		return fmt.Errorf("failed to init history: %w", err)
	}

	// 3. 推理队列与工具编排
	deps := s.initInference()

	// 4. 工作流引擎与定义目录
	if err := s.initWorkflows(ctx); err != nil {
		s.abortInit(ctx)
		return fmt.Errorf("failed to init workflows: %w", err)
	}

	// 5. HTTP 路由与中间件
	s.handler = s.buildHandler(ctx, deps)

	s.startBackground(ctx)
	return nil
}

// Start 初始化组件并启动 HTTP 与 Metrics 服务器（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	s.httpManager = server.NewManager(s.handler, server.ConfigFrom("http", s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	var err error
	if s.cfg.Server.TLSCertFile != "" {
		err = s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	} else {
		err = s.httpManager.Start()
	}
	if err != nil {
		s.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", s.metricsHandler())
		s.metricsManager = server.NewManager(mux, server.ConfigFrom("metrics", s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
		if err := s.metricsManager.Start(); err != nil {
			s.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("all servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("history_backends", s.cfg.History.Backends()),
		zap.Bool("telemetry_enabled", s.otelProviders.Enabled()),
	)
	return nil
}

// Run 阻塞直到 ctx 结束或 HTTP 服务异常退出，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case runErr = <-s.httpManager.Errors():
		s.logger.Error("HTTP server exited unexpectedly", zap.Error(runErr))
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	return errors.Join(runErr, s.Shutdown(shutdownCtx))
}

// Handler 返回带完整中间件链的 HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHistory 按配置打开历史后端；多个后端时第一个为主存储
func (s *Server) initHistory(ctx context.Context) error {
	var stores []history.Store
	for _, backend := range s.cfg.History.Backends() {
		store, err := s.openHistoryBackend(ctx, backend)
		if err != nil {
			return fmt.Errorf("%s backend: %w", backend, err)
		}
		stores = append(stores, store)
	}
	if len(stores) == 0 {
		return errors.New("no history backend configured")
	}

	if len(stores) == 1 {
		s.store = stores[0]
	} else {
		s.store = history.NewMulti(stores[0], stores[1:]...)
	}
	return nil
}

func (s *Server) openHistoryBackend(ctx context.Context, backend string) (history.Store, error) {
	switch backend {
	case "memory":
		return history.NewMemoryStore(s.cfg.History.MaxRuns), nil

	case "sql":
		pool, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return nil, err
		}
		s.addCloser("database", func(context.Context) error { return pool.Close() })

		store := history.NewSQLStore(pool, s.logger)
		if s.cfg.Database.AutoMigrate {
			if err := s.migrateHistory(ctx, store); err != nil {
				return nil, err
			}
		}
		if err := s.metricsCollector.RegisterDBStats(s.cfg.Database.Driver, pool.Stats); err != nil {
			s.logger.Warn("failed to register database stats", zap.Error(err))
		}
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", pool.Ping))
		return store, nil

	case "redis":
		manager, err := cache.NewManager(cache.Config{
			Addr:                s.cfg.Redis.Addr,
			Password:            s.cfg.Redis.Password,
			DB:                  s.cfg.Redis.DB,
			KeyPrefix:           s.cfg.Redis.KeyPrefix,
			MaxRetries:          3,
			PoolSize:            s.cfg.Redis.PoolSize,
			MinIdleConns:        s.cfg.Redis.MinIdleConns,
			HealthCheckInterval: 30 * time.Second,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		s.addCloser("redis", func(context.Context) error { return manager.Close() })
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", manager.Ping))
		return history.NewRedisStore(manager, s.cfg.History.Retention, s.logger), nil

	case "mongo":
		store, err := history.ConnectMongo(ctx, s.cfg.Mongo, s.logger)
		if err != nil {
			return nil, err
		}
		s.addCloser("mongo", store.Close)
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("mongo", store.Ping))
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported history backend: %s", backend)
	}
}

// migrateHistory 应用 SQL 历史表结构。内存 SQLite 无法从第二个连接访问，
// 只能通过 GORM AutoMigrate 建表；其余驱动使用版本化迁移。
func (s *Server) migrateHistory(ctx context.Context, store *history.SQLStore) error {
	dbCfg := s.cfg.Database
	if isMemorySQLite(dbCfg) {
		return store.AutoMigrate(ctx)
	}

	migrator, err := openMigrator(dbCfg)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(ctx); err != nil {
		return err
	}
	st, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Ready() {
		return fmt.Errorf("history tables missing after migrating to version %d", st.Version)
	}
	s.logger.Info("database migrations applied",
		zap.String("driver", dbCfg.Driver),
		zap.Uint("schema_version", st.Version),
	)
	return nil
}

// initInference 构建推理队列、工具编排器和执行器依赖
func (s *Server) initInference() *workflow.Deps {
	icfg := s.cfg.Inference
	hub := llm.NewHub(s.logger)
	engines := inference.DefaultEngines(inference.EngineConfig{
		BaseURL: icfg.BaseURL,
		APIKey:  icfg.APIKey,
		Timeout: icfg.Timeout,
	}, s.logger)

	s.queue = inference.NewQueueManager(engines, hub,
		inference.WithQueueCapacity(icfg.QueueCapacity),
		inference.WithLogger(s.logger),
		inference.WithMetrics(s.metricsCollector),
	)
	s.addCloser("inference queue", s.queue.Shutdown)
	s.registerQueueGauge()

	models := llm.NewModelRegistry(modelSpecs(icfg)...)
	if icfg.DefaultModel != "" {
		if err := models.SetDefault(icfg.DefaultModel); err != nil {
			s.logger.Warn("default model not registered", zap.String("model", icfg.DefaultModel), zap.Error(err))
		}
	}

	orch := tools.NewOrchestrator(s.queue, hub,
		tools.WithMaxIterations(s.cfg.Engine.MaxToolIterations),
		tools.WithResponseTimeout(s.cfg.Engine.InferenceResponseTimeout),
		tools.WithLogger(s.logger),
		tools.WithMetrics(s.metricsCollector),
	)

	s.logger.Info("inference initialized",
		zap.Int("models", models.Len()),
		zap.Strings("engines", engines.Names()),
	)

	return &workflow.Deps{
		Inference: nodes.NewOrchestratorRunner(orch, models),
		Logger:    s.logger,
		Extra:     map[string]any{"models": models},
	}
}

// registerQueueGauge 通过 OpenTelemetry 导出每个模型队列的活跃请求数
func (s *Server) registerQueueGauge() {
	meter := s.otelProviders.Meter("agentgraph/inference")
	_, err := meter.Int64ObservableGauge("agentgraph.inference.active_requests",
		metric.WithDescription("In-flight inference requests per model queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for _, st := range s.queue.Stats() {
				o.Observe(int64(st.Active), metric.WithAttributes(
					attribute.String("model_id", st.ModelID),
					attribute.String("engine", st.Engine),
				))
			}
			return nil
		}),
	)
	if err != nil {
		s.logger.Warn("failed to register queue gauge", zap.Error(err))
	}
}

// modelSpecs 将配置中的模型转换为模型规格，未设置并发上限的使用默认值
func modelSpecs(icfg config.InferenceConfig) []llm.ModelSpec {
	specs := make([]llm.ModelSpec, 0, len(icfg.Models))
	for _, m := range icfg.Models {
		maxConcurrent := m.MaxConcurrentRequests
		if maxConcurrent <= 0 {
			maxConcurrent = icfg.DefaultMaxConcurrent
		}
		modelType := m.ModelType
		if modelType == "" {
			modelType = "chat"
		}
		specs = append(specs, llm.ModelSpec{
			ID:                    m.ID,
			ModelType:             modelType,
			Config:                m.Config,
			MaxConcurrentRequests: maxConcurrent,
			Engine:                m.Engine,
		})
	}
	return specs
}

// initWorkflows 创建执行器注册表、运行器和定义目录
func (s *Server) initWorkflows(ctx context.Context) error {
	reg := workflow.NewRegistry()
	nodes.RegisterBuiltins(reg,
		nodes.WithLogger(s.logger),
		nodes.WithTokenizer(tokenizer.ForModelType(tokenizer.ModelDefault, s.logger)),
	)

	s.runner = workflow.NewRunner(reg, nil,
		workflow.WithLogger(s.logger),
		workflow.WithMetrics(s.metricsCollector),
		workflow.WithHistory(history.NewRecorder(s.store, s.logger)),
		workflow.WithTracer(s.otelProviders.Tracer("agentgraph/workflow")),
	)

	dir := s.cfg.Engine.DefinitionsDir
	if dir == "" {
		s.logger.Info("no definitions directory configured, only inline graphs can run")
		return nil
	}

	s.catalog = catalog.New(dir,
		catalog.WithLogger(s.logger),
		catalog.WithPollInterval(s.cfg.Engine.WatchInterval),
		catalog.WithOnChange(func(id string, graph *workflow.Graph) {
			if graph == nil {
				// 定义被删除时中止仍在运行的实例
				s.runner.CancelWorkflow(id)
			}
		}),
	)
	if err := s.catalog.Load(); err != nil {
		return err
	}
	for file, err := range s.catalog.Errors() {
		s.logger.Warn("skipped invalid workflow definition", zap.String("file", file), zap.Error(err))
	}
	s.logger.Info("workflow definitions loaded", zap.String("dir", dir), zap.Int("count", s.catalog.Len()))

	if s.cfg.Engine.WatchInterval > 0 {
		if err := s.catalog.Watch(ctx); err != nil {
			return err
		}
		s.addCloser("catalog", func(context.Context) error { return s.catalog.Close() })
	}
	return nil
}

// =============================================================================
// 🌐 HTTP 路由
// =============================================================================

func (s *Server) buildHandler(ctx context.Context, deps *workflow.Deps) http.Handler {
	var source handlers.GraphSource
	if s.catalog != nil {
		source = s.catalog
	}

	workflowHandler := handlers.NewWorkflowHandler(s.runner, source, deps, s.logger,
		handlers.WithOriginPatterns(originPatterns(s.cfg.Server.CORSAllowedOrigins)...),
	)
	historyHandler := handlers.NewHistoryHandler(s.store, s.logger)
	tokenHandler := handlers.NewTokenHandler(s.logger)

	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 工作流
	mux.HandleFunc("GET /api/v1/workflows", workflowHandler.HandleList)
	mux.HandleFunc("POST /api/v1/workflows/{id}/runs", workflowHandler.HandleExecute)
	mux.HandleFunc("GET /api/v1/workflows/{id}/runs", historyHandler.HandleListRuns)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancel", workflowHandler.HandleCancel)
	mux.HandleFunc("GET /api/v1/workflows/{id}/status", workflowHandler.HandleStatus)
	mux.HandleFunc("GET /api/v1/workflows/{id}/stream", workflowHandler.HandleStream)

	// 运行历史与工具
	mux.HandleFunc("GET /api/v1/runs/{runID}", historyHandler.HandleGetRun)
	mux.HandleFunc("POST /api/v1/tokens/count", tokenHandler.HandleCount)

	// 未配置独立端口时，指标挂在主服务上
	if s.cfg.Server.MetricsPort == 0 {
		mux.Handle("GET /metrics", s.metricsHandler())
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/version", "/metrics"}
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		Auth(s.cfg.Server.APIKeys, s.cfg.Server.JWTSecret, skipAuthPaths, s.logger),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		RecordRoute(),
	)
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// originPatterns 将 CORS 来源转换为 WebSocket 来源匹配模式（去掉 scheme）
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		out = append(out, o)
	}
	return out
}

// =============================================================================
// ⏱️ 后台任务
// =============================================================================

func (s *Server) startBackground(ctx context.Context) {
	if s.cfg.History.Retention > 0 {
		janitor := history.NewJanitor(s.store, s.cfg.History.Retention, 0, s.logger)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			janitor.Run(ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(queueMaintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.queue.CleanEmptyQueues(); n > 0 {
					s.logger.Debug("removed idle model queues", zap.Int("count", n))
				}
			}
		}
	}()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 优雅关闭：先停止接收请求，再停止后台任务，最后释放存储与遥测
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("starting graceful shutdown")

	var g errgroup.Group
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		g.Go(func() error { return m.Shutdown(ctx) })
	}
	err := g.Wait()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	err = errors.Join(err, s.closeAll(ctx))
	if err != nil {
		s.logger.Error("graceful shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("graceful shutdown completed")
	return nil
}

// abortInit 释放初始化失败前已打开的资源
func (s *Server) abortInit(ctx context.Context) {
	s.cancel()
	if err := s.closeAll(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("cleanup after failed init", zap.Error(err))
	}
}

func (s *Server) addCloser(name string, fn func(ctx context.Context) error) {
	s.closers = append(s.closers, namedCloser{name: name, close: fn})
}

func (s *Server) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
