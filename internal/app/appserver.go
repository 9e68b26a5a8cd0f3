package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"proxyharvest/internal/service/web"
	"proxyharvest/internal/shared/logger"
	"proxyharvest/internal/shared/types"
	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/harvester"
	"proxyharvest/proxypool/storage"
	"proxyharvest/proxypool/validator"
)

// AppServer is the application's composition root.
// CLI 命令使用其中的 Manager，serve 命令额外调用 Run 启动 Web API 与定时任务。
type AppServer struct {
	cfg   *types.Config
	store *storage.Store

	proxyPoolManager *manager.Manager
	hub              *web.Hub
	httpServer       *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// New 组装流水线。存储打开失败或自定义源文件有误时返回错误。
func New(cfg *types.Config) (*AppServer, error) {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.StoreConf.Path, storage.Options{EnableWAL: cfg.StoreConf.EnableWAL})
	if err != nil {
		return nil, err
	}

	h := harvester.New(reg, harvesterOptions(cfg))
	v := validator.NewValidator(validatorConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	return &AppServer{
		cfg:              cfg,
		store:            store,
		proxyPoolManager: manager.NewManager(cfg, store, h, v),
		hub:              web.NewHub(),
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

func (s *AppServer) Manager() *manager.Manager { return s.proxyPoolManager }

func (s *AppServer) Config() *types.Config { return s.cfg }

// Run 启动 Hub、Web API 与定时任务，阻塞直到 Stop 被调用。
func (s *AppServer) Run() error {
	logger.Info().Str("store", s.store.Path()).Msg("Starting server in 'serve' mode...")

	go s.hub.Run(s.ctx) // 启动 Hub

	handler := web.NewHandler(s.ctx, s.proxyPoolManager, s.hub, s.cfg.VerifyConf.Concurrency)
	srv, err := web.StartServer(&s.waitGroup, s.cfg, handler, s.hub)
	if err != nil {
		s.Stop()
		return fmt.Errorf("web server failed to start: %w", err)
	}
	s.httpServer = srv

	// Start the proxy pool manager's background tasks
	s.proxyPoolManager.Start()

	<-s.ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := web.Shutdown(shutdownCtx, s.httpServer); err != nil {
		logger.Warn().Err(err).Msg("Web server did not shut down cleanly.")
	}
	s.Wait()
	return nil
}

// Stop gracefully shuts down the server. 可以重复调用。
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		s.proxyPoolManager.Stop()
		s.cancel()
	})
}

func (s *AppServer) Wait() {
	s.waitGroup.Wait()
}

// Close 停止所有任务并关闭存储。
func (s *AppServer) Close() error {
	s.Stop()
	return s.store.Close()
}
