package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-fall/internal/common/logger"
	"wisefido-fall/internal/config"
	httpapi "wisefido-fall/internal/http"
	"wisefido-fall/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 0. 本地开发时加载 .env（文件不存在时忽略）
	_ = godotenv.Load()

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-fall")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	fallService, err := service.NewFallService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create fall detection service",
			zap.Error(err),
		)
	}

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fallService.Start(ctx); err != nil {
		log.Fatal("Failed to start fall detection service",
			zap.Error(err),
		)
	}

	// 5. HTTP 服务
	router := httpapi.NewRouter(log)
	router.RegisterHealthRoutes()
	router.RegisterFallRoutes(
		httpapi.NewFallHandler(fallService.Detection(), fallService.Events(), fallService.PoseData(), log),
		http.HandlerFunc(fallService.Hub().ServeWS),
	)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case err := <-serverErrChan:
		log.Error("HTTP server error",
			zap.Error(err),
		)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	cancel() // 取消上下文，停止消费者与后台任务
	if err := fallService.Stop(); err != nil {
		log.Error("Failed to stop fall detection service", zap.Error(err))
	}

	log.Info("Fall detection service stopped")
}
