// cmd/server/serve.go
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

	"github.com/Corphon/ScreenplayStudio/internal/api"
	"github.com/Corphon/ScreenplayStudio/internal/app"
	"github.com/Corphon/ScreenplayStudio/internal/config"
	"github.com/Corphon/ScreenplayStudio/internal/di"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func addServe(topLevel *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 和 WebSocket 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	topLevel.AddCommand(cmd)
}

// bootstrap 加载配置并初始化所有服务
func bootstrap() (*app.App, *config.AppConfig, error) {
	baseConfig, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		return nil, nil, fmt.Errorf("初始化配置系统失败: %w", err)
	}

	a, err := app.InitServices()
	if err != nil {
		return nil, nil, fmt.Errorf("初始化服务失败: %w", err)
	}
	return a, config.GetCurrentConfig(), nil
}

func runServe() error {
	log.Println("🚀 启动 Screenplay Studio 服务器...")

	a, cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Shutdown()
	log.Printf("✅ 所有服务初始化完成，存储后端: %s", cfg.StoreBackend)

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router, handler, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	defer handler.Close()
	log.Println("✅ 路由设置完成")

	log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)

	return serveUntilSignal(router, cfg.Port)
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"config", "store", "scene", "character", "i18n"}
	for _, serviceName := range criticalServices {
		if !container.Has(serviceName) {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// 优雅关闭函数
func serveUntilSignal(router *gin.Engine, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-quit:
	}

	log.Println("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	log.Println("✅ 服务器优雅关闭完成")
	return nil
}
