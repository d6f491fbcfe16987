// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/Corphon/ScreenplayStudio/internal/config"
	"github.com/Corphon/ScreenplayStudio/internal/di"
	"github.com/Corphon/ScreenplayStudio/internal/i18n"
	"github.com/Corphon/ScreenplayStudio/internal/services"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
	"github.com/gin-gonic/gin"
)

// SetupRouter 从容器获取服务并配置HTTP路由
func SetupRouter() (*gin.Engine, *Handler, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	sceneService, err := di.Resolve[*services.SceneService](container, "scene")
	if err != nil {
		return nil, nil, fmt.Errorf("场景服务未正确初始化: %w", err)
	}
	characterService, err := di.Resolve[*services.CharacterService](container, "character")
	if err != nil {
		return nil, nil, fmt.Errorf("角色服务未正确初始化: %w", err)
	}
	catalog, err := di.Resolve[*i18n.Catalog](container, "i18n")
	if err != nil {
		return nil, nil, fmt.Errorf("语言包未正确初始化: %w", err)
	}
	metrics, err := di.Resolve[*utils.APIMetrics](container, "metrics")
	if err != nil {
		return nil, nil, fmt.Errorf("指标服务未正确初始化: %w", err)
	}

	handler := NewHandler(sceneService, characterService, catalog, metrics)
	return NewRouter(handler, cfg), handler, nil
}

// NewRouter 注册所有路由
func NewRouter(handler *Handler, cfg *config.AppConfig) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(requestIDMiddleware())
	r.Use(localeMiddleware(handler.Catalog))
	r.Use(metricsMiddleware(handler.Metrics))

	// 静态文件服务
	if cfg.StaticDir != "" {
		r.Static("/static", cfg.StaticDir)
	}

	r.GET("/health", handler.Health)

	// WebSocket：每个连接推送一个集合的完整快照
	ws := r.Group("/ws/projects/:pid")
	{
		ws.GET("/characters", handler.WebSocketHandler.CharactersWebSocket)
		ws.GET("/screenplays/:sid/scenes", handler.WebSocketHandler.ScenesWebSocket)
	}

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(WriteRateLimit(handler.limiter, handler.Response, cfg.WriteRateLimit, time.Minute))
	{
		api.POST("/headings/classify", handler.ClassifyHeading)

		api.GET("/i18n/:lang", handler.GetLocale)
		api.PUT("/locale", handler.SetLocale)

		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)

		// ===============================
		// 角色相关路由
		// ===============================
		charactersGroup := api.Group("/projects/:pid/characters")
		{
			charactersGroup.GET("", handler.ListCharacters)
			charactersGroup.POST("", handler.CreateCharacter)
			charactersGroup.GET("/:cid", handler.GetCharacter)
			charactersGroup.PUT("/:cid", handler.UpdateCharacter)
			charactersGroup.DELETE("/:cid", handler.DeleteCharacter)
		}

		// ===============================
		// 场景相关路由
		// ===============================
		scenesGroup := api.Group("/projects/:pid/screenplays/:sid/scenes")
		{
			scenesGroup.GET("", handler.ListScenes)
			scenesGroup.POST("", handler.CreateScene)

			scenesGroup.POST("/reorder", handler.ReorderScenes)
			scenesGroup.POST("/renumber", handler.RenumberScenes)
			scenesGroup.GET("/state", handler.GetSceneState)
			scenesGroup.PUT("/state", handler.SelectScene)

			scenesGroup.GET("/:scene_id", handler.GetScene)
			scenesGroup.PUT("/:scene_id", handler.UpdateScene)
			scenesGroup.DELETE("/:scene_id", handler.DeleteScene)
		}
	}

	return r
}
