// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corphon/ScreenplayStudio/internal/config"
	"github.com/Corphon/ScreenplayStudio/internal/di"
	"github.com/Corphon/ScreenplayStudio/internal/i18n"
	"github.com/Corphon/ScreenplayStudio/internal/services"
	"github.com/Corphon/ScreenplayStudio/internal/storage"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
)

// App 持有所有服务，负责启动和关闭的顺序
type App struct {
	Config     *config.AppConfig
	Container  *di.Container
	Store      storage.Store
	Locks      *services.LockManager
	Scenes     *services.SceneService
	Characters *services.CharacterService
	Catalog    *i18n.Catalog
	Metrics    *utils.APIMetrics
	Logger     *utils.Logger

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// OpenStore 按配置打开存储后端
func OpenStore(cfg *config.AppConfig) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreFile:
		fs, err := storage.NewFileStore(filepath.Join(cfg.DataDir, "documents"))
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.StoreSQLite, "":
		db, err := storage.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("不支持的存储后端: %q", cfg.StoreBackend)
	}
}

// New 按依赖顺序创建所有服务并注册到容器
func New(cfg *config.AppConfig, container *di.Container, logger *utils.Logger) (*App, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	catalog, err := i18n.NewCatalog(cfg.LocalesDir, cfg.DefaultLanguage)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("加载语言包失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := catalog.Watch(ctx); err != nil {
		// 热加载不可用时继续使用已加载的语言包
		logger.Warn("语言目录监听失败", map[string]interface{}{"dir": cfg.LocalesDir, "error": err.Error()})
	}

	metrics := utils.NewAPIMetricsWith(utils.GetMetricsCollector(), logger)
	locks := services.NewLockManager()

	a := &App{
		Config:    cfg,
		Container: container,
		Store:     store,
		Locks:     locks,
		Scenes: services.NewSceneService(store, locks, services.SceneServiceOptions{
			ErrorTTL:   cfg.NoticeErrorTTL,
			SuccessTTL: cfg.NoticeSuccessTTL,
			Metrics:    metrics,
			Logger:     logger,
		}),
		Characters: services.NewCharacterService(store, metrics, logger),
		Catalog:    catalog,
		Metrics:    metrics,
		Logger:     logger,
		cancel:     cancel,
	}

	if cfg.DebugMode {
		metrics.StartMetricsCollection(ctx, time.Minute)
	}

	container.Register("config", cfg)
	container.Register("store", store)
	container.Register("locks", locks)
	container.Register("i18n", catalog)
	container.Register("metrics", metrics)
	container.Register("scene", a.Scenes)
	container.Register("character", a.Characters)

	logger.Info("服务初始化完成", map[string]interface{}{
		"store":     cfg.StoreBackend,
		"languages": catalog.Languages(),
		"services":  container.GetNames(),
	})
	return a, nil
}

// InitServices 使用当前配置初始化服务并注册到全局容器
func InitServices() (*App, error) {
	cfg := config.GetCurrentConfig()

	logger := utils.GetLogger()
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "app.log")); err != nil {
		log.Printf("⚠️ 日志文件初始化失败，仅输出到控制台: %v", err)
	}

	return New(cfg, di.GetContainer(), logger)
}

// Shutdown 按创建的逆序关闭服务
func (a *App) Shutdown() error {
	var firstErr error
	a.closeOnce.Do(func() {
		a.cancel()
		a.Scenes.Close()
		a.Locks.Stop()
		if err := a.Store.Close(); err != nil {
			firstErr = fmt.Errorf("关闭存储失败: %w", err)
		}
		a.Container.Clear()
		a.Logger.Info("服务已关闭", nil)
	})
	return firstErr
}
