// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// 存储后端
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置，每次启动以环境变量为准
	Port         string `json:"port"`
	DataDir      string `json:"data_dir"`
	StaticDir    string `json:"static_dir"`
	LogDir       string `json:"log_dir"`
	LogLevel     string `json:"log_level"`
	DebugMode    bool   `json:"debug_mode"`
	StoreBackend string `json:"store_backend"`
	DatabasePath string `json:"database_path"`
	LocalesDir   string `json:"locales_dir"`

	NoticeErrorTTL   time.Duration `json:"notice_error_ttl"`
	NoticeSuccessTTL time.Duration `json:"notice_success_ttl"`
	// WriteRateLimit 每个客户端每分钟允许的写请求数
	WriteRateLimit int `json:"write_rate_limit"`

	// 用户级设置，保留文件中的值
	DefaultLanguage string `json:"default_language"`
}

// Load 从环境变量加载配置
func Load() (*AppConfig, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	dataDir := getEnvPath("DATA_DIR", "data")
	cfg := &AppConfig{
		Port:             getEnv("PORT", "8080"),
		DataDir:          dataDir,
		StaticDir:        getEnv("STATIC_DIR", "static"),
		LogDir:           getEnvPath("LOG_DIR", "logs"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DebugMode:        getEnvBool("DEBUG_MODE", false),
		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		DatabasePath:     getEnv("DATABASE_PATH", filepath.Join(dataDir, "studio.db")),
		LocalesDir:       getEnv("LOCALES_DIR", ""),
		DefaultLanguage:  getEnv("DEFAULT_LANGUAGE", "en"),
		NoticeErrorTTL:   getEnvDuration("NOTICE_ERROR_TTL", 3*time.Second),
		NoticeSuccessTTL: getEnvDuration("NOTICE_SUCCESS_TTL", 2*time.Second),
		WriteRateLimit:   getEnvInt("WRITE_RATE_LIMIT", 120),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c *AppConfig) Validate() error {
	switch c.StoreBackend {
	case StoreSQLite, StoreFile:
	default:
		return fmt.Errorf("不支持的存储后端: %q", c.StoreBackend)
	}
	if c.NoticeErrorTTL <= 0 || c.NoticeSuccessTTL <= 0 {
		return fmt.Errorf("提示显示时间必须大于 0")
	}
	if c.WriteRateLimit <= 0 {
		return fmt.Errorf("WRITE_RATE_LIMIT 必须大于 0")
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的目录，并确保目录存在
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			log.Printf("警告: 创建目录失败 %s: %v", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("警告: %s=%q 不是整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("警告: %s=%q 不是有效时长，使用默认值 %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = filepath.Join(dataDir, "config.json")
	currentConfig = baseConfig

	// 尝试从文件加载已保存的配置
	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if err := json.Unmarshal(data, &saved); err != nil {
			log.Printf("警告: 配置文件无法解析，将被覆盖: %v", err)
		} else if saved.DefaultLanguage != "" {
			currentConfig.DefaultLanguage = saved.DefaultLanguage
		}
	}

	// 保存初始配置到文件
	return saveLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 未初始化时直接读环境变量
		if cfg, err := Load(); err == nil {
			return cfg
		}
		return &AppConfig{
			Port:             "8080",
			DataDir:          "data",
			LogDir:           "logs",
			StoreBackend:     StoreSQLite,
			DatabasePath:     filepath.Join("data", "studio.db"),
			DefaultLanguage:  "en",
			NoticeErrorTTL:   3 * time.Second,
			NoticeSuccessTTL: 2 * time.Second,
			WriteRateLimit:   120,
		}
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateLanguage 更新默认语言并保存
func UpdateLanguage(lang string) error {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return fmt.Errorf("语言不能为空")
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}
	currentConfig.DefaultLanguage = lang
	return saveLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return saveLocked()
}

func saveLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	// 原子写入
	tmp := configFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("保存配置失败: %w", err)
	}
	if err := os.Rename(tmp, configFile); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("保存配置失败: %w", err)
	}
	return nil
}
