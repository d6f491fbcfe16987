// internal/config/config_test.go
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("DEFAULT_LANGUAGE", "")
	t.Setenv("NOTICE_ERROR_TTL", "")
	t.Setenv("NOTICE_SUCCESS_TTL", "")
	t.Setenv("WRITE_RATE_LIMIT", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.StoreBackend != StoreSQLite {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DatabasePath != filepath.Join(dir, "data", "studio.db") {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.NoticeErrorTTL != 3*time.Second || cfg.NoticeSuccessTTL != 2*time.Second {
		t.Fatalf("ttls = %v %v", cfg.NoticeErrorTTL, cfg.NoticeSuccessTTL)
	}
	if cfg.DefaultLanguage != "en" || cfg.WriteRateLimit != 120 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs")); err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_BACKEND", "FILE")
	t.Setenv("NOTICE_ERROR_TTL", "5s")
	t.Setenv("NOTICE_SUCCESS_TTL", "not-a-duration")
	t.Setenv("WRITE_RATE_LIMIT", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != StoreFile || cfg.NoticeErrorTTL != 5*time.Second || cfg.WriteRateLimit != 30 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.NoticeSuccessTTL != 2*time.Second {
		t.Fatalf("invalid duration should fall back, got %v", cfg.NoticeSuccessTTL)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_BACKEND", "mongo")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestInitConfigKeepsSavedLanguage(t *testing.T) {
	dir := setBaseEnv(t)
	dataDir := filepath.Join(dir, "data")

	if err := InitConfig(dataDir); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := UpdateLanguage("zh"); err != nil {
		t.Fatalf("UpdateLanguage: %v", err)
	}

	// 重启后端口以环境变量为准，语言保留文件中的值
	t.Setenv("PORT", "7070")
	if err := InitConfig(dataDir); err != nil {
		t.Fatalf("InitConfig again: %v", err)
	}
	cfg := GetCurrentConfig()
	if cfg.Port != "7070" || cfg.DefaultLanguage != "zh" {
		t.Fatalf("cfg = %+v", cfg)
	}

	raw, err := os.ReadFile(filepath.Join(dataDir, "config.json"))
	if err != nil {
		t.Fatalf("read config.json: %v", err)
	}
	var saved AppConfig
	if err := json.Unmarshal(raw, &saved); err != nil {
		t.Fatalf("parse config.json: %v", err)
	}
	if saved.DefaultLanguage != "zh" || saved.Port != "7070" {
		t.Fatalf("saved = %+v", saved)
	}

	cfg.Port = "mutated"
	if GetCurrentConfig().Port != "7070" {
		t.Fatalf("GetCurrentConfig should return a copy")
	}
	if err := UpdateLanguage("  "); err == nil {
		t.Fatalf("blank language accepted")
	}
}
