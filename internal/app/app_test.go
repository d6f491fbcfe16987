// internal/app/app_test.go
package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Corphon/ScreenplayStudio/internal/config"
	"github.com/Corphon/ScreenplayStudio/internal/di"
	"github.com/Corphon/ScreenplayStudio/internal/models"
	"github.com/Corphon/ScreenplayStudio/internal/services"
	"github.com/Corphon/ScreenplayStudio/internal/storage"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
)

func testConfig(t *testing.T, backend string) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	return &config.AppConfig{
		DataDir:          dir,
		LogDir:           filepath.Join(dir, "logs"),
		StoreBackend:     backend,
		DatabasePath:     filepath.Join(dir, "studio.db"),
		LocalesDir:       filepath.Join(dir, "locales"),
		DefaultLanguage:  "en",
		NoticeErrorTTL:   3 * time.Second,
		NoticeSuccessTTL: 2 * time.Second,
		WriteRateLimit:   100,
	}
}

func TestNewRegistersServices(t *testing.T) {
	for _, backend := range []string{config.StoreSQLite, config.StoreFile} {
		t.Run(backend, func(t *testing.T) {
			container := di.NewContainer()
			a, err := New(testConfig(t, backend), container, utils.NewLogger(&bytes.Buffer{}))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer a.Shutdown()

			for _, name := range []string{"store", "locks", "i18n", "metrics", "scene", "character"} {
				if !container.Has(name) {
					t.Fatalf("service %q not registered", name)
				}
			}
			if _, err := di.Resolve[*services.SceneService](container, "scene"); err != nil {
				t.Fatalf("Resolve scene: %v", err)
			}

			ctx := context.Background()
			ref := services.ScreenplayRef{ProjectID: "p1", ScreenplayID: "s1"}
			heading := "INT. HALL - DAY"
			view, err := a.Scenes.CreateScene(ctx, ref, models.SceneInput{Heading: &heading})
			if err != nil {
				t.Fatalf("CreateScene: %v", err)
			}
			if view.Descriptor.TimeOfDay != "DAY" {
				t.Fatalf("descriptor = %+v", view.Descriptor)
			}
		})
	}
}

func TestOpenStoreBackends(t *testing.T) {
	cfg := testConfig(t, config.StoreSQLite)
	store, err := OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore sqlite: %v", err)
	}
	if _, ok := store.(*storage.SQLiteStore); !ok {
		t.Fatalf("sqlite backend = %T", store)
	}
	_ = store.Close()

	cfg.StoreBackend = config.StoreFile
	store, err = OpenStore(cfg)
	if err != nil {
		t.Fatalf("OpenStore file: %v", err)
	}
	if _, ok := store.(*storage.FileStore); !ok {
		t.Fatalf("file backend = %T", store)
	}
	_ = store.Close()

	cfg.StoreBackend = "mongo"
	if _, err := OpenStore(cfg); err == nil {
		t.Fatalf("unknown backend accepted")
	}
}

func TestCustomLocalesDirOverridesDefaults(t *testing.T) {
	cfg := testConfig(t, config.StoreFile)
	if err := os.MkdirAll(cfg.LocalesDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	custom := `{"app": {"title": "Studio Custom"}}`
	if err := os.WriteFile(filepath.Join(cfg.LocalesDir, "en.json"), []byte(custom), 0644); err != nil {
		t.Fatalf("write locale: %v", err)
	}

	container := di.NewContainer()
	a, err := New(cfg, container, utils.NewLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown()

	if got := a.Catalog.Translate("en", "app.title"); got != "Studio Custom" {
		t.Fatalf("app.title = %q", got)
	}
	// 未覆盖的键仍来自内置语言包
	if got := a.Catalog.Translate("en", "notices.reorder.succeeded"); got == "notices.reorder.succeeded" {
		t.Fatalf("built-in key missing after merge")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	container := di.NewContainer()
	a, err := New(testConfig(t, config.StoreSQLite), container, utils.NewLogger(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if container.Has("scene") {
		t.Fatalf("container not cleared")
	}
}
