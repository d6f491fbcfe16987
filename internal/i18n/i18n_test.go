// internal/i18n/i18n_test.go
package i18n

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLookup(t *testing.T) {
	tree := Tree{
		"notices": map[string]any{
			"reorder": map[string]any{"failed": "Could not save."},
		},
		"count": 3.0,
	}

	tests := []struct {
		key  string
		want string
	}{
		{"notices.reorder.failed", "Could not save."},
		{"notices.reorder.missing", "notices.reorder.missing"},
		{"notices.reorder", "notices.reorder"},
		{"notices.reorder.failed.deeper", "notices.reorder.failed.deeper"},
		{"count", "count"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Lookup(tree, tt.key); got != tt.want {
			t.Errorf("Lookup(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}

	if got := Lookup(nil, "a.b"); got != "a.b" {
		t.Fatalf("Lookup(nil) = %q", got)
	}
}

func TestCatalogDefaults(t *testing.T) {
	c, err := NewCatalog("", "en")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	langs := c.Languages()
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "zh" {
		t.Fatalf("Languages() = %v", langs)
	}
	if got := c.Translate("en", "notices.reorder.succeeded"); got != "Scene order saved." {
		t.Fatalf("en succeeded = %q", got)
	}
	if got := c.Translate("zh-CN", "notices.reorder.succeeded"); got != "场景顺序已保存。" {
		t.Fatalf("zh succeeded = %q", got)
	}
	// 未知语言退回默认语言
	if got := c.Translate("fr", "errors.NOT_FOUND"); got != "The requested item was not found." {
		t.Fatalf("fr fallback = %q", got)
	}
	if got := c.Translate("en", "no.such.key"); got != "no.such.key" {
		t.Fatalf("missing key = %q", got)
	}
}

func TestCatalogTreeIsCopy(t *testing.T) {
	c, _ := NewCatalog("", "en")
	tree, ok := c.Tree("en")
	if !ok {
		t.Fatalf("Tree(en) missing")
	}
	tree["app"].(map[string]any)["title"] = "changed"

	if got := c.Translate("en", "app.title"); got != "Screenplay Studio" {
		t.Fatalf("catalog mutated through Tree copy: %q", got)
	}
	if _, ok := c.Tree("xx"); ok {
		t.Fatalf("Tree(xx) should be missing")
	}
}

func TestCatalogDirectoryOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "en.json"), `{"app":{"title":"Custom"}}`)
	writeFile(t, filepath.Join(dir, "fr.json"), `{"app":{"title":"Studio de scénario"}}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `ignored`)

	c, err := NewCatalog(dir, "en")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if got := c.Translate("en", "app.title"); got != "Custom" {
		t.Fatalf("override = %q", got)
	}
	// 覆盖只替换叶子，其余内置键仍在
	if got := c.Translate("en", "notices.reorder.failed"); got != "Could not save the new scene order." {
		t.Fatalf("merged key = %q", got)
	}
	if !c.Has("fr") {
		t.Fatalf("fr not loaded")
	}
	if got := c.Translate("fr", "notices.reorder.failed"); got != "Could not save the new scene order." {
		t.Fatalf("fr falls back to default = %q", got)
	}
}

func TestCatalogRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "en.json"), `{broken`)
	if _, err := NewCatalog(dir, "en"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCatalogWatchReloads(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCatalog(dir, "en")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, filepath.Join(dir, "en.json"), `{"app":{"title":"Reloaded"}}`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.Translate("en", "app.title") == "Reloaded" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("catalog not reloaded, title = %q", c.Translate("en", "app.title"))
}

func TestResolve(t *testing.T) {
	c, _ := NewCatalog("", "en")

	tests := []struct {
		name                  string
		query, cookie, header string
		want                  string
	}{
		{"query wins", "zh", "en", "en", "zh"},
		{"cookie next", "", "zh", "en", "zh"},
		{"unsupported query skipped", "fr", "zh", "", "zh"},
		{"accept-language", "", "", "fr-FR,zh-CN;q=0.9,en;q=0.5", "zh"},
		{"accept-language order by q", "", "", "en;q=0.2,zh;q=0.8", "zh"},
		{"default", "", "", "de", "en"},
		{"garbage header", "", "", ";;;", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(c, tt.query, tt.cookie, tt.header); got != tt.want {
				t.Fatalf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocalizer(t *testing.T) {
	c, _ := NewCatalog("", "en")

	l := NewLocalizer(c, "zh")
	if l.Lang() != "zh" || l.T("errors.CONFLICT") != "场景列表已变化，请刷新后重试。" {
		t.Fatalf("zh localizer = %q %q", l.Lang(), l.T("errors.CONFLICT"))
	}

	l = NewLocalizer(c, "xx")
	if l.Lang() != "en" {
		t.Fatalf("unsupported lang = %q", l.Lang())
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
