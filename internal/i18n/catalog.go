// internal/i18n/catalog.go
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

//go:embed locales/*.json
var defaultLocales embed.FS

// Catalog 所有语言包；内置默认语言包，可由目录中的 <lang>.json 覆盖
type Catalog struct {
	mu          sync.RWMutex
	trees       map[string]Tree
	dir         string
	defaultLang string
}

// NewCatalog 加载内置语言包并合并 dir 中的文件，dir 可为空
func NewCatalog(dir, defaultLang string) (*Catalog, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}
	c := &Catalog{dir: dir, defaultLang: normalizeLang(defaultLang)}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload 重新读取全部语言包；失败时保留原有内容
func (c *Catalog) Reload() error {
	trees := make(map[string]Tree)

	entries, err := fs.ReadDir(defaultLocales, "locales")
	if err != nil {
		return fmt.Errorf("读取内置语言包失败: %w", err)
	}
	for _, e := range entries {
		raw, err := defaultLocales.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("读取内置语言包失败: %w", err)
		}
		if err := mergeFile(trees, e.Name(), raw); err != nil {
			return err
		}
	}

	if c.dir != "" {
		entries, err := os.ReadDir(c.dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("读取语言目录失败: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
			if err != nil {
				return fmt.Errorf("读取语言包 %s 失败: %w", e.Name(), err)
			}
			if err := mergeFile(trees, e.Name(), raw); err != nil {
				return err
			}
		}
	}

	c.mu.Lock()
	c.trees = trees
	c.mu.Unlock()
	return nil
}

func mergeFile(trees map[string]Tree, name string, raw []byte) error {
	lang := normalizeLang(strings.TrimSuffix(name, filepath.Ext(name)))
	var tree Tree
	if err := json.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("解析语言包 %s 失败: %w", name, err)
	}
	trees[lang] = mergeTrees(trees[lang], tree)
	return nil
}

// DefaultLanguage 默认语言
func (c *Catalog) DefaultLanguage() string {
	return c.defaultLang
}

// Languages 已加载的语言
func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	langs := make([]string, 0, len(c.trees))
	for l := range c.trees {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Has 是否支持该语言
func (c *Catalog) Has(lang string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.trees[normalizeLang(lang)]
	return ok
}

// Tree 返回语言包副本，未加载的语言返回 false
func (c *Catalog) Tree(lang string) (Tree, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.trees[normalizeLang(lang)]
	if !ok {
		return nil, false
	}
	return cloneTree(t), true
}

// Translate 先查指定语言，再查默认语言，都没有时返回 key
func (c *Catalog) Translate(lang, key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if s, ok := find(c.trees[normalizeLang(lang)], key); ok {
		return s
	}
	return Lookup(c.trees[c.defaultLang], key)
}

// Watch 监听语言目录，文件变化后重新加载，直到 ctx 结束
func (c *Catalog) Watch(ctx context.Context) error {
	if c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("创建语言目录失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("监听语言目录失败: %w", err)
	}

	go func() {
		defer watcher.Close()

		// 合并短时间内的多次写入
		var timer *time.Timer
		reload := func() {
			if err := c.Reload(); err != nil {
				log.Printf("⚠️ 重新加载语言包失败: %v", err)
				return
			}
			log.Printf("🌐 语言包已重新加载: %v", c.Languages())
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ 语言目录监听错误: %v", err)
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(evt.Name) != ".json" {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(100*time.Millisecond, reload)
			}
		}
	}()

	return nil
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
