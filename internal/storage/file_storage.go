// internal/storage/file_storage.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore 基于 JSON 文件的文档存储：<BaseDir>/<collection>/<id>.json
type FileStore struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 集合目录 -> *sync.RWMutex

	// 简单缓存
	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int

	hub         *hub
	stop        chan struct{}
	closeOnce   sync.Once
	cleanupOnce sync.Once
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Data      []byte
	Timestamp time.Time
}

// renameFile 批量提交使用的重命名
var renameFile = os.Rename

// NewFileStore 创建文件存储
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	fs := &FileStore{
		BaseDir:      baseDir,
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 500,
		hub:          newHub(),
		stop:         make(chan struct{}),
	}

	// 启动缓存清理
	fs.StartCacheCleanup()

	return fs, nil
}

// 获取集合锁
func (fs *FileStore) getFileLock(collection string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(collection, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStore) collectionDir(collection string) string {
	return filepath.Join(fs.BaseDir, filepath.FromSlash(collection))
}

func (fs *FileStore) docFile(collection, id string) string {
	return filepath.Join(fs.collectionDir(collection), id+".json")
}

// Subscribe 订阅集合查询
func (fs *FileStore) Subscribe(ctx context.Context, q Query) (<-chan Snapshot, error) {
	return fs.hub.subscribe(ctx, q, fs.List)
}

// Get 读取单个文档
func (fs *FileStore) Get(ctx context.Context, docPath string) (Document, error) {
	collection, id, err := SplitDocPath(docPath)
	if err != nil {
		return Document{}, err
	}

	lock := fs.getFileLock(collection)
	lock.RLock()
	defer lock.RUnlock()

	doc, err := fs.loadDocument(fs.docFile(collection, id))
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, docPath)
	}
	return doc, err
}

// List 按查询排序列出集合中的全部文档
func (fs *FileStore) List(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	lock := fs.getFileLock(q.Collection)
	lock.RLock()
	defer lock.RUnlock()

	entries, err := os.ReadDir(fs.collectionDir(q.Collection))
	if errors.Is(err, os.ErrNotExist) {
		return []Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := fs.loadDocument(filepath.Join(fs.collectionDir(q.Collection), entry.Name()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	sortDocuments(docs, q)
	return docs, nil
}

// Create 在集合中创建文档，返回新 ID
func (fs *FileStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	normalized, err := normalizeFields(fields)
	if err != nil {
		return "", err
	}

	lock := fs.getFileLock(collection)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fs.collectionDir(collection), 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}

	now := time.Now().UTC()
	doc := Document{ID: uuid.NewString(), Fields: normalized, CreateTime: now, UpdateTime: now}
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}
	if err := fs.writeFileAtomic(fs.docFile(collection, doc.ID), content); err != nil {
		return "", err
	}

	fs.hub.notify(collection)
	return doc.ID, nil
}

// Update 合并字段到已有文档
func (fs *FileStore) Update(ctx context.Context, docPath string, fields map[string]any) error {
	return fs.BatchUpdate(ctx, []Update{{Path: docPath, Fields: fields}})
}

// Delete 删除文档，文档不存在时不报错
func (fs *FileStore) Delete(ctx context.Context, docPath string) error {
	collection, id, err := SplitDocPath(docPath)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(collection)
	lock.Lock()
	defer lock.Unlock()

	fullPath := fs.docFile(collection, id)
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("删除文件失败: %w", err)
	}

	// 清除缓存
	fs.invalidateCache(fullPath)
	fs.hub.notify(collection)
	return nil
}

// BatchUpdate 先写全部临时文件，再把原文件移为 .bak 后逐一替换；
// 任何目标缺失或写入失败时从 .bak 恢复，不改动任何文档
func (fs *FileStore) BatchUpdate(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}

	type pending struct {
		docPath  string
		fullPath string
		patch    map[string]any
		delete   bool
	}
	items := make([]pending, 0, len(updates))
	touched := make(map[string]struct{})
	for _, u := range updates {
		collection, id, err := SplitDocPath(u.Path)
		if err != nil {
			return err
		}
		it := pending{docPath: u.Path, fullPath: fs.docFile(collection, id), delete: u.Delete}
		if !u.Delete {
			if it.patch, err = normalizeFields(u.Fields); err != nil {
				return err
			}
		}
		items = append(items, it)
		touched[collection] = struct{}{}
	}

	// 固定加锁顺序
	collections := make([]string, 0, len(touched))
	for c := range touched {
		collections = append(collections, c)
	}
	sort.Strings(collections)
	for _, c := range collections {
		lock := fs.getFileLock(c)
		lock.Lock()
		defer lock.Unlock()
	}

	now := time.Now().UTC()
	merged := make(map[string]Document, len(items))
	deleted := make(map[string]bool)
	order := make([]string, 0, len(items))
	for _, it := range items {
		if deleted[it.fullPath] {
			return fmt.Errorf("%w: %s", ErrNotFound, it.docPath)
		}
		doc, ok := merged[it.fullPath]
		if !ok {
			var err error
			doc, err = fs.loadDocument(it.fullPath)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrNotFound, it.docPath)
			}
			if err != nil {
				return err
			}
			order = append(order, it.fullPath)
		}
		if it.delete {
			deleted[it.fullPath] = true
			continue
		}
		doc.Fields = mergePatch(doc.Fields, it.patch)
		doc.UpdateTime = now
		merged[it.fullPath] = doc
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	temps := make(map[string]string, len(order))
	cleanup := func() {
		for _, t := range temps {
			if removeErr := os.Remove(t); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				log.Printf("⚠️ 清理临时文件失败 %s: %v", t, removeErr)
			}
		}
	}
	for _, fullPath := range order {
		if deleted[fullPath] {
			continue
		}
		content, err := json.MarshalIndent(merged[fullPath], "", "  ")
		if err != nil {
			cleanup()
			return fmt.Errorf("序列化JSON失败: %w", err)
		}
		tempPath := fullPath + ".tmp"
		if err := os.WriteFile(tempPath, content, 0644); err != nil {
			cleanup()
			return fmt.Errorf("保存临时文件失败: %w", err)
		}
		temps[fullPath] = tempPath
	}

	// 已移为 .bak 的原文件，失败时按逆序恢复
	var backedUp []string
	rollback := func() {
		for i := len(backedUp) - 1; i >= 0; i-- {
			fullPath := backedUp[i]
			if err := renameFile(fullPath+".bak", fullPath); err != nil {
				log.Printf("⚠️ 恢复文件失败 %s: %v", fullPath, err)
			}
			fs.invalidateCache(fullPath)
		}
		cleanup()
	}
	for _, fullPath := range order {
		if err := renameFile(fullPath, fullPath+".bak"); err != nil {
			rollback()
			return fmt.Errorf("备份文件失败: %w", err)
		}
		backedUp = append(backedUp, fullPath)
		if deleted[fullPath] {
			continue
		}
		if err := renameFile(temps[fullPath], fullPath); err != nil {
			rollback()
			return fmt.Errorf("保存文件失败: %w", err)
		}
	}

	for _, fullPath := range order {
		if err := os.Remove(fullPath + ".bak"); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("⚠️ 清理备份文件失败 %s: %v", fullPath, err)
		}
		fs.invalidateCache(fullPath)
	}

	fs.hub.notify(collections...)
	return nil
}

// Close 停止缓存清理并结束所有订阅
func (fs *FileStore) Close() error {
	fs.closeOnce.Do(func() {
		close(fs.stop)
		fs.hub.close()
	})
	return nil
}

// writeFileAtomic 调用方需持有集合写锁
func (fs *FileStore) writeFileAtomic(fullPath string, content []byte) error {
	tempPath := fullPath + ".tmp"

	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			log.Printf("⚠️ 清理临时文件失败 %s: %v", tempPath, removeErr)
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}

	fs.invalidateCache(fullPath)
	return nil
}

// loadDocument 调用方需持有集合锁
func (fs *FileStore) loadDocument(fullPath string) (Document, error) {
	content, ok := fs.cached(fullPath)
	if !ok {
		var err error
		content, err = os.ReadFile(fullPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Document{}, err
			}
			return Document{}, fmt.Errorf("读取文件失败: %w", err)
		}
		fs.updateCache(fullPath, content)
	}

	var doc Document
	if err := json.Unmarshal(content, &doc); err != nil {
		return Document{}, fmt.Errorf("解析JSON失败 %s: %w", fullPath, err)
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]any)
	}
	return doc, nil
}

func (fs *FileStore) cached(path string) ([]byte, bool) {
	fs.cacheMutex.RLock()
	defer fs.cacheMutex.RUnlock()

	entry, exists := fs.cache[path]
	if !exists || time.Since(entry.Timestamp) >= fs.cacheExpiry {
		return nil, false
	}
	return entry.Data, true
}

// 缓存管理
func (fs *FileStore) updateCache(path string, data []byte) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	fs.cache[path] = &CacheEntry{
		Data:      data,
		Timestamp: time.Now(),
	}

	// 简单的缓存大小控制
	if len(fs.cache) > fs.maxCacheSize {
		var oldestKey string
		var oldestTime time.Time

		for key, entry := range fs.cache {
			if oldestKey == "" || entry.Timestamp.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.Timestamp
			}
		}

		if oldestKey != "" {
			delete(fs.cache, oldestKey)
		}
	}
}

// StartCacheCleanup 开始缓存清理，Close 时退出；重复调用只启动一次
func (fs *FileStore) StartCacheCleanup() {
	fs.cleanupOnce.Do(func() { go fs.cacheCleanupLoop() })
}

func (fs *FileStore) cacheCleanupLoop() {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-fs.stop:
			return
		case <-ticker.C:
			fs.cleanupExpiredCache()
		}
	}
}

// 清理过期缓存
func (fs *FileStore) cleanupExpiredCache() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	now := time.Now()
	for path, entry := range fs.cache {
		if now.Sub(entry.Timestamp) > fs.cacheExpiry {
			delete(fs.cache, path)
		}
	}
}

// invalidateCache 清除指定路径的缓存
func (fs *FileStore) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	delete(fs.cache, path)
}

// normalizeFields 经 JSON 往返，使补丁与落盘数据形状一致
func normalizeFields(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(cleanFields(fields))
	if err != nil {
		return nil, fmt.Errorf("序列化文档失败: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("解析文档失败: %w", err)
	}
	return out, nil
}

// mergePatch 按 JSON merge patch 合并
func mergePatch(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		if pm, ok := v.(map[string]any); ok {
			dm, _ := dst[k].(map[string]any)
			dst[k] = mergePatch(dm, pm)
			continue
		}
		dst[k] = v
	}
	return dst
}

func sortDocuments(docs []Document, q Query) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if q.OrderBy != "" {
			if c := compareValues(a.Fields[q.OrderBy], b.Fields[q.OrderBy]); c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		} else if !a.CreateTime.Equal(b.CreateTime) {
			if q.Descending {
				return a.CreateTime.After(b.CreateTime)
			}
			return a.CreateTime.Before(b.CreateTime)
		}
		if !a.CreateTime.Equal(b.CreateTime) {
			return a.CreateTime.Before(b.CreateTime)
		}
		return a.ID < b.ID
	})
}

// compareValues 排序规则：缺失 < 数字 < 字符串 < 其他
func compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}

func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}
