// internal/storage/sqlite_store.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(collection, created_at);
`

// SQLiteStore 基于内嵌 SQLite 的文档存储，文档以 JSON 存在 data 列
type SQLiteStore struct {
	conn   *sql.DB
	path   string
	hub    *hub
	closed atomic.Bool
}

// OpenSQLite 打开（必要时创建）数据库并初始化表结构
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_pragma", "synchronous(normal)")
	conn, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if _, err := conn.Exec(sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	return &SQLiteStore{conn: conn, path: path, hub: newHub()}, nil
}

// Path 数据库文件路径
func (s *SQLiteStore) Path() string {
	return s.path
}

// Subscribe 订阅集合查询
func (s *SQLiteStore) Subscribe(ctx context.Context, q Query) (<-chan Snapshot, error) {
	return s.hub.subscribe(ctx, q, s.List)
}

// Get 读取单个文档
func (s *SQLiteStore) Get(ctx context.Context, docPath string) (Document, error) {
	collection, id, err := SplitDocPath(docPath)
	if err != nil {
		return Document{}, err
	}

	row := s.conn.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, docPath)
	}
	if err != nil {
		return Document{}, fmt.Errorf("读取文档失败: %w", err)
	}
	return doc, nil
}

// List 按查询排序列出集合中的全部文档
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	query := `SELECT id, data, created_at, updated_at FROM documents WHERE collection = ?`
	args := []any{q.Collection}
	if q.OrderBy == "" {
		query += fmt.Sprintf(` ORDER BY created_at %s, id`, dir)
	} else {
		query += fmt.Sprintf(` ORDER BY json_extract(data, ?) %s, created_at, id`, dir)
		args = append(args, "$."+q.OrderBy)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询集合失败: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("读取文档失败: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败: %w", err)
	}
	return docs, nil
}

// Create 在集合中创建文档，返回新 ID
func (s *SQLiteStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}

	data, err := json.Marshal(cleanFields(fields))
	if err != nil {
		return "", fmt.Errorf("序列化文档失败: %w", err)
	}

	id := uuid.NewString()
	now := formatTime(time.Now())
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(data), now, now); err != nil {
		return "", fmt.Errorf("写入文档失败: %w", err)
	}

	s.hub.notify(collection)
	return id, nil
}

// Update 合并字段到已有文档
func (s *SQLiteStore) Update(ctx context.Context, docPath string, fields map[string]any) error {
	return s.BatchUpdate(ctx, []Update{{Path: docPath, Fields: fields}})
}

// Delete 删除文档，文档不存在时不报错
func (s *SQLiteStore) Delete(ctx context.Context, docPath string) error {
	collection, id, err := SplitDocPath(docPath)
	if err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("删除文档失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.hub.notify(collection)
	}
	return nil
}

// BatchUpdate 在一个事务内应用全部更新
func (s *SQLiteStore) BatchUpdate(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}

	type target struct {
		collection, id string
		patch          string
		delete         bool
	}
	targets := make([]target, 0, len(updates))
	touched := make(map[string]struct{})
	for _, u := range updates {
		collection, id, err := SplitDocPath(u.Path)
		if err != nil {
			return err
		}
		if u.Delete {
			targets = append(targets, target{collection: collection, id: id, delete: true})
			touched[collection] = struct{}{}
			continue
		}
		patch, err := json.Marshal(cleanFields(u.Fields))
		if err != nil {
			return fmt.Errorf("序列化更新失败: %w", err)
		}
		targets = append(targets, target{collection: collection, id: id, patch: string(patch)})
		touched[collection] = struct{}{}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	for _, t := range targets {
		var res sql.Result
		if t.delete {
			res, err = tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`, t.collection, t.id)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE documents SET data = json_patch(data, ?), updated_at = ? WHERE collection = ? AND id = ?`,
				t.patch, now, t.collection, t.id)
		}
		if err != nil {
			return fmt.Errorf("更新文档失败: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("更新文档失败: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, DocPath(t.collection, t.id))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	collections := make([]string, 0, len(touched))
	for c := range touched {
		collections = append(collections, c)
	}
	sort.Strings(collections)
	s.hub.notify(collections...)
	return nil
}

// Close 结束订阅并关闭数据库
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.hub.close()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("⚠️ WAL checkpoint 失败: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("关闭数据库失败: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (Document, error) {
	var (
		doc                  Document
		data                 string
		createdAt, updatedAt string
	)
	if err := r.Scan(&doc.ID, &data, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}

	doc.Fields = make(map[string]any)
	if err := json.Unmarshal([]byte(data), &doc.Fields); err != nil {
		return Document{}, fmt.Errorf("解析文档 %s 失败: %w", doc.ID, err)
	}
	doc.CreateTime, _ = time.Parse(time.RFC3339Nano, createdAt)
	doc.UpdateTime, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return doc, nil
}

// 固定宽度，保证字符串排序与时间顺序一致
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
