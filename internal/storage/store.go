// internal/storage/store.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound 文档不存在
	ErrNotFound = errors.New("document not found")
	// ErrInvalidPath 集合或文档路径不合法
	ErrInvalidPath = errors.New("invalid path")
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("store closed")
)

// Document 一条文档记录
type Document struct {
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"update_time"`
}

// DataTo 将字段解码到 v
func (d Document) DataTo(v any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("序列化文档字段失败: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("解析文档字段失败: %w", err)
	}
	return nil
}

// FieldsOf 将结构体转换为字段映射，去掉 id
func FieldsOf(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化文档失败: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("文档必须是 JSON 对象: %w", err)
	}
	delete(fields, "id")
	return fields, nil
}

// Query 集合查询
type Query struct {
	Collection string
	// OrderBy 排序字段，为空时按创建时间
	OrderBy    string
	Descending bool
}

// Snapshot 订阅推送的完整结果集
type Snapshot struct {
	Docs []Document
	Err  error
	// At 开始读取的时间，用于丢弃比已知结果更旧的快照
	At time.Time
}

// Update 批量更新中的一项；Delete 为 true 时删除文档并忽略 Fields
type Update struct {
	Path   string
	Fields map[string]any
	Delete bool
}

// Store 有序文档存储
//
// 所有写操作提交后，订阅了对应集合的查询会收到新的完整快照。
// Update 按 JSON merge patch 合并字段，值为 nil 的字段被删除。
type Store interface {
	Subscribe(ctx context.Context, q Query) (<-chan Snapshot, error)
	Get(ctx context.Context, docPath string) (Document, error)
	List(ctx context.Context, q Query) ([]Document, error)
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, docPath string, fields map[string]any) error
	Delete(ctx context.Context, docPath string) error
	// BatchUpdate 原子执行更新和删除：任一目标不存在或写入失败时全部不生效
	BatchUpdate(ctx context.Context, updates []Update) error
	Close() error
}

var (
	segmentPattern   = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
	fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ProjectPath 项目文档路径
func ProjectPath(projectID string) string {
	return "projects/" + projectID
}

// CharactersPath 项目角色集合
func CharactersPath(projectID string) string {
	return ProjectPath(projectID) + "/characters"
}

// ScenesPath 剧本场景集合
func ScenesPath(projectID, screenplayID string) string {
	return ProjectPath(projectID) + "/screenplays/" + screenplayID + "/scenes"
}

// DocPath 拼接文档路径
func DocPath(collection, id string) string {
	return collection + "/" + id
}

// ValidateSegment 校验单个路径段
func ValidateSegment(s string) error {
	if !segmentPattern.MatchString(s) || strings.Contains(s, "..") {
		return fmt.Errorf("%w: segment %q", ErrInvalidPath, s)
	}
	return nil
}

// ValidateCollection 集合路径必须是奇数段
func ValidateCollection(collection string) error {
	parts := strings.Split(collection, "/")
	if len(parts)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, collection)
	}
	for _, p := range parts {
		if err := ValidateSegment(p); err != nil {
			return err
		}
	}
	return nil
}

// SplitDocPath 拆分文档路径为集合和 ID
func SplitDocPath(docPath string) (string, string, error) {
	idx := strings.LastIndex(docPath, "/")
	if idx <= 0 {
		return "", "", fmt.Errorf("%w: %q is not a document", ErrInvalidPath, docPath)
	}
	collection, id := docPath[:idx], docPath[idx+1:]
	if err := ValidateCollection(collection); err != nil {
		return "", "", err
	}
	if err := ValidateSegment(id); err != nil {
		return "", "", err
	}
	return collection, id, nil
}

func validateQuery(q Query) error {
	if err := ValidateCollection(q.Collection); err != nil {
		return err
	}
	if q.OrderBy != "" && !fieldNamePattern.MatchString(q.OrderBy) {
		return fmt.Errorf("%w: order field %q", ErrInvalidPath, q.OrderBy)
	}
	return nil
}

func cleanFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}
