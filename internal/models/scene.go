// internal/models/scene.go
package models

import (
	"strings"
	"time"

	"github.com/Corphon/ScreenplayStudio/internal/heading"
)

// BlockType 剧本块类型
type BlockType string

const (
	BlockAction        BlockType = "action"
	BlockCharacter     BlockType = "character"
	BlockDialogue      BlockType = "dialogue"
	BlockParenthetical BlockType = "parenthetical"
	BlockShot          BlockType = "shot"
	BlockTransition    BlockType = "transition"
)

// Block 场景中的一个剧本块
type Block struct {
	Type BlockType `json:"type"`
	Text string    `json:"text"`
}

// Scene 表示剧本中的一场戏
type Scene struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	// Title 旧版标题字段，Heading 为空时使用
	Title     string    `json:"title,omitempty"`
	Order     int       `json:"order"`
	Blocks    []Block   `json:"blocks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayHeading 返回用于展示和分类的场景标题
func (s Scene) DisplayHeading() string {
	if strings.TrimSpace(s.Heading) != "" {
		return s.Heading
	}
	return s.Title
}

// SceneStats 场景计数
type SceneStats struct {
	Characters    int `json:"characters"`
	DialogueLines int `json:"dialogue_lines"`
	Shots         int `json:"shots"`
}

// Stats 统计不同角色数、对白行数和镜头数
func (s Scene) Stats() SceneStats {
	var stats SceneStats
	seen := make(map[string]struct{})
	for _, b := range s.Blocks {
		switch b.Type {
		case BlockCharacter:
			name := strings.ToLower(strings.TrimSpace(b.Text))
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				stats.Characters++
			}
		case BlockDialogue:
			stats.DialogueLines++
		case BlockShot:
			stats.Shots++
		}
	}
	return stats
}

// Matches 不区分大小写地在标题和块文本中搜索
func (s Scene) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(s.Heading), q) || strings.Contains(strings.ToLower(s.Title), q) {
		return true
	}
	for _, b := range s.Blocks {
		if strings.Contains(strings.ToLower(b.Text), q) {
			return true
		}
	}
	return false
}

// SceneView 返回给客户端的场景，附带派生字段
type SceneView struct {
	Scene
	DisplayHeading string             `json:"display_heading"`
	Descriptor     heading.Descriptor `json:"descriptor"`
	Badges         heading.Badges     `json:"badges"`
	Stats          SceneStats         `json:"stats"`
}

// NewSceneView 每次读取时重新分类标题
func NewSceneView(s Scene) SceneView {
	display := s.DisplayHeading()
	d := heading.Classify(display)
	return SceneView{
		Scene:          s,
		DisplayHeading: display,
		Descriptor:     d,
		Badges:         heading.BadgesFor(d),
		Stats:          s.Stats(),
	}
}

// SceneInput 创建或更新场景的请求体，nil 字段保持不变
type SceneInput struct {
	Heading *string  `json:"heading,omitempty"`
	Title   *string  `json:"title,omitempty"`
	Blocks  *[]Block `json:"blocks,omitempty"`
}

// Fields 转换为存储更新字段
func (in SceneInput) Fields() map[string]any {
	fields := make(map[string]any)
	if in.Heading != nil {
		fields["heading"] = *in.Heading
	}
	if in.Title != nil {
		fields["title"] = *in.Title
	}
	if in.Blocks != nil {
		blocks := *in.Blocks
		if blocks == nil {
			blocks = []Block{}
		}
		fields["blocks"] = blocks
	}
	return fields
}

// Empty 没有任何字段
func (in SceneInput) Empty() bool {
	return in.Heading == nil && in.Title == nil && in.Blocks == nil
}
