// internal/models/character.go
package models

import (
	"sort"
	"strings"
	"time"
)

// Character 表示剧本项目中的一个角色
type Character struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Age         int       `json:"age,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CharacterInput 创建或更新角色的请求体，nil 字段保持不变
type CharacterInput struct {
	Name        *string `json:"name,omitempty"`
	FullName    *string `json:"full_name,omitempty"`
	Description *string `json:"description,omitempty"`
	Age         *int    `json:"age,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// Fields 转换为存储更新字段
func (in CharacterInput) Fields() map[string]any {
	fields := make(map[string]any)
	if in.Name != nil {
		fields["name"] = strings.TrimSpace(*in.Name)
	}
	if in.FullName != nil {
		fields["full_name"] = *in.FullName
	}
	if in.Description != nil {
		fields["description"] = *in.Description
	}
	if in.Age != nil {
		fields["age"] = *in.Age
	}
	if in.Notes != nil {
		fields["notes"] = *in.Notes
	}
	return fields
}

// SortCharacters 按名称排序（忽略大小写），相同时按原名和 ID
func SortCharacters(chars []Character) {
	sort.SliceStable(chars, func(i, j int) bool {
		a, b := strings.ToLower(chars[i].Name), strings.ToLower(chars[j].Name)
		if a != b {
			return a < b
		}
		if chars[i].Name != chars[j].Name {
			return chars[i].Name < chars[j].Name
		}
		return chars[i].ID < chars[j].ID
	})
}
