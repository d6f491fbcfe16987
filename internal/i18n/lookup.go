// internal/i18n/lookup.go
package i18n

import "strings"

// Tree 语言包：嵌套的字符串映射
type Tree = map[string]any

// Lookup 按点分路径查找译文，找不到或不是字符串时返回 key 本身
func Lookup(tree Tree, key string) string {
	if s, ok := find(tree, key); ok {
		return s
	}
	return key
}

func find(tree Tree, key string) (string, bool) {
	if tree == nil || key == "" {
		return "", false
	}

	var node any = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return "", false
		}
		node, ok = m[part]
		if !ok {
			return "", false
		}
	}

	s, ok := node.(string)
	return s, ok
}

// mergeTrees 将 src 深度合并进 dst，src 优先
func mergeTrees(dst, src Tree) Tree {
	if dst == nil {
		dst = make(Tree)
	}
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			dm, _ := dst[k].(map[string]any)
			dst[k] = mergeTrees(dm, sm)
			continue
		}
		dst[k] = v
	}
	return dst
}

func cloneTree(t Tree) Tree {
	return mergeTrees(make(Tree), t)
}
