// internal/reorder/order.go
package reorder

import "fmt"

// Assignment 单个条目的新顺序值
type Assignment struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Move 从完整列表中取出 from 位置的条目并插入到 to 位置，返回新切片
func Move(ids []string, from, to int) ([]string, error) {
	n := len(ids)
	if from < 0 || from >= n || to < 0 || to >= n {
		return nil, fmt.Errorf("index out of range: from=%d to=%d len=%d", from, to, n)
	}

	next := make([]string, 0, n)
	next = append(next, ids[:from]...)
	next = append(next, ids[from+1:]...)

	moved := ids[from]
	next = append(next, "")
	copy(next[to+1:], next[to:])
	next[to] = moved
	return next, nil
}

// Without 删除指定条目，其余条目保持相对顺序
func Without(ids []string, id string) []string {
	next := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			next = append(next, v)
		}
	}
	return next
}

// Assignments 按位置生成 0..N-1 的顺序值
func Assignments(ids []string) []Assignment {
	out := make([]Assignment, len(ids))
	for i, id := range ids {
		out[i] = Assignment{ID: id, Order: i}
	}
	return out
}

// IndexOf 返回条目位置，不存在时返回 -1
func IndexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
